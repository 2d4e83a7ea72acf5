package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures gorm query tracing
type DBTracingConfig struct {
	Enabled bool
	// DBSystem is reported as db.name, e.g. postgresql or sqlite
	DBSystem string
	// IncludeVariables keeps bound values in db.statement
	IncludeVariables bool
	// SlowQueryThreshold marks spans slower than this; 0 means 200ms
	SlowQueryThreshold time.Duration
}

type queryStartKey struct{}

// InstrumentDB installs the otelgorm plugin plus callbacks that tag slow and failed queries
func InstrumentDB(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("database tracing disabled")
		return nil
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.IncludeVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) {
		annotateQuerySpan(tx, cfg.SlowQueryThreshold)
	}

	cb := db.Callback()
	errs := []error{
		cb.Create().Before("gorm:create").Register("crosslist_timing:before_create", before),
		cb.Query().Before("gorm:query").Register("crosslist_timing:before_query", before),
		cb.Update().Before("gorm:update").Register("crosslist_timing:before_update", before),
		cb.Delete().Before("gorm:delete").Register("crosslist_timing:before_delete", before),
		cb.Row().Before("gorm:row").Register("crosslist_timing:before_row", before),
		cb.Raw().Before("gorm:raw").Register("crosslist_timing:before_raw", before),
		cb.Create().After("gorm:create").Register("crosslist_timing:after_create", after),
		cb.Query().After("gorm:query").Register("crosslist_timing:after_query", after),
		cb.Update().After("gorm:update").Register("crosslist_timing:after_update", after),
		cb.Delete().After("gorm:delete").Register("crosslist_timing:after_delete", after),
		cb.Row().After("gorm:row").Register("crosslist_timing:after_row", after),
		cb.Raw().After("gorm:raw").Register("crosslist_timing:after_raw", after),
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
	)
	return nil
}

func annotateQuerySpan(tx *gorm.DB, slow time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.RecordError(tx.Error)
		span.SetStatus(codes.Error, tx.Error.Error())
	}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > slow {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
