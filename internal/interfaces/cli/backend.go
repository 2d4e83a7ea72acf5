package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/auth"
	"github.com/crosslist/backend/internal/infrastructure/config"
	"github.com/crosslist/backend/internal/infrastructure/event"
	infralog "github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/infrastructure/persistence"
	"github.com/crosslist/backend/internal/infrastructure/storage"
)

const slowQueryThreshold = 500 * time.Millisecond

// jobStore persists spawned retry jobs for the server's dispatcher to claim
type jobStore struct {
	jobs integration.JobRepository
}

func (s jobStore) Schedule(ctx context.Context, job *integration.Job) error {
	return s.jobs.Save(ctx, job)
}

// dbBackend talks to the database directly; the server picks up spawned jobs
type dbBackend struct {
	cfg *config.Config
	log *zap.Logger
	db  *persistence.Database
}

// DefaultLoader reads the config file and opens the database on first use
func DefaultLoader(log *zap.Logger) Loader {
	return func(configPath string) (Backend, error) {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		if log == nil {
			log = zap.NewNop()
		}
		return &dbBackend{cfg: cfg, log: log}, nil
	}
}

func (b *dbBackend) database() (*persistence.Database, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := persistence.NewDatabaseWithLogger(&b.cfg.Database, infralog.NewGormLogger(b.log, logger.Warn, slowQueryThreshold))
	if err != nil {
		return nil, err
	}
	b.db = db
	return db, nil
}

func (b *dbBackend) DeadLetters() (DeadLetterAdmin, error) {
	db, err := b.database()
	if err != nil {
		return nil, err
	}

	bus := event.NewInMemoryEventBus(b.log)
	bus.Subscribe(event.NewEscalationLogger(b.log))

	dl := b.cfg.DeadLetter
	svcCfg := deadletter.DefaultConfig()
	svcCfg.Retention = dl.Retention
	svcCfg.BulkBatchSize = dl.BulkBatchSize
	svcCfg.BulkPause = dl.BulkPause
	svcCfg.JobMaxAttempts = b.cfg.Scheduler.JobMaxAttempts

	opts := []deadletter.Option{
		deadletter.WithScheduler(jobStore{jobs: persistence.NewGormJobRepository(db.DB)}),
		deadletter.WithNotifier(deadletter.NewEventNotifier(bus, nil)),
	}
	if b.cfg.Storage.ArchiveEnabled {
		archive, err := storage.NewS3Archive(&b.cfg.Storage, storage.WithLogger(b.log))
		if err != nil {
			return nil, fmt.Errorf("dead letter archive: %w", err)
		}
		opts = append(opts, deadletter.WithArchiver(archive))
	}
	return deadletter.NewService(persistence.NewGormDeadLetterRepository(db.DB), svcCfg, b.log, opts...), nil
}

func (b *dbBackend) SyncJobs() (SyncJobReader, error) {
	db, err := b.database()
	if err != nil {
		return nil, err
	}
	return orchestration.NewSyncJobQueries(
		persistence.NewGormSyncJobRepository(db.DB),
		persistence.NewGormAuditLog(db.DB),
	), nil
}

func (b *dbBackend) Tokens() (TokenIssuer, error) {
	tokens, err := auth.NewTokenService(b.cfg.Admin, nil)
	if err != nil {
		return nil, fmt.Errorf("admin.jwt_secret: %w", err)
	}
	return tokens, nil
}

func (b *dbBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
