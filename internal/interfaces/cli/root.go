// Package cli implements crosslistctl, the operator command line for the
// dead-letter queue and sync jobs.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
)

// DeadLetterAdmin is the dead-letter surface the commands drive
type DeadLetterAdmin interface {
	Get(ctx context.Context, id uuid.UUID) (*integration.DeadLetterEntry, error)
	List(ctx context.Context, filter integration.DeadLetterFilter) ([]*integration.DeadLetterEntry, int64, error)
	PendingCount(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id uuid.UUID, req deadletter.ResolveRequest) (*deadletter.ResolveResult, error)
	BulkResolve(ctx context.Context, ids []uuid.UUID, req deadletter.ResolveRequest) (*deadletter.BulkResult, error)
	AutoCleanup(ctx context.Context) (deadletter.CleanupResult, error)
}

// SyncJobReader reads sync jobs and their audit trail
type SyncJobReader interface {
	GetSyncJob(ctx context.Context, id uuid.UUID) (*integration.SyncJob, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]integration.AuditRecord, error)
}

// TokenIssuer signs operator tokens
type TokenIssuer interface {
	Issue(operator string, scopes []string, ttl time.Duration) (string, time.Time, error)
}

// Backend opens what the commands need on first use
type Backend interface {
	DeadLetters() (DeadLetterAdmin, error)
	SyncJobs() (SyncJobReader, error)
	Tokens() (TokenIssuer, error)
	Close() error
}

// Loader builds a Backend from the config file path ("" searches the defaults)
type Loader func(configPath string) (Backend, error)

// app carries global flags and the lazily loaded backend
type app struct {
	loader     Loader
	configPath string
	output     string
	operator   string
	backend    Backend
}

func (a *app) open() (Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := a.loader(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load backend: %w", err)
	}
	a.backend = b
	return b, nil
}

func (a *app) close() error {
	if a.backend == nil {
		return nil
	}
	err := a.backend.Close()
	a.backend = nil
	return err
}

// NewRootCommand builds the crosslistctl command tree
func NewRootCommand(loader Loader) *cobra.Command {
	a := &app{loader: loader}

	root := &cobra.Command{
		Use:           "crosslistctl",
		Short:         "Operate the crosslist dead-letter queue and sync jobs",
		Version:       telemetry.ServiceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != outputTable && a.output != outputJSON {
				return fmt.Errorf("unknown output format %q (want %s or %s)", a.output, outputTable, outputJSON)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config.toml)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table or json")
	root.PersistentFlags().StringVar(&a.operator, "operator", "", "operator name recorded with resolutions")

	root.AddCommand(deadLetterCmd(a))
	root.AddCommand(syncJobCmd(a))
	root.AddCommand(tokenCmd(a))
	return root
}

// Execute runs the root command with ctx
func Execute(ctx context.Context, loader Loader) error {
	return NewRootCommand(loader).ExecuteContext(ctx)
}
