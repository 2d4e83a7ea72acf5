// Package integration provides integration testing utilities for the cross-listing backend.
// It uses testcontainers to spin up real PostgreSQL databases for testing.
package integration

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/infrastructure/migration"
	"github.com/crosslist/backend/internal/infrastructure/persistence"
)

var (
	// Shared container for all tests in a package
	sharedContainer    testcontainers.Container
	sharedContainerMu  sync.Mutex
	sharedContainerDSN string
)

// crosslistTables lists every table in child-first order
var crosslistTables = []string{
	"sync_audit_log",
	"sync_operations",
	"sync_jobs",
	"job_retry_attempts",
	"jobs",
	"dead_letter_entries",
	"poll_schedules",
	"listing_posts",
	"listings",
}

// TestDB represents a test database connection
type TestDB struct {
	DB        *gorm.DB
	SqlDB     *sql.DB
	Container testcontainers.Container
	DSN       string
	t         *testing.T
}

// NewSharedTestDB returns a connection to a package-wide PostgreSQL container.
// The schema is migrated once; callers clean the tables they touch.
func NewSharedTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	ctx := context.Background()

	if sharedContainer == nil {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("crosslist_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("admin123"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err, "Failed to start shared PostgreSQL container")

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "Failed to get connection string")

		sharedContainer = container
		sharedContainerDSN = dsn

		_, sqlDB := connectToDatabase(t, dsn)
		runMigrations(t, sqlDB)
		_ = sqlDB.Close()
	}

	db, sqlDB := connectToDatabase(t, sharedContainerDSN)
	testDB := &TestDB{
		DB:        db,
		SqlDB:     sqlDB,
		Container: sharedContainer,
		DSN:       sharedContainerDSN,
		t:         t,
	}
	testDB.CleanTables()

	t.Cleanup(func() {
		if testDB.SqlDB != nil {
			_ = testDB.SqlDB.Close()
		}
	})

	return testDB
}

// CleanTables truncates every cross-listing table
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()
	for _, table := range crosslistTables {
		err := tdb.DB.Exec("TRUNCATE TABLE " + table + " CASCADE").Error
		require.NoError(tdb.t, err, "Failed to truncate %s", table)
	}
}

// Repositories bundles the gorm repositories over the test database
type Repositories struct {
	Listings      *persistence.GormListingRepository
	SyncJobs      *persistence.GormSyncJobRepository
	Audit         *persistence.GormAuditLog
	Jobs          *persistence.GormJobRepository
	Attempts      *persistence.GormRetryAttemptRepository
	DeadLetters   *persistence.GormDeadLetterRepository
	PollSchedules *persistence.GormPollScheduleRepository
}

// Repositories builds every repository on the test connection
func (tdb *TestDB) Repositories() Repositories {
	return Repositories{
		Listings:      persistence.NewGormListingRepository(tdb.DB),
		SyncJobs:      persistence.NewGormSyncJobRepository(tdb.DB),
		Audit:         persistence.NewGormAuditLog(tdb.DB),
		Jobs:          persistence.NewGormJobRepository(tdb.DB),
		Attempts:      persistence.NewGormRetryAttemptRepository(tdb.DB),
		DeadLetters:   persistence.NewGormDeadLetterRepository(tdb.DB),
		PollSchedules: persistence.NewGormPollScheduleRepository(tdb.DB),
	}
}

// CreateTestListing saves a listing posted to the given marketplaces
func (tdb *TestDB) CreateTestListing(userID string, markets ...integration.MarketplaceID) *integration.Listing {
	tdb.t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	listing := &integration.Listing{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "Vintage denim jacket",
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range markets {
		listing.Posts = append(listing.Posts, integration.ListingPost{
			Marketplace: m,
			ExternalID:  string(m) + "-" + listing.ID.String()[:8],
			Status:      integration.PostStatusActive,
			UpdatedAt:   now,
		})
	}
	err := persistence.NewGormListingRepository(tdb.DB).Save(context.Background(), listing)
	require.NoError(tdb.t, err, "Failed to create test listing")
	return listing
}

func connectToDatabase(t *testing.T, dsn string) (*gorm.DB, *sql.DB) {
	t.Helper()

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "Failed to get underlying sql.DB")

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return db, sqlDB
}

func runMigrations(t *testing.T, sqlDB *sql.DB) {
	t.Helper()

	m, err := migration.New(sqlDB, zap.NewNop())
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, m.Up(), "Failed to run migrations")
}

// CleanupSharedContainer terminates the shared container
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		_ = sharedContainer.Terminate(context.Background())
		sharedContainer = nil
		sharedContainerDSN = ""
	}
}
