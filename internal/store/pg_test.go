package store

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// externalDSN builds a DSN from TEST_DB_* variables, for CI or a local database
func externalDSN() string {
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		return ""
	}

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host,
		env("TEST_DB_PORT", "5432"),
		env("TEST_DB_USER", "postgres"),
		env("TEST_DB_PASSWORD", "postgres"),
		env("TEST_DB_NAME", "test_db"))
}

func terminateContainer(ctx context.Context) {
	if pgContainer == nil {
		return
	}
	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
	}
}

// TestMain sets up the PostgreSQL database. In -short mode only the
// in-memory store is exercised.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	dsn := externalDSN()

	if dsn == "" {
		var err error
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}
	}

	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := initializeTestDatabase(db); err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	terminateContainer(ctx)
	os.Exit(code)
}

// initializeTestDatabase applies db/init_pg_db.sql
func initializeTestDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	schemaSQL, err := os.ReadFile(filepath.Join("..", "..", "db", "init_pg_db.sql")) //nolint:gosec,G304
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := sqlDB.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// initPGTestDB returns a store bound to a transaction that is rolled back
// when the test finishes
func initPGTestDB(t *testing.T) Store {
	return newPGTestStore(t)
}

func newPGTestStore(t *testing.T) PGStore {
	tx := testDB.Begin()
	require.NotNil(t, tx)
	require.NoError(t, tx.Error)

	t.Cleanup(func() {
		tx.Rollback()
	})

	return NewPGStore(tx)
}

func cleanupPGTestDB(t *testing.T) {}

func skipWithoutPG(t *testing.T) {
	if testDB == nil {
		t.Skip("PostgreSQL not available in short mode")
	}
}

// TestPostgreSQLStore runs the store contract against PostgreSQL
func TestPostgreSQLStore(t *testing.T) {
	skipWithoutPG(t)

	RunStoreTests(t, initPGTestDB, cleanupPGTestDB)
}

func TestPostgreSQLStore_BlockCursor(t *testing.T) {
	skipWithoutPG(t)
	ctx := context.Background()
	st := newPGTestStore(t)

	n, err := st.GetBlockCursor(ctx, "eip155:1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	require.NoError(t, st.SetBlockCursor(ctx, "eip155:1", 100))
	require.NoError(t, st.SetBlockCursor(ctx, "eip155:1", 250))

	n, err = st.GetBlockCursor(ctx, "eip155:1")
	require.NoError(t, err)
	assert.Equal(t, uint64(250), n)
}

func TestNormalizeConnectionPoolSettings(t *testing.T) {
	tests := []struct {
		name                 string
		open, idle           int
		lifetime, idleTime   time.Duration
		wantOpen, wantIdle   int
		wantLifetime, wantIT time.Duration
	}{
		{
			name:         "defaults",
			wantOpen:     10,
			wantIdle:     2,
			wantLifetime: 5 * time.Minute,
			wantIT:       10 * time.Minute,
		},
		{
			name:         "idle clamped to open",
			open:         3,
			idle:         8,
			lifetime:     time.Minute,
			idleTime:     time.Minute,
			wantOpen:     3,
			wantIdle:     3,
			wantLifetime: time.Minute,
			wantIT:       time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open, idle, lifetime, idleTime := NormalizeConnectionPoolSettings(tt.open, tt.idle, tt.lifetime, tt.idleTime)
			assert.Equal(t, tt.wantOpen, open)
			assert.Equal(t, tt.wantIdle, idle)
			assert.Equal(t, tt.wantLifetime, lifetime)
			assert.Equal(t, tt.wantIT, idleTime)
		})
	}
}

func TestCalculateSafeBatchSize(t *testing.T) {
	assert.Equal(t, 3, calculateSafeBatchSize(3, 5))
	assert.Equal(t, 12907, calculateSafeBatchSize(100000, 5))
	assert.Equal(t, 1, calculateSafeBatchSize(10, 100000))
}
