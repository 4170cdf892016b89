package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/sso-ticket-core/internal/migrate"
)

// TestDBConfig holds configuration for test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns default test database configuration.
// Defaults to port 55432 (local test DB from docker-compose test profile).
// CI/CD environments should set TEST_DB_PORT=5432 explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "sso"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "sso"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "sso"),
	}
}

// TestingTB is an interface that covers both *testing.T and *testing.B.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// SkipIfNoTestDB skips the test if test database is not available.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", buildBaseDSN(DefaultTestDBConfig()))
	if err != nil {
		if requireDB() {
			t.Fatal("Test database not available:", err)
		}
		t.Skip("Test database not available:", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("test db close failed: %v", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		if requireDB() {
			t.Fatal("Test database not available:", pingErr)
		}
		t.Skip("Test database not available:", pingErr)
	}
}

// buildBaseDSN constructs a base DSN without search_path.
func buildBaseDSN(cfg TestDBConfig) string {
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	sslMode := getEnvOrDefault("DB_SSL_MODE", "disable")
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.User, cfg.Password, hostPort, cfg.DBName, sslMode,
	)
}

// generateSchemaName creates a lowercase alphanumeric schema name with prefix.
func generateSchemaName() string {
	// 4 random bytes -> 8 hex chars
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fallback to time-based suffix if randomness fails
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func closeAndLog(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

// SetupEphemeralSchemaDB creates a unique schema per test, sets search_path to it, runs migrations,
// and registers cleanup to drop the schema after the test completes.
func SetupEphemeralSchemaDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	adminDB := openAdminDB(t)
	schema := createSchema(t, adminDB)
	db := openDBWithSchema(t, adminDB, schema)
	// Register cleanup before running migrations to ensure resources are released even if migrations fail.
	registerSchemaCleanup(t, schemaCleanupResources{
		adminDB: adminDB,
		db:      db,
		schema:  schema,
	})
	migrateSchema(t, db)
	return db
}

func openAdminDB(t TestingTB) *sql.DB {
	cfg := DefaultTestDBConfig()
	baseDSN := buildBaseDSN(cfg)
	adminDB, err := sql.Open("pgx", baseDSN)
	if err != nil {
		t.Fatal("Failed to open admin DB:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if pingErr := adminDB.PingContext(ctx); pingErr != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatal("Failed to ping admin DB:", pingErr)
	}
	return adminDB
}

func createSchema(t TestingTB, adminDB *sql.DB) string {
	schema := generateSchemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := adminDB.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatalf("Failed to create schema %s: %v", schema, err)
	}
	return schema
}

func openDBWithSchema(t TestingTB, adminDB *sql.DB, schema string) *sql.DB {
	cfg := DefaultTestDBConfig()
	baseDSN := buildBaseDSN(cfg)
	u, err := url.Parse(baseDSN)
	if err != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatal("Failed to parse DSN:", err)
	}
	q := u.Query()
	q.Set("search_path", schema+",public")
	u.RawQuery = q.Encode()
	dsnWithSchema := u.String()

	db, err := sql.Open("pgx", dsnWithSchema)
	if err != nil {
		closeAndLog(t, "admin DB", adminDB)
		t.Fatal("Failed to open schema-scoped DB:", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		closeAndLog(t, "schema DB", db)
		closeAndLog(t, "admin DB", adminDB)
		t.Fatal("Failed to ping schema-scoped DB:", pingErr)
	}
	return db
}

func migrateSchema(t TestingTB, db *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		closeAndLog(t, "schema DB", db)
		// Best-effort close of admin handle is handled by the cleanup we register; nothing to do here.
		t.Fatal("Failed to run migrations in ephemeral schema:", migrateErr)
	}
}

type schemaCleanupResources struct {
	adminDB *sql.DB
	db      *sql.DB
	schema  string
}

func registerSchemaCleanup(t TestingTB, resources schemaCleanupResources) {
	t.Logf("Using ephemeral schema: %s", resources.schema)
	tCleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		closeAndLog(t, "schema DB", resources.db)
		if _, err := resources.adminDB.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+resources.schema+" CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", resources.schema, err)
		}
		closeAndLog(t, "admin DB", resources.adminDB)
	}
	if tc, ok := any(t).(interface{ Cleanup(func()) }); ok {
		tc.Cleanup(tCleanup)
	} else {
		defer tCleanup()
	}
}

// WithEphemeralDB wraps SetupEphemeralSchemaDB and runs the provided function.
func WithEphemeralDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	db := SetupEphemeralSchemaDB(t)
	fn(db)
}

// getEnvOrDefault returns environment variable value or default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envBool parses common truthy values from env vars.
func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// Redis test utilities

// GetTestRedisAddr returns the appropriate Redis address for testing.
// It checks environment variables to determine if we're in CI or local development.
// Returns the address and whether Redis is available at that address.
func GetTestRedisAddr(t TestingTB) (string, bool) {
	t.Helper()

	// Check for CI environment variable (Vela CI sets REDIS_ADDR)
	if ciAddr := os.Getenv("REDIS_ADDR"); ciAddr != "" {
		return testRedisConnection(t, ciAddr)
	}

	// Try common CI Redis addresses
	ciAddresses := []string{
		"redis:6379",     // Docker Compose service name in CI
		"localhost:6379", // Alternative CI setup
	}

	for _, candidate := range ciAddresses {
		if validatedAddr, ok := testRedisConnection(t, candidate); ok {
			return validatedAddr, true
		}
	}

	// Default to local test Redis address
	return testRedisConnection(t, "localhost:56379")
}

// testRedisConnection tests if Redis is available at the given address.
func testRedisConnection(t TestingTB, addr string) (string, bool) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := client.Close(); err != nil {
			t.Logf("warning: failed to close redis client: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Logf("Redis not available at %s: %v", addr, err)
		return addr, false
	}

	return addr, true
}

// selectTestRedisDB chooses a Redis DB index for tests to avoid cross-package interference.
// Priority:
//  1. TEST_REDIS_DB env var if set and valid (>=0)
//  2. Reserve a DB in [1..15] by acquiring a lock key in a meta DB (DB 0) so FlushDB
//     in the selected test DB won't remove the reservation
//  3. Fallback to DB=1.
func selectTestRedisDB(t TestingTB, addr string) int {
	// Allow explicit override
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("Invalid TEST_REDIS_DB=%q, falling back to auto-select", v)
	}

	// Use a meta DB (DB 0) for reservation keys to avoid being wiped by FlushDB on test DBs
	meta := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer func() {
		if err := meta.Close(); err != nil {
			t.Logf("warning: failed to close redis meta client: %v", err)
		}
	}()

	for i := 1; i <= 15; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lockKey := fmt.Sprintf("sso:testutil:db_lock:%d", i)
		lockVal := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
		ok, err := meta.SetNX(ctx, lockKey, lockVal, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}

		registerRedisCleanup(t, addr, lockKey)
		t.Logf("Using Redis DB=%d for tests at %s", i, addr)
		return i
	}

	t.Logf("Falling back to Redis DB=1 for tests at %s", addr)
	return 1
}

func registerRedisCleanup(t TestingTB, addr, lockKey string) {
	tc, ok := any(t).(interface{ Cleanup(func()) })
	if !ok {
		return
	}

	tc.Cleanup(func() {
		c := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.Del(ctx2, lockKey).Err(); err != nil {
			t.Logf("warning: failed to release redis db lock %s: %v", lockKey, err)
		}
		cancel2()
		if err := c.Close(); err != nil {
			t.Logf("warning: failed to close redis cleanup client: %v", err)
		}
	})
}

// SetupTestRedis creates a Redis client for testing with automatic address detection.
// Tests will be skipped if Redis is not available.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, ok := GetTestRedisAddr(t)
	if !ok {
		if requireRedis() {
			t.Fatal("Redis not available for testing")
		}
		t.Skip("Redis not available for testing")
	}

	dbIndex := selectTestRedisDB(t, addr)
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIndex,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			t.Logf("warning: failed to close redis client after ping error: %v", cerr)
		}
		if requireRedis() {
			t.Fatalf("Redis not available for testing at %s: %v", addr, err)
		}
		t.Skipf("Redis not available for testing at %s: %v", addr, err)
	}

	// Clean up any existing test data
	client.FlushDB(ctx)

	return client
}
