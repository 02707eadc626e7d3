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
	"strings"
	"time"

	// pgx registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jakub-figat/chromatin/internal/migrate"
)

// TestingTB is the subset of testing.TB the helpers rely on.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// TestDBConfig locates the Postgres instance used by integration tests.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads TEST_DB_* overrides, defaulting to the compose test profile on 55432.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "chromatin"),
		Password: envOr("TEST_DB_PASSWORD", "chromatin"),
		DBName:   envOr("TEST_DB_NAME", "chromatin"),
	}
}

// DSN renders the config as a pgx URL, optionally pinning search_path to schema.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", envOr("DB_SSL_MODE", "disable"))
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// truncateOrder lists tables children first; structures and jobs both reference sequences.
var truncateOrder = []string{"jobs", "sequence_structures", "sequences"}

// SkipIfNoTestDB skips (or fails, with TEST_REQUIRE_DB) when Postgres cannot be reached.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	db, err := openAndPing(DefaultTestDBConfig().DSN(""), 2*time.Second)
	if err != nil {
		unavailable(t, requireDB(), "test database not available: %v", err)
		return
	}
	closeQuietly(t, "probe db", db)
}

// WithAutoDB hands fn a migrated, empty database. With TEST_DB_EPHEMERAL set, each call gets
// its own schema that is dropped afterwards; otherwise the shared database is wiped around fn.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)
	if envBool("TEST_DB_EPHEMERAL") {
		db, drop := ephemeralSchemaDB(t)
		defer drop()
		fn(db)
		return
	}

	db := sharedDB(t)
	defer func() {
		wipe(t, db)
		closeQuietly(t, "test db", db)
	}()
	fn(db)
}

func sharedDB(t TestingTB) *sql.DB {
	t.Helper()
	db, err := openAndPing(DefaultTestDBConfig().DSN(""), 5*time.Second)
	if err != nil {
		t.Fatal("connect test database (is `docker compose --profile test up -d` running?):", err)
	}
	migrateOrFail(t, db)
	wipe(t, db)
	return db
}

func ephemeralSchemaDB(t TestingTB) (*sql.DB, func()) {
	t.Helper()
	cfg := DefaultTestDBConfig()

	admin, err := openAndPing(cfg.DSN(""), 5*time.Second)
	if err != nil {
		t.Fatal("connect admin database:", err)
	}
	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		closeQuietly(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Logf("using ephemeral schema %s", schema)

	db, err := openAndPing(cfg.DSN(schema), 10*time.Second)
	drop := func() {
		if db != nil {
			closeQuietly(t, "schema db", db)
		}
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if _, derr := admin.ExecContext(dctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); derr != nil {
			t.Logf("warning: drop schema %s: %v", schema, derr)
		}
		closeQuietly(t, "admin db", admin)
	}
	if err != nil {
		db = nil
		drop()
		t.Fatal("connect schema-scoped database:", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if mErr := runMigrations(db); mErr != nil {
		drop()
		t.Fatal("migrate ephemeral schema:", mErr)
	}
	return db, drop
}

func openAndPing(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return migrate.Run(ctx, db)
}

func migrateOrFail(t TestingTB, db *sql.DB) {
	t.Helper()
	if err := runMigrations(db); err != nil {
		closeQuietly(t, "test db", db)
		t.Fatal("run migrations:", err)
	}
}

func wipe(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range truncateOrder {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean table %s: %v", table, err)
		}
	}
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

func unavailable(t TestingTB, required bool, format string, args ...any) {
	t.Helper()
	if required {
		t.Fatalf(format, args...)
		return
	}
	t.Skipf(format, args...)
}

func closeQuietly(t TestingTB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("warning: close %s: %v", name, err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
