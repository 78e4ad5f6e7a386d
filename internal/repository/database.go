package repository

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// NewSQLiteDB opens the embedded database at dbPath, creating its directory.
// SQLite allows one writer, so the pool is pinned to a single connection.
func NewSQLiteDB(dbPath string, logger *zap.Logger) (*sqlx.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("SQLite database opened", zap.String("db_path", dbPath))
	return db, nil
}

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to the database!")
	return db, nil
}

// Open connects to the configured backend.
func Open(dbType, pathOrURL string, logger *zap.Logger) (*sqlx.DB, error) {
	switch dbType {
	case "", TypeSQLite:
		return NewSQLiteDB(pathOrURL, logger)
	case TypePostgres:
		return NewPostgresDB(pathOrURL, logger)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// legacyColumns lists, per migration version, the posts columns that version
// introduces. Databases created before the ledger existed are stamped from it,
// see adoptLegacySchema.
var legacyColumns = []struct {
	version uint
	columns []string
}{
	{1, []string{"id", "text", "url", "judge_quote", "created_at"}},
	{2, []string{"author_username"}},
	{3, []string{"model_approved", "score", "updated_at"}},
	{4, []string{"human_decision"}},
	{5, []string{"gold_example_type", "gold_example_correction"}},
}

// legacyColumnTypes mirrors the column definitions of migrations 2-5. It is
// used to fill gaps in a legacy schema before stamping it.
var legacyColumnTypes = map[string]string{
	"author_username":         "TEXT",
	"model_approved":          "INTEGER",
	"score":                   "INTEGER NOT NULL DEFAULT 0",
	"updated_at":              "BIGINT",
	"human_decision":          "TEXT",
	"gold_example_type":       "TEXT",
	"gold_example_correction": "TEXT",
}

// legacyStatements holds the non-column parts of migrations 2-5.
var legacyStatements = map[uint][]string{
	5: {`CREATE INDEX IF NOT EXISTS idx_posts_gold_example ON posts(gold_example_type, updated_at)`},
}

// MigrateDB applies all pending schema migrations and returns the resulting
// version. Running it against an up-to-date schema changes nothing.
func MigrateDB(db *sqlx.DB, logger *zap.Logger) (uint, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		if err := adoptLegacySchema(db, m, logger); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, fmt.Errorf("couldn't read migration version: %w", err)
	case dirty:
		// Each step runs in a transaction, so a dirty version was rolled back.
		logger.Warn("Previous migration did not complete, retrying",
			zap.Uint("dirty_version", version))
		prev := int(version) - 1
		if prev < 1 {
			prev = database.NilVersion
		}
		if err := m.Force(prev); err != nil {
			return 0, fmt.Errorf("couldn't reset dirty migration: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("couldn't run database migration: %w", err)
	}

	version, _, err = m.Version()
	if err != nil {
		return 0, fmt.Errorf("couldn't read migration version: %w", err)
	}

	logger.Info("Database migration was run successfully", zap.Uint("version", version))
	return version, nil
}

// newMigrator builds a migrate instance over the embedded migration files.
// It is never closed: closing it would close db.
func newMigrator(db *sqlx.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("couldn't open migration source: %w", err)
	}

	var (
		driver database.Driver
		name   string
	)
	switch db.DriverName() {
	case "postgres":
		name = TypePostgres
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	default:
		name = TypeSQLite
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return nil, fmt.Errorf("couldn't create migrate instance: %w", err)
	}
	return m, nil
}

// adoptLegacySchema stamps a store created before the migration ledger with
// the highest version any of whose columns exist. Columns of earlier steps
// that are missing are added first, so a schema with gaps ends up exactly at
// the stamped version.
func adoptLegacySchema(db *sqlx.DB, m *migrate.Migrate, logger *zap.Logger) error {
	existing, err := postColumns(db)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	for _, col := range legacyColumns[0].columns {
		if !existing[col] {
			return fmt.Errorf("legacy posts table lacks column %s", col)
		}
	}

	var adopted uint
	for _, step := range legacyColumns {
		for _, col := range step.columns {
			if existing[col] {
				adopted = step.version
				break
			}
		}
	}

	var missing []string
	for _, step := range legacyColumns {
		if step.version > adopted {
			break
		}
		for _, col := range step.columns {
			if !existing[col] {
				missing = append(missing, col)
			}
		}
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("couldn't begin legacy schema backfill: %w", err)
	}
	defer tx.Rollback()

	for _, col := range missing {
		if _, err := tx.Exec(`ALTER TABLE posts ADD COLUMN ` + col + ` ` + legacyColumnTypes[col]); err != nil {
			return fmt.Errorf("couldn't add legacy column %s: %w", col, err)
		}
	}
	for v := uint(1); v <= adopted; v++ {
		for _, stmt := range legacyStatements[v] {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("couldn't backfill legacy schema step %d: %w", v, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit legacy schema backfill: %w", err)
	}

	logger.Info("Adopting schema created before the migration ledger",
		zap.Uint("version", adopted),
		zap.Strings("added_columns", missing))
	if err := m.Force(int(adopted)); err != nil {
		return fmt.Errorf("couldn't stamp legacy schema: %w", err)
	}
	return nil
}

func postColumns(db *sqlx.DB) (map[string]bool, error) {
	query := `SELECT name FROM pragma_table_info('posts')`
	if db.DriverName() == "postgres" {
		query = `SELECT column_name FROM information_schema.columns WHERE table_name = 'posts'`
	}

	var names []string
	if err := db.Select(&names, query); err != nil {
		return nil, fmt.Errorf("failed to inspect posts table: %w", err)
	}

	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}
	return cols, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
