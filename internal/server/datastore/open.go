package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/volunteerhub/internal/logging"
	"github.com/dmitrijs2005/volunteerhub/internal/server/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// seam for tests
var gooseUpContext = goose.UpContext

type openOptions struct {
	logger logging.Logger
}

type Option func(*openOptions)

// WithLogger sends migration progress to l. Without it migrations are quiet.
func WithLogger(l logging.Logger) Option {
	return func(o *openOptions) { o.logger = l }
}

// Open connects to the database named by driver ("sqlite" or "postgres"),
// brings its schema up to date and returns a ready store.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	o := openOptions{logger: logging.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		sqlDriver    string
		gooseDialect string
		dialect      Dialect
	)
	switch driver {
	case "sqlite", "sqlite3":
		sqlDriver, gooseDialect, dialect = "sqlite", "sqlite3", DialectSQLite
		dsn = sqliteDSN(dsn)
	case "postgres", "pgx":
		sqlDriver, gooseDialect, dialect = "pgx", "pgx", DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := RunMigrations(ctx, db, gooseDialect, string(dialect), o.logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return NewSQLStore(db, dialect), nil
}

// sqliteDSN turns on foreign keys unless the DSN already sets pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// RunMigrations applies the embedded migrations found in dir, logging
// progress to logger.
func RunMigrations(ctx context.Context, db *sql.DB, gooseDialect, dir string, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Nop{}
	}
	goose.SetLogger(&migrationLogger{ctx: ctx, logger: logger.With("module", "migrations")})
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	if err := gooseUpContext(ctx, db, dir); err != nil {
		return err
	}

	return nil
}

// migrationLogger adapts logging.Logger to goose.Logger.
type migrationLogger struct {
	ctx    context.Context
	logger logging.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	m.logger.Info(m.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf logs and panics instead of exiting the process.
func (m *migrationLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	m.logger.Error(m.ctx, msg)
	panic(msg)
}
