package customer

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jonwraymond/tooldelegate/observe"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationsTable tracks applied migrations.
const migrationsTable = "schema_migrations"

// Migrate applies the embedded schema and seed migrations to the database at
// databaseURL. Cancelling ctx stops after the migration in progress.
func Migrate(ctx context.Context, databaseURL string, logger observe.Logger) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("customer: load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, MigrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("customer: create migrate instance: %w", err)
	}
	logger = observe.LoggerOrNop(logger)
	m.Log = &migrateLogger{ctx: ctx, logger: logger}
	defer func() { _, _ = m.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "stopping migration")
			m.GracefulStop <- true
		case <-done:
		}
	}()

	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("customer: migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info(ctx, "migrations applied",
		observe.Field{Key: "version", Value: version},
		observe.Field{Key: "dirty", Value: dirty},
		observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
	)
	return nil
}

// MigrateURL rewrites a postgres:// URL to the pgx5:// scheme the migration
// driver registers, and names the migrations table.
func MigrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			databaseURL = "pgx5://" + rest
			break
		}
	}
	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}
	return databaseURL + sep + "x-migrations-table=" + migrationsTable
}

type migrateLogger struct {
	ctx    context.Context
	logger observe.Logger
}

// Printf implements migrate.Logger.
func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(l.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Verbose implements migrate.Logger.
func (l *migrateLogger) Verbose() bool {
	return false
}
