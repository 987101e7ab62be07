package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/folioworks/lib-mediator/mediator/internal/nilcheck"
	"github.com/folioworks/lib-mediator/mediator/log"
	"github.com/folioworks/lib-mediator/mediator/outbox"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	dbOpenFn        = sql.Open
	runMigrationsFn = runMigrations

	dbNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Connection manages a singleton PostgreSQL connection for the outbox
// table, running the schema migration on first connect. Migration files
// are embedded, so deployments carry the outbox schema with the binary.
type Connection struct {
	DSN                string
	DatabaseName       string
	SkipMigrations     bool
	Logger             log.Logger
	MaxOpenConnections int
	MaxIdleConnections int

	db        *sql.DB
	connected bool
	mu        sync.RWMutex
}

func (conn *Connection) initDefaults() {
	if nilcheck.Interface(conn.Logger) {
		conn.Logger = log.NewNop()
	}

	if conn.MaxOpenConnections <= 0 {
		conn.MaxOpenConnections = defaultMaxOpenConns
	}

	if conn.MaxIdleConnections <= 0 {
		conn.MaxIdleConnections = defaultMaxIdleConns
	}
}

// Connect opens the database, applies pool limits, runs migrations and
// pings. Reconnecting closes the previous handle first.
func (conn *Connection) Connect(ctx context.Context) error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	return conn.connectLocked(ctx)
}

func (conn *Connection) connectLocked(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn.initDefaults()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	if conn.db != nil {
		if err := conn.closeLocked(); err != nil {
			conn.Logger.Log(ctx, log.LevelWarn, "failed to close previous connection before reconnect", log.Err(err))
		}
	}

	conn.Logger.Log(ctx, log.LevelInfo, "connecting to postgres")

	db, err := dbOpenFn("pgx", conn.DSN)
	if err != nil {
		sanitized := outbox.SanitizeErrorMessageForStorage(err.Error())
		conn.Logger.Log(ctx, log.LevelError, "failed to open postgres connection", log.String("error", sanitized))

		return fmt.Errorf("failed to open postgres connection: %s", sanitized)
	}

	var success bool

	defer func() {
		if !success {
			db.Close()
		}
	}()

	db.SetMaxOpenConns(conn.MaxOpenConnections)
	db.SetMaxIdleConns(conn.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if !conn.SkipMigrations {
		if err := runMigrationsFn(db, conn.DatabaseName, conn.Logger); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before ping: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		sanitized := outbox.SanitizeErrorMessageForStorage(err.Error())
		conn.Logger.Log(ctx, log.LevelError, "failed to ping postgres", log.String("error", sanitized))

		return fmt.Errorf("failed to ping postgres: %s", sanitized)
	}

	conn.db = db
	conn.connected = true

	conn.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	success = true

	return nil
}

// DB returns the underlying handle, connecting lazily if necessary.
func (conn *Connection) DB(ctx context.Context) (*sql.DB, error) {
	conn.mu.RLock()

	if conn.db != nil {
		db := conn.db
		conn.mu.RUnlock()

		return db, nil
	}

	conn.mu.RUnlock()

	conn.mu.Lock()
	defer conn.mu.Unlock()

	// Double-check after acquiring the write lock.
	if conn.db != nil {
		return conn.db, nil
	}

	if err := conn.connectLocked(ctx); err != nil {
		return nil, err
	}

	return conn.db, nil
}

// Close releases the database handle.
func (conn *Connection) Close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	return conn.closeLocked()
}

func (conn *Connection) closeLocked() error {
	if conn.db == nil {
		return nil
	}

	err := conn.db.Close()
	conn.db = nil
	conn.connected = false

	return err
}

// IsConnected reports whether the connection has been established.
func (conn *Connection) IsConnected() bool {
	conn.mu.RLock()
	defer conn.mu.RUnlock()

	return conn.connected
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name: %q", name)
	}

	return nil
}

func runMigrations(db *sql.DB, databaseName string, logger log.Logger) error {
	ctx := context.Background()

	if err := validateDBName(databaseName); err != nil {
		logger.Log(ctx, log.LevelError, "invalid database name for migration", log.Err(err))

		return err
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to load embedded migrations", log.Err(err))

		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		DatabaseName: databaseName,
		SchemaName:   "public",
	})
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create postgres migration driver", log.Err(err))

		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to create migration instance", log.Err(err))

		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(ctx, log.LevelInfo, "outbox schema up to date, skipping migrations")

			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			logger.Log(ctx, log.LevelError, "migration failed with dirty version", log.Int("version", dirtyErr.Version))

			return fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}

		logger.Log(ctx, log.LevelError, "migration failed", log.Err(err))

		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
