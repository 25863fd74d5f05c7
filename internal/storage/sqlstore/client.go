package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/qrlbk/IntegrityOS/internal/registry"
	"github.com/qrlbk/IntegrityOS/pkg/logger"
	"github.com/qrlbk/IntegrityOS/pkg/retry"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// idChunk keeps IN lists below the bind-variable limit of older sqlite builds.
const idChunk = 500

type Client struct {
	db       *sqlx.DB
	driver   string
	retryCfg retry.Config
}

func NewClient(driver, dsn string) (*Client, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; in-memory databases also live on a single connection.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Registry store initialized", zap.String("driver", driver))

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing handle; the dialect comes from db.DriverName().
func NewWithDB(db *sqlx.DB) *Client {
	return &Client{
		db:       db,
		driver:   db.DriverName(),
		retryCfg: retry.StorageConfig(isBusy, logger.GetLogger()),
	}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Driver() string {
	return c.driver
}

func (c *Client) InitSchema() error {
	schema := sqliteSchema
	if c.driver == DriverPostgres {
		schema = postgresSchema
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("Registry schema initialized", zap.String("driver", c.driver))
	return nil
}

func (c *Client) WithTx(ctx context.Context, fn func(tx registry.Tx) error) error {
	tx, err := retry.DoWithResult(ctx, c.retryCfg, func() (*sqlx.Tx, error) {
		return c.db.BeginTxx(ctx, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqliteDSN(dsn string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	if dsn == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + strings.TrimPrefix(dsn, "file:") + "?" + params
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
