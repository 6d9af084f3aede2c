package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"immoledger/server/internal/errs"
)

// Database owns the sqlite connection shared by the ledger, checkout and
// webhook components.
type Database struct {
	sqlDB      *sql.DB
	db         *gorm.DB
	logger     *logrus.Logger
	maxRetries int
	retryDelay time.Duration
}

// Option tunes a Database.
type Option func(*Database)

// WithRetry sets how many times a transaction is retried when sqlite
// reports the database busy or locked.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(d *Database) {
		d.maxRetries = maxRetries
		d.retryDelay = delay
	}
}

// WithLogger replaces the default JSON logger.
func WithLogger(l *logrus.Logger) Option {
	return func(d *Database) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDatabase opens the sqlite file at dbPath.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	return open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath), opts...)
}

// NewTestDB opens a private in-memory database named after name.
func NewTestDB(name string, opts ...Option) (*Database, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), opts...)
}

func open(dsn string, opts ...Option) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection keeps transactions from
	// tripping over each other's locks.
	sqlDB.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, err
	}

	gdb, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	d := &Database{
		sqlDB:      sqlDB,
		db:         gdb,
		maxRetries: 3,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logrus.New()
		d.logger.SetFormatter(&logrus.JSONFormatter{})
		d.logger.SetOutput(os.Stdout)
	}
	return d, nil
}

// GetDB returns the gorm handle for reads outside a transaction.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	return d.sqlDB.Close()
}

// Transact runs fn in a transaction, retrying when sqlite reports the
// database busy or locked. Any other error rolls back and is returned as is.
func (d *Database) Transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			d.logger.WithField("attempt", attempt).Warn("Retrying busy transaction")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}

		err = d.db.WithContext(ctx).Transaction(fn)
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return errs.Persistence("transaction", fmt.Errorf("failed after %d attempts: %w", d.maxRetries, err))
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// notFound maps gorm's missing-row error onto errs.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}
