package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// dialect holds the statements that differ between the two databases
type dialect struct {
	driver string
	label  string
	schema []string
	upsert string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite3",
		label:  "SQLite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS extraction_cache (
				message_id TEXT PRIMARY KEY,
				result TEXT,
				cached_at TEXT NOT NULL,
				expires_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_expires_at ON extraction_cache(expires_at)`,
		},
		upsert: `INSERT OR REPLACE INTO extraction_cache (message_id, result, cached_at, expires_at)
			VALUES (?, ?, ?, ?)`,
	}

	mysqlDialect = dialect{
		driver: "mysql",
		label:  "MySQL",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS extraction_cache (
				message_id VARCHAR(255) PRIMARY KEY,
				result TEXT,
				cached_at VARCHAR(32) NOT NULL,
				expires_at VARCHAR(32) NOT NULL,
				INDEX idx_expires_at (expires_at)
			)`,
		},
		upsert: `INSERT INTO extraction_cache (message_id, result, cached_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				result = VALUES(result),
				cached_at = VALUES(cached_at),
				expires_at = VALUES(expires_at)`,
	}
)

// SQLCache is a database backed CacheRepository for SQLite or MySQL
type SQLCache struct {
	db          *sql.DB
	dialect     dialect
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewSQLiteCache opens a SQLite cache at dbPath
func NewSQLiteCache(dbPath string, logger *zap.Logger, cleanupFreq time.Duration) (*SQLCache, error) {
	return newSQLCache(sqliteDialect, dbPath, logger, cleanupFreq)
}

// NewMySQLCache opens a MySQL cache
func NewMySQLCache(dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*SQLCache, error) {
	return newSQLCache(mysqlDialect, dsn, logger, cleanupFreq)
}

func newSQLCache(d dialect, dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*SQLCache, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.label, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.label, err)
	}

	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create cache schema: %w", err)
		}
	}

	cache := &SQLCache{
		db:          db,
		dialect:     d,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	if cleanupFreq > 0 {
		go cache.startCleanupTask()
	}

	return cache, nil
}

// Get retrieves the cached outcome for a message
func (c *SQLCache) Get(ctx context.Context, messageID string) (*core.CacheEntry, error) {
	var result sql.NullString
	var cachedAt, expiresAt string

	err := c.db.QueryRowContext(ctx, `
		SELECT result, cached_at, expires_at
		FROM extraction_cache
		WHERE message_id = ? AND expires_at > ?
	`, messageID, formatTime(c.now())).Scan(&result, &cachedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	return decodeEntry(messageID, result, cachedAt, expiresAt)
}

// Set stores a cache entry, replacing any previous one for the message
func (c *SQLCache) Set(ctx context.Context, entry *core.CacheEntry) error {
	result, err := encodeResult(entry.Result)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, c.dialect.upsert,
		entry.MessageID, result, formatTime(entry.CachedAt), formatTime(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry
func (c *SQLCache) Delete(ctx context.Context, messageID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *SQLCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE expires_at <= ?`, formatTime(c.now()))
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rowsAffected))
	}
	return nil
}

func (c *SQLCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends the cleanup task and closes the database. Safe to call twice.
func (c *SQLCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close cache database", zap.String("dialect", c.dialect.label), zap.Error(err))
		}
	})
}
