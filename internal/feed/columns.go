package feed

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
)

// DSN builds a go-sql-driver DSN for the server hosting the import table
func DSN(cfg config.MySQLConfig) string {
	dsn := mysqldriver.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = cfg.Host + ":" + strconv.Itoa(cfg.Port)
	dsn.Timeout = 5 * time.Second
	return dsn.FormatDSN()
}

// SQLColumnLookup reads column names from INFORMATION_SCHEMA and caches them
type SQLColumnLookup struct {
	db     *sql.DB
	logger *logrus.Logger
	mu     sync.Mutex
	cache  map[string][]string // keyed by "schema.table"
}

// OpenColumnLookup opens a single-connection pool to the server
func OpenColumnLookup(cfg config.MySQLConfig, logger *logrus.Logger) (*SQLColumnLookup, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return NewColumnLookup(db, logger), nil
}

// NewColumnLookup wraps an existing connection pool
func NewColumnLookup(db *sql.DB, logger *logrus.Logger) *SQLColumnLookup {
	return &SQLColumnLookup{
		db:     db,
		logger: logger,
		cache:  make(map[string][]string),
	}
}

// Columns returns column names in ordinal order
func (l *SQLColumnLookup) Columns(schema, table string) ([]string, error) {
	cacheKey := schema + "." + table

	l.mu.Lock()
	defer l.mu.Unlock()

	if cols, ok := l.cache[cacheKey]; ok {
		return cols, nil
	}

	rows, err := l.db.Query(`
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	l.cache[cacheKey] = columns
	l.logger.Debugf("Fetched %d column names for %s", len(columns), cacheKey)
	return columns, nil
}

// Close closes the underlying pool
func (l *SQLColumnLookup) Close() {
	if l.db != nil {
		l.db.Close()
	}
}
