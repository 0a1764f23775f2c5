package main

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
	"import-tracker/internal/feed"
)

// MySQLChecker validates that the server hosting the import table can be followed
type MySQLChecker struct {
	cfg    *config.FeedConfig
	logger *logrus.Logger
}

// NewMySQLChecker creates a new MySQL checker
func NewMySQLChecker(cfg *config.FeedConfig, logger *logrus.Logger) *MySQLChecker {
	return &MySQLChecker{
		cfg:    cfg,
		logger: logger,
	}
}

// Check verifies connection, replication permissions, binlog settings and
// that the import table exists
func (c *MySQLChecker) Check() error {
	db, err := sql.Open("mysql", feed.DSN(c.cfg.MySQL))
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	c.logger.Info("Successfully connected to MySQL server")

	if err := c.checkGrants(db); err != nil {
		return err
	}
	if err := c.checkBinlog(db); err != nil {
		return err
	}
	return c.checkTable(db)
}

func (c *MySQLChecker) checkGrants(db *sql.DB) error {
	rows, err := db.Query("SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// MySQL 5.6
		rows, err = db.Query("SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	if missing := MissingPrivileges(grants); len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s",
			strings.Join(missing, ", "), strings.Join(grants, "; "))
	}

	c.logger.Info("All required permissions verified")
	return nil
}

// MissingPrivileges returns the replication privileges absent from grants
func MissingPrivileges(grants []string) []string {
	all := strings.ToUpper(strings.Join(grants, "; "))
	if strings.Contains(all, "ALL PRIVILEGES ON *.*") {
		return nil
	}

	var missing []string
	for _, priv := range []string{"REPLICATION SLAVE", "REPLICATION CLIENT", "SELECT"} {
		if !strings.Contains(all, priv) {
			missing = append(missing, priv)
		}
	}
	return missing
}

func (c *MySQLChecker) checkBinlog(db *sql.DB) error {
	var logBin string
	if err := db.QueryRow("SELECT @@log_bin").Scan(&logBin); err != nil {
		c.logger.Warn("Could not verify binlog status")
	} else if logBin == "0" || strings.EqualFold(logBin, "OFF") {
		return fmt.Errorf("binary logging (log_bin) is not enabled. Enable it in MySQL configuration")
	} else {
		c.logger.Info("Binary logging is enabled")
	}

	var binlogFormat string
	if err := db.QueryRow("SELECT @@binlog_format").Scan(&binlogFormat); err != nil {
		c.logger.Warn("Could not verify binlog format")
		return nil
	}
	if !strings.EqualFold(binlogFormat, "ROW") {
		return fmt.Errorf("binlog_format is '%s', ROW is required to follow import rows", binlogFormat)
	}
	c.logger.Info("binlog_format is set to ROW")
	return nil
}

func (c *MySQLChecker) checkTable(db *sql.DB) error {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, c.cfg.Schema, c.cfg.Table).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to look up import table: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("import table %s.%s does not exist", c.cfg.Schema, c.cfg.Table)
	}
	c.logger.Infof("Import table %s.%s found", c.cfg.Schema, c.cfg.Table)
	return nil
}
