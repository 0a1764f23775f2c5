package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	NATS      NATSConfig      `yaml:"nats"`
	Processor ProcessorConfig `yaml:"processor"`
	Feed      FeedConfig      `yaml:"feed"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RegistryConfig struct {
	IDPrefix string `yaml:"id_prefix"` // Prefix of ids for imports created before upload
}

type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"` // Changes go to <subject>.<db>.<type>, commands to <subject>.cmd.<op>
	Commands      bool          `yaml:"commands"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// ProcessorConfig controls how changes are transformed before they are relayed
type ProcessorConfig struct {
	Enabled bool            `yaml:"enabled"`
	Script  string          `yaml:"script"` // Path to a JavaScript file exporting a transform function
	Rules   []TransformRule `yaml:"rules"`
}

// TransformRule filters and renames import fields for matching databases
type TransformRule struct {
	Database  string            `yaml:"database"` // Empty matches every database
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

// FeedConfig describes the server-side import jobs table followed through the binlog
type FeedConfig struct {
	Enabled  bool          `yaml:"enabled"`
	MySQL    MySQLConfig   `yaml:"mysql"`
	Binlog   BinlogConfig  `yaml:"binlog"`
	Schema   string        `yaml:"schema"`
	Table    string        `yaml:"table"`
	Database string        `yaml:"database"` // Registry database used when no database column is mapped
	Columns  ColumnMapping `yaml:"columns"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"`   // mysql, mariadb
	UseGTID  bool   `yaml:"use_gtid"` // Follow the binlog by GTID set instead of file:position
}

type BinlogConfig struct {
	PositionFile  string `yaml:"position_file"` // Holds "file:pos", or the executed GTID set when mysql.use_gtid is on
	StartPosition uint32 `yaml:"start_position"`
	StartGTID     string `yaml:"start_gtid"` // GTID set to start from when no position was saved
}

// ColumnMapping names the table columns holding each import field.
// Empty names are not read.
type ColumnMapping struct {
	ID       string `yaml:"id"`
	Database string `yaml:"database"`
	Name     string `yaml:"name"`
	Schema   string `yaml:"schema"`
	Status   string `yaml:"status"`
	Error    string `yaml:"error"`
	Loaded   string `yaml:"loaded"`
	Total    string `yaml:"total"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Registry.IDPrefix == "" {
		c.Registry.IDPrefix = "_new_"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "imports"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Feed.MySQL.Flavor == "" {
		c.Feed.MySQL.Flavor = "mysql"
	}
	if c.Feed.MySQL.Port == 0 {
		c.Feed.MySQL.Port = 3306
	}
	if c.Feed.Binlog.PositionFile == "" {
		c.Feed.Binlog.PositionFile = "binlog.pos"
	}
	if c.Feed.Columns.ID == "" {
		c.Feed.Columns.ID = "id"
	}
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Feed.Enabled {
		if c.Feed.Schema == "" || c.Feed.Table == "" {
			return fmt.Errorf("feed: schema and table are required")
		}
		if c.Feed.Database == "" && c.Feed.Columns.Database == "" {
			return fmt.Errorf("feed: either database or columns.database is required")
		}
		if c.Feed.MySQL.ServerID == 0 {
			return fmt.Errorf("feed: mysql.server_id is required")
		}
	}
	return nil
}
