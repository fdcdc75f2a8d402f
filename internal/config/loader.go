package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/dbmigrator/internal/logging"
	"github.com/example/dbmigrator/internal/persistence"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DBMIGRATOR_"

// Config captures the settings of one migrator invocation.
type Config struct {
	ScriptsDir string `yaml:"scripts_dir"`
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Server     string `yaml:"server"`
	Database   string `yaml:"database"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Table      string `yaml:"table"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// Overrides holds values given on the command line keyed like the YAML file.
// Empty values are ignored.
type Overrides map[string]string

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then DBMIGRATOR_* environment variables, then
// overrides. Every missing or invalid key is reported in a single error.
func Load(path string, overrides Overrides) (Config, error) {
	cfg := Config{
		ScriptsDir: ".",
		Driver:     persistence.DriverSQLite,
		Table:      persistence.DefaultTable,
		LogLevel:   "info",
		LogFormat:  "text",
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	for key, field := range cfg.fields() {
		if value := strings.TrimSpace(os.Getenv(EnvPrefix + strings.ToUpper(key))); value != "" {
			*field = value
		}
	}

	fields := cfg.fields()
	unknown := make([]string, 0)
	for key, value := range overrides {
		field, ok := fields[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			*field = value
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Config{}, fmt.Errorf("unknown configuration keys: %s", strings.Join(unknown, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) fields() map[string]*string {
	return map[string]*string{
		"scripts_dir": &c.ScriptsDir,
		"driver":      &c.Driver,
		"dsn":         &c.DSN,
		"server":      &c.Server,
		"database":    &c.Database,
		"username":    &c.Username,
		"password":    &c.Password,
		"table":       &c.Table,
		"log_level":   &c.LogLevel,
		"log_format":  &c.LogFormat,
	}
}

// Validate reports missing and invalid keys.
func (c Config) Validate() error {
	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if strings.TrimSpace(c.ScriptsDir) == "" {
		missing = append(missing, "scripts_dir")
	}
	if c.DSN == "" && c.Database == "" {
		missing = append(missing, "dsn (or database)")
	}
	if c.Driver != persistence.DriverSQLite && c.Driver != persistence.DriverPostgres {
		invalid = append(invalid, "driver")
	}
	if persistence.ValidateTableName(c.Table) != nil {
		invalid = append(invalid, "table")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, "log_level")
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		invalid = append(invalid, "log_format")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required configuration values are missing: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// ResolvedDSN returns the DSN, deriving it from the discrete connection keys
// when none was given.
func (c Config) ResolvedDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == persistence.DriverSQLite {
		return c.Database
	}

	server := c.Server
	if server == "" {
		server = "localhost"
	}
	u := url.URL{Scheme: "postgres", Host: server, Path: "/" + c.Database}
	switch {
	case c.Username != "" && c.Password != "":
		u.User = url.UserPassword(c.Username, c.Password)
	case c.Username != "":
		u.User = url.User(c.Username)
	}
	return u.String()
}

// Persistence converts the configuration into database connection settings.
func (c Config) Persistence() persistence.Config {
	cfg := persistence.DefaultConfig(c.Driver, c.ResolvedDSN())
	cfg.Table = c.Table
	return cfg
}
