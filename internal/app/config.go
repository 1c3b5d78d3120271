package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/districtscouts/roster/internal/database"
	"github.com/districtscouts/roster/internal/tsa"
	"github.com/districtscouts/roster/internal/workspace"
)

// Config represents the runtime configuration of the roster commands.
type Config struct {
	LogLevel    string          `mapstructure:"log_level"`
	LogEncoding string          `mapstructure:"log_encoding"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Workspace   WorkspaceConfig `mapstructure:"workspace"`
	TSA         TSAConfig       `mapstructure:"tsa"`
	Lock        LockConfig      `mapstructure:"lock"`
	Schedule    ScheduleConfig  `mapstructure:"schedule"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WorkspaceConfig configures access to the Google Workspace directory.
type WorkspaceConfig struct {
	Domain            string  `mapstructure:"domain"`
	CustomerID        string  `mapstructure:"customer_id"`
	AdminSubject      string  `mapstructure:"admin_subject"`
	CredentialsFile   string  `mapstructure:"credentials_file"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// TSAConfig configures the membership system API.
type TSAConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	DistrictID        string        `mapstructure:"district_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
}

// LockConfig selects where the batch lease is held.
type LockConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ScheduleConfig holds the cron specs used by `roster serve`. An empty spec disables the job.
type ScheduleConfig struct {
	ImportTSA          string `mapstructure:"import_tsa"`
	UpdateMailGroups   string `mapstructure:"update_mailing_groups"`
	SyncWorkspace      string `mapstructure:"sync_workspace"`
	SyncGroups         string `mapstructure:"sync_workspace_groups"`
	AuditRetention     string `mapstructure:"audit_retention"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// LoadConfigFile reads configuration from an explicit file path.
func LoadConfigFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/roster.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")

	v.SetDefault("workspace.domain", "")
	v.SetDefault("workspace.customer_id", "my_customer")
	v.SetDefault("workspace.admin_subject", "")
	v.SetDefault("workspace.credentials_file", "")
	v.SetDefault("workspace.requests_per_second", 10)

	v.SetDefault("tsa.base_url", "")
	v.SetDefault("tsa.api_key", "")
	v.SetDefault("tsa.district_id", "")
	v.SetDefault("tsa.requests_per_second", 4)
	v.SetDefault("tsa.timeout", "30s")
	v.SetDefault("tsa.retry_count", 2)

	v.SetDefault("lock.backend", "database")
	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl", "30m")

	v.SetDefault("schedule.import_tsa", "0 2 * * *")
	v.SetDefault("schedule.update_mailing_groups", "30 2 * * *")
	v.SetDefault("schedule.sync_workspace", "0 3 * * *")
	v.SetDefault("schedule.sync_workspace_groups", "30 3 * * *")
	v.SetDefault("schedule.audit_retention", "0 4 * * 0")
	v.SetDefault("schedule.audit_retention_days", 180)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9102")
	v.SetDefault("metrics.path", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Connection converts the section into database.Config.
func (c DatabaseConfig) Connection() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   c.Path,
		DSN:    c.DSN,
	}
	var auth DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql":
		auth = c.MySQL
	default:
		return cfg
	}
	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	return cfg
}

// ClientConfig converts the section into tsa.Config.
func (c TSAConfig) ClientConfig() tsa.Config {
	return tsa.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		DistrictID:        c.DistrictID,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
		RetryCount:        c.RetryCount,
	}
}

// ClientConfig converts the section into workspace.GoogleConfig.
func (c WorkspaceConfig) ClientConfig() workspace.GoogleConfig {
	return workspace.GoogleConfig{
		CredentialsFile:   c.CredentialsFile,
		Subject:           c.AdminSubject,
		Customer:          c.CustomerID,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Lock.Backend) {
	case "database":
	case "redis":
		if strings.TrimSpace(c.Lock.RedisURL) == "" {
			return errors.New("config: lock.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unsupported lock backend %q", c.Lock.Backend)
	}
	if c.Lock.TTL <= 0 {
		return errors.New("config: lock.ttl must be positive")
	}
	return nil
}
