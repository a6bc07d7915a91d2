package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OSRM      OSRMConfig      `mapstructure:"osrm"`
	OpenCage  OpenCageConfig  `mapstructure:"opencage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`

	LookupStats LookupStatsConfig `mapstructure:"lookupstats"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	ReadTimeout    int    `mapstructure:"read_timeout"`
	WriteTimeout   int    `mapstructure:"write_timeout"`
	RequestTimeout int    `mapstructure:"request_timeout"`
	PublicDir      string `mapstructure:"public_dir"`
	AllowOrigins   string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxConns     int    `mapstructure:"max_conns"`
	QueryTimeout int    `mapstructure:"query_timeout"`
}

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type OSRMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"`
}

type OpenCageConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	OTLPAddr    string `mapstructure:"otlp_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// LookupStatsConfig configures the lookup event consumer (cmd/lookupstats).
type LookupStatsConfig struct {
	Port    int    `mapstructure:"port"`
	Durable string `mapstructure:"durable"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps keys onto the variable names used by existing deployments
// (docker-compose files ship POSTGRES_* and OPENCAGE_API_KEY).
var legacyEnv = map[string]string{
	"database.user":     "POSTGRES_USER",
	"database.password": "POSTGRES_PASSWORD",
	"database.dbname":   "POSTGRES_DB",
	"opencage.api_key":  "OPENCAGE_API_KEY",
}

// Section names a group of settings a binary depends on. Server, log and
// NATS settings are always validated; the rest only when requested.
type Section int

const (
	// Database is the PostGIS connection (api, migrate).
	Database Section = iota
	// Downstreams are the OSRM and OpenCage clients (api).
	Downstreams
	// LookupStats is the lookup event consumer (lookupstats).
	LookupStats
)

// Load reads configuration from file and environment variables and
// validates the common settings plus the given sections.
func Load(service string, sections ...Section) (*Config, error) {
	v := viper.New()

	// Defaults. Secrets deliberately have none.
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.request_timeout", 15)
	v.SetDefault("server.public_dir", "./public")
	v.SetDefault("server.allow_origins", "*")
	v.SetDefault("database.host", "postgres_db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.query_timeout", 10)
	v.SetDefault("osrm.base_url", "http://osrm_router:5000")
	v.SetDefault("osrm.timeout", 10)
	v.SetDefault("opencage.base_url", "https://api.opencagedata.com")
	v.SetDefault("opencage.api_key", "")
	v.SetDefault("opencage.timeout", 10)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("lookupstats.port", 5001)
	v.SetDefault("lookupstats.durable", "lookupstats")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: WAYLINE_DATABASE_HOST → database.host
	v.SetEnvPrefix("WAYLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "WAYLINE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(sections...); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the common settings and each given section, reporting
// every problem at once. A missing geocoding API key is not an error here;
// it is reported per request.
func (c *Config) Validate(sections ...Section) error {
	errs := c.validateCommon()
	for _, s := range sections {
		switch s {
		case Database:
			errs = append(errs, c.Database.validate()...)
		case Downstreams:
			errs = append(errs, c.validateDownstreams()...)
		case LookupStats:
			errs = append(errs, c.validateLookupStats()...)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateCommon() []string {
	var errs []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats.enabled is set")
	}
	return errs
}

func (d DatabaseConfig) validate() []string {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user is required")
	}
	if d.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if d.MaxConns <= 0 {
		errs = append(errs, "database.max_conns must be positive")
	}
	if d.QueryTimeout <= 0 {
		errs = append(errs, "database.query_timeout must be positive")
	}
	return errs
}

func (c *Config) validateDownstreams() []string {
	var errs []string
	if _, err := url.ParseRequestURI(c.OSRM.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("osrm.base_url is invalid: %q", c.OSRM.BaseURL))
	}
	if c.OSRM.Timeout <= 0 {
		errs = append(errs, "osrm.timeout must be positive")
	}
	if _, err := url.ParseRequestURI(c.OpenCage.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("opencage.base_url is invalid: %q", c.OpenCage.BaseURL))
	}
	if c.OpenCage.Timeout <= 0 {
		errs = append(errs, "opencage.timeout must be positive")
	}
	return errs
}

func (c *Config) validateLookupStats() []string {
	var errs []string
	if c.LookupStats.Port <= 0 || c.LookupStats.Port > 65535 {
		errs = append(errs, fmt.Sprintf("lookupstats.port must be 1-65535, got %d", c.LookupStats.Port))
	}
	if c.LookupStats.Durable == "" {
		errs = append(errs, "lookupstats.durable is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	return errs
}
