package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ruleengine/core"
	"ruleengine/rules"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (RULEENGINE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the rule database file (RULEENGINE_SQLITE_PATH, default: ${DataDir}/rules.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// AttributeConfig declares one catalog attribute
type AttributeConfig struct {
	Name string `mapstructure:"name" validate:"required,max=64"`
	Kind string `mapstructure:"kind" validate:"required,oneof=integer text"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// CatalogConfig lists the attributes rules may reference
type CatalogConfig struct {
	Attributes []AttributeConfig `mapstructure:"attributes" validate:"required,min=1,dive"`
}

// ParserConfig tunes the tokenizer and parser
type ParserConfig struct {
	// StrictLexing rejects characters no token matches instead of dropping them
	StrictLexing bool          `mapstructure:"strict_lexing"`
	MaxDepth     int           `mapstructure:"max_depth" validate:"min=1,max=1024"`
	MatchTimeout time.Duration `mapstructure:"match_timeout"`
}

// CacheConfig sizes the in-process tree cache
type CacheConfig struct {
	Size int           `mapstructure:"size" validate:"min=1"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// RedisConfig configures the optional shared tree cache
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0,max=15"`
	PoolSize int           `mapstructure:"pool_size" validate:"min=1"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig configures the API token bucket
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port" validate:"min=1,max=65535"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// TrustedProxies lists the IPs and CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty trusts no one.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyNets parses TrustedProxies. A bare IP becomes a single-host network.
func (c *APIConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: must be an IP address or CIDR", entry)
		}
		bits := 128
		if ip4 := ip.To4(); ip4 != nil {
			ip, bits = ip4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// Config holds all configuration for the rule engine
type Config struct {
	DataPaths DataPaths     `mapstructure:"data_paths"`
	Log       LogConfig     `mapstructure:"log"`
	Catalog   CatalogConfig `mapstructure:"catalog"`
	Parser    ParserConfig  `mapstructure:"parser"`
	Cache     CacheConfig   `mapstructure:"cache"`
	Redis     RedisConfig   `mapstructure:"redis"`
	API       APIConfig     `mapstructure:"api"`
}

var configValidator = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	v.SetDefault("log.level", "info")

	attrs := make([]map[string]interface{}, 0, len(core.DefaultAttributes))
	for _, a := range core.DefaultAttributes {
		attrs = append(attrs, map[string]interface{}{"name": a.Name, "kind": a.Kind.String()})
	}
	v.SetDefault("catalog.attributes", attrs)

	v.SetDefault("parser.strict_lexing", false)
	v.SetDefault("parser.max_depth", rules.DefaultMaxDepth)
	v.SetDefault("parser.match_timeout", rules.DefaultMatchTimeout)

	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.rate_limit.requests_per_second", 100)
	v.SetDefault("api.rate_limit.burst", 100)
	v.SetDefault("api.trusted_proxies", []string{})
}

// loadFromEnv sets up environment variable loading. Nested keys map to
// RULEENGINE_SECTION_KEY, e.g. RULEENGINE_API_PORT.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("RULEENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data_paths.data_dir", "RULEENGINE_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "RULEENGINE_SQLITE_PATH")
}

// LoadConfig loads configuration from a YAML file and environment variables.
// With an empty path, config.yaml is searched for in . and ./config and a
// missing file falls back to defaults. An explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// Validate checks field constraints and that the catalog can be built
func Validate(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return err
	}
	for _, a := range config.Catalog.Attributes {
		if !isAttributeName(a.Name) {
			return fmt.Errorf("invalid catalog attribute %q: names are letters and underscores and may not be AND or OR", a.Name)
		}
	}
	if _, err := config.BuildCatalog(); err != nil {
		return err
	}
	if config.API.Host != "" && net.ParseIP(config.API.Host) == nil && config.API.Host != "localhost" {
		return fmt.Errorf("invalid API host %q: must be an IP address or localhost", config.API.Host)
	}
	if _, err := config.API.TrustedProxyNets(); err != nil {
		return err
	}
	return nil
}

// isAttributeName reports whether name would lex as a single word token
func isAttributeName(name string) bool {
	if name == "" {
		return false
	}
	switch strings.ToUpper(name) {
	case "AND", "OR":
		return false
	}
	for _, r := range name {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// ResolveDataPaths derives the SQLite path from DataDir when not set explicitly
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	switch {
	case c.DataPaths.SQLitePath == "":
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "rules.db")
	case c.DataPaths.SQLitePath == ":memory:":
	case !filepath.IsAbs(c.DataPaths.SQLitePath):
		// Relative to the working directory, not data_dir
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		c.ResolveDataPaths()
	}
	return c.DataPaths.SQLitePath
}

// BuildCatalog converts the configured attributes into a catalog
func (c *Config) BuildCatalog() (*core.Catalog, error) {
	attrs := make([]core.Attribute, 0, len(c.Catalog.Attributes))
	for _, a := range c.Catalog.Attributes {
		kind, err := core.ParseKind(a.Kind)
		if err != nil {
			return nil, fmt.Errorf("catalog attribute %q: %w", a.Name, err)
		}
		attrs = append(attrs, core.Attribute{Name: a.Name, Kind: kind})
	}
	catalog, err := core.NewCatalog(attrs...)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return catalog, nil
}

// ParseOptions returns parser options for the configured tokenizer settings
func (c *Config) ParseOptions() []rules.ParseOption {
	tokenizer := rules.NewTokenizer(
		rules.WithStrict(c.Parser.StrictLexing),
		rules.WithMatchTimeout(c.Parser.MatchTimeout),
	)
	return []rules.ParseOption{
		rules.WithTokenizer(tokenizer),
		rules.WithMaxDepth(c.Parser.MaxDepth),
	}
}

// ListenAddr returns the host:port the API listens on
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}
