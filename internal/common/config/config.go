package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/chatline/internal/common/cnst"
	"github.com/amoylab/chatline/pkg/helper"
	"github.com/amoylab/chatline/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// ChatlineConfig represents the chatline process configuration
	ChatlineConfig struct {
		PID       string          `yaml:"pid"`
		Logger    LoggerConfig    `yaml:"logger"`
		Token     TokenConfig     `yaml:"token"`
		Transport TransportConfig `yaml:"transport"`
		Session   SessionConfig   `yaml:"session"`
		HTTP      HTTPConfig      `yaml:"http"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   trace.Config    `yaml:"tracing"`
	}

	// TokenConfig represents the session token provider configuration
	TokenConfig struct {
		Type        string        `yaml:"type"`         // "http" or "jwt"
		Endpoint    string        `yaml:"endpoint"`     // token endpoint URL for the http provider
		TokenPath   string        `yaml:"token_path"`   // gjson path of the token in the endpoint response
		AccessToken string        `yaml:"access_token"` // app credential sent as bearer token to the endpoint
		Timeout     time.Duration `yaml:"timeout"`      // request timeout for the http provider
		Secret      string        `yaml:"secret"`       // HMAC secret for the jwt provider
		TTL         time.Duration `yaml:"ttl"`          // lifetime of minted jwt tokens
		Issuer      string        `yaml:"issuer"`       // issuer claim of minted jwt tokens
	}

	// TransportConfig represents the real-time backend configuration
	TransportConfig struct {
		Type  string               `yaml:"type"` // "memory" or "redis"
		Redis TransportRedisConfig `yaml:"redis"`
	}

	// TransportRedisConfig represents the Redis configuration for the real-time backend
	TransportRedisConfig struct {
		ClusterType string `yaml:"cluster_type"` // single, sentinel, cluster
		Addr        string `yaml:"addr"`         // comma or semicolon separated
		MasterName  string `yaml:"master_name"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		Prefix      string `yaml:"prefix"`
		Topic       string `yaml:"topic"`
	}

	// SessionConfig represents the conversation session manager configuration
	SessionConfig struct {
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		QueryLimit     int           `yaml:"query_limit"`   // max conversations per channel query
		MessageLimit   int           `yaml:"message_limit"` // max messages loaded when watching a conversation
		Language       string        `yaml:"language"`      // label language, e.g. "en", "zh"
		Translations   string        `yaml:"translations"`  // optional directory of .toml files overlaying the built-in labels
	}

	// HTTPConfig represents the HTTP surface configuration
	HTTPConfig struct {
		Addr  string `yaml:"addr"`
		Admin bool   `yaml:"admin"` // mount the /admin routes for seeding channels and messages
	}

	// MetricsConfig represents the prometheus metrics configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Path      string    `yaml:"path"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*ChatlineConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg ChatlineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	SetDefaults(&cfg)
	return &cfg, cfgPath, nil
}

// SetDefaults fills unset fields with their default values
func SetDefaults(cfg *ChatlineConfig) {
	if cfg.PID == "" {
		cfg.PID = "chatline.pid"
	}
	if cfg.Token.Type == "" {
		cfg.Token.Type = cnst.TokenTypeHTTP
	}
	if cfg.Token.TokenPath == "" {
		cfg.Token.TokenPath = "token"
	}
	if cfg.Token.Timeout <= 0 {
		cfg.Token.Timeout = 10 * time.Second
	}
	if cfg.Token.TTL <= 0 {
		cfg.Token.TTL = time.Hour
	}
	if cfg.Token.Issuer == "" {
		cfg.Token.Issuer = cnst.AppName
	}

	if cfg.Transport.Type == "" {
		cfg.Transport.Type = cnst.TransportTypeMemory
	}
	if cfg.Transport.Redis.ClusterType == "" {
		cfg.Transport.Redis.ClusterType = cnst.RedisClusterTypeSingle
	}
	if cfg.Transport.Redis.Prefix == "" {
		cfg.Transport.Redis.Prefix = cnst.AppName
	}
	if cfg.Transport.Redis.Topic == "" {
		cfg.Transport.Redis.Topic = cfg.Transport.Redis.Prefix + ":events"
	}

	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = 15 * time.Second
	}
	if cfg.Session.QueryLimit <= 0 {
		cfg.Session.QueryLimit = 30
	}
	if cfg.Session.MessageLimit <= 0 {
		cfg.Session.MessageLimit = 100
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = cnst.LangDefault
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":5236"
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cnst.AppName
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cnst.AppName
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
