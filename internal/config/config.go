package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "GREATX"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config" json:"basic_config"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases" json:"databases"`
	Redis       RedisConfig               `mapstructure:"redis" json:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" json:"providers"`
	Assistant   AssistantConfig           `mapstructure:"assistant" json:"assistant"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Model   string `mapstructure:"model" json:"model"`
	APIKey  string `mapstructure:"api_key" json:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `mapstructure:"server_address" json:"server_address"`
	Database          string `mapstructure:"database" json:"database"`
	MinWorkers        int    `mapstructure:"min_workers" json:"min_workers"`
	MaxWorkers        int    `mapstructure:"max_workers" json:"max_workers"`
	QueueSize         int    `mapstructure:"queue_size" json:"queue_size"`
	WorkerIdleTimeout int    `mapstructure:"worker_idle_timeout" json:"worker_idle_timeout"` // minutes
	StateIdleTTL      int    `mapstructure:"state_idle_ttl" json:"state_idle_ttl"`           // minutes
	CleanupSchedule   string `mapstructure:"cleanup_schedule" json:"cleanup_schedule"`
	TokenTTL          int    `mapstructure:"token_ttl" json:"token_ttl"` // hours
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn" json:"dsn"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	DBName   string `mapstructure:"db_name" json:"db_name"`
	Params   string `mapstructure:"params" json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// AssistantConfig selects the capabilities used to answer turns.
type AssistantConfig struct {
	ChatProvider string `mapstructure:"chat_provider" json:"chat_provider"`
	ImageModel   string `mapstructure:"image_model" json:"image_model"`
	AspectRatio  string `mapstructure:"aspect_ratio" json:"aspect_ratio"`
	Persona      string `mapstructure:"persona" json:"persona"`
	Timeout      int    `mapstructure:"timeout" json:"timeout"` // seconds
}

// DefaultPersona is the system instruction sent with every chat completion.
const DefaultPersona = "You are GreatX AI, a helpful and intelligent AI assistant. You can speak many languages. " +
	"If the user asks for an image and you cannot generate it (because the request wasn't caught by the image generator), " +
	"politely ask them to start their request with 'Generate an image of...' or 'Draw...'. " +
	"Do not attempt to describe the image in text as if you generated it."

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.database", "sqlite3")
	v.SetDefault("basic_config.min_workers", 2)
	v.SetDefault("basic_config.max_workers", 16)
	v.SetDefault("basic_config.queue_size", 128)
	v.SetDefault("basic_config.worker_idle_timeout", 5)
	v.SetDefault("basic_config.state_idle_ttl", 60)
	v.SetDefault("basic_config.cleanup_schedule", "@every 10m")
	v.SetDefault("basic_config.token_ttl", 24)

	v.SetDefault("databases.sqlite3.dsn", "greatx.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("providers.gemini.model", "gemini-3-flash-preview")
	v.SetDefault("providers.gemini.api_key", "")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.claude.api_key", "")

	v.SetDefault("assistant.chat_provider", "gemini")
	v.SetDefault("assistant.image_model", "gemini-2.5-flash-image")
	v.SetDefault("assistant.aspect_ratio", "1:1")
	v.SetDefault("assistant.persona", DefaultPersona)
	v.SetDefault("assistant.timeout", 120)
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is tolerated so the service can run on env vars alone.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("providers.gemini.api_key", envPrefix+"_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(absPath); explicit || !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" &&
		!strings.HasPrefix(sqliteCfg.DSN, "file:") && !filepath.IsAbs(sqliteCfg.DSN) {
		sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
		cfg.Databases["sqlite3"] = sqliteCfg
	}
	if _, ok := cfg.Databases[cfg.BasicConfig.Database]; !ok {
		return nil, fmt.Errorf("database config for %s not found", cfg.BasicConfig.Database)
	}
	if _, ok := cfg.Providers[cfg.Assistant.ChatProvider]; !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.Assistant.ChatProvider)
	}

	return &cfg, nil
}
