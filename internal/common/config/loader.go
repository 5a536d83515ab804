package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultWelcomeMessage = "Hello! I'm your CRM Assistant. How can I help you today?"
	DefaultPlaceholder    = "..."
	DefaultUnknownReply   = "I'm sorry, I didn't understand that request. You can ask me about your leads, tasks or appointments."
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml when
// present and applies environment overrides. It returns the .env path that
// was loaded, if any.
func Load() (*Config, string, error) {
	envFile := loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, envFile, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	cfg, err := decode(v)
	return cfg, envFile, err
}

// LoadFromFile reads a single config file.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crm-assistant")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.classification_temperature", 0.2)
	v.SetDefault("openai.generation_temperature", 0.7)
	v.SetDefault("openai.max_tokens", 0)
	v.SetDefault("openai.timeout", 30000)
	v.SetDefault("openai.requests_per_second", 1.0)
	v.SetDefault("openai.burst", 3)

	v.SetDefault("followupboss.base_url", "https://api.followupboss.com/v1")
	v.SetDefault("followupboss.api_key", "")
	v.SetDefault("followupboss.timeout", 30000)

	v.SetDefault("orchestrator.call_timeout", 30000)
	v.SetDefault("orchestrator.max_retries", 1)
	v.SetDefault("orchestrator.retry_base_delay", 100)
	v.SetDefault("orchestrator.welcome_message", DefaultWelcomeMessage)
	v.SetDefault("orchestrator.placeholder_text", DefaultPlaceholder)
	v.SetDefault("orchestrator.unknown_reply", DefaultUnknownReply)

	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 60000)
	v.SetDefault("cache.key_prefix", "crm-assistant:fub:")

	v.SetDefault("catalog.registry_path", "")
	v.SetDefault("server.address", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
}

func loadEnvFile() string {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the short environment names.
func overrideEmptyConfig(cfg *Config) {
	if cfg.OpenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.OpenAI.APIKey = val
		}
	}
	if cfg.FollowUpBoss.APIKey == "" {
		for _, name := range []string{"FOLLOWUPBOSS_API_KEY", "FUB_API_KEY"} {
			if val := os.Getenv(name); val != "" {
				cfg.FollowUpBoss.APIKey = val
				break
			}
		}
	}
	if cfg.Database.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDRESS"); val != "" {
			cfg.Database.Redis.Address = val
		}
	}
}

func applyDefaults(cfg *Config) {
	cfg.OpenAI.BaseURL = strings.TrimRight(cfg.OpenAI.BaseURL, "/")
	cfg.FollowUpBoss.BaseURL = strings.TrimRight(cfg.FollowUpBoss.BaseURL, "/")

	if cfg.OpenAI.Timeout <= 0 {
		cfg.OpenAI.Timeout = 30000
	}
	if cfg.FollowUpBoss.Timeout <= 0 {
		cfg.FollowUpBoss.Timeout = 30000
	}
	if cfg.Orchestrator.CallTimeout <= 0 {
		cfg.Orchestrator.CallTimeout = 30000
	}
	if cfg.Orchestrator.MaxRetries < 0 {
		cfg.Orchestrator.MaxRetries = 0
	}
	if cfg.Orchestrator.RetryBaseDelay <= 0 {
		cfg.Orchestrator.RetryBaseDelay = 100
	}
	if cfg.Orchestrator.WelcomeMessage == "" {
		cfg.Orchestrator.WelcomeMessage = DefaultWelcomeMessage
	}
	if cfg.Orchestrator.PlaceholderText == "" {
		cfg.Orchestrator.PlaceholderText = DefaultPlaceholder
	}
	if cfg.Orchestrator.UnknownReply == "" {
		cfg.Orchestrator.UnknownReply = DefaultUnknownReply
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 60000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// validateConfig never echoes secret values.
func validateConfig(cfg *Config) error {
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required (set OPENAI_API_KEY)")
	}
	if cfg.FollowUpBoss.APIKey == "" {
		return fmt.Errorf("followupboss.api_key is required (set FOLLOWUPBOSS_API_KEY)")
	}
	if cfg.OpenAI.BaseURL == "" {
		return fmt.Errorf("openai.base_url is required")
	}
	if cfg.FollowUpBoss.BaseURL == "" {
		return fmt.Errorf("followupboss.base_url is required")
	}
	if cfg.OpenAI.Model == "" {
		return fmt.Errorf("openai.model is required")
	}
	for name, temp := range map[string]float64{
		"openai.classification_temperature": cfg.OpenAI.ClassificationTemperature,
		"openai.generation_temperature":     cfg.OpenAI.GenerationTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("%s must be within [0, 2], got %v", name, temp)
		}
	}
	if cfg.OpenAI.RequestsPerSecond < 0 {
		return fmt.Errorf("openai.requests_per_second must not be negative")
	}
	if cfg.Cache.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when cache.enabled is true")
	}
	return nil
}

// GetDuration converts a millisecond setting into a time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
