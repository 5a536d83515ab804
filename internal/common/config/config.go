package config

// Config is the full assistant configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	FollowUpBoss FollowUpBossConfig `mapstructure:"followupboss"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// OpenAIConfig configures the completion endpoint.
type OpenAIConfig struct {
	BaseURL                   string  `mapstructure:"base_url"`
	APIKey                    string  `mapstructure:"api_key"`
	Model                     string  `mapstructure:"model"`
	ClassificationTemperature float64 `mapstructure:"classification_temperature"`
	GenerationTemperature     float64 `mapstructure:"generation_temperature"`
	MaxTokens                 int     `mapstructure:"max_tokens"`
	Timeout                   int     `mapstructure:"timeout"` // milliseconds
	RequestsPerSecond         float64 `mapstructure:"requests_per_second"`
	Burst                     int     `mapstructure:"burst"`
}

// FollowUpBossConfig configures the CRM API.
type FollowUpBossConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type OrchestratorConfig struct {
	CallTimeout     int    `mapstructure:"call_timeout"` // milliseconds
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryBaseDelay  int    `mapstructure:"retry_base_delay"` // milliseconds
	WelcomeMessage  string `mapstructure:"welcome_message"`
	PlaceholderText string `mapstructure:"placeholder_text"`
	UnknownReply    string `mapstructure:"unknown_reply"`
}

type DatabaseConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls the CRM response cache.
type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	TTL       int    `mapstructure:"ttl"` // milliseconds
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CatalogConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

// ServerConfig is the health and metrics listener. An empty address disables it.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
