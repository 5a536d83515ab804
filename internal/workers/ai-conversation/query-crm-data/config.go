// internal/workers/ai-conversation/query-crm-data/config.go
package querycrmdata

// Config bounds what a dispatched read may ask for.
type Config struct {
	// MaxLimit caps a classifier supplied "limit" filter. Zero leaves it as is.
	MaxLimit int64
}

func LoadConfig() *Config {
	return &Config{
		MaxLimit: 100,
	}
}
