// internal/workers/ai-conversation/parse-user-intent/config.go
package parseuserintent

// Config holds the completion settings used for classification calls.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

func LoadConfig() *Config {
	return &Config{
		Temperature: 0.2,
		MaxTokens:   300,
	}
}
