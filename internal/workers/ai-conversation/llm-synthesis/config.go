// internal/workers/ai-conversation/llm-synthesis/config.go
package llmsynthesis

// Config holds the completion settings used for answer generation.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxListItems is how many records of a list the answer may detail.
	MaxListItems int
}

func LoadConfig() *Config {
	return &Config{
		MaxTokens:    500,
		Temperature:  0.7,
		MaxListItems: 5,
	}
}
