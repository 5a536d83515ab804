package orchestrator

import (
	"time"

	"crm-assistant/internal/common/config"
)

// Config controls turn handling.
type Config struct {
	CallTimeout     time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	WelcomeMessage  string
	PlaceholderText string
	UnknownReply    string
}

func DefaultConfig() Config {
	return Config{
		CallTimeout:     30 * time.Second,
		MaxRetries:      1,
		RetryBaseDelay:  100 * time.Millisecond,
		WelcomeMessage:  config.DefaultWelcomeMessage,
		PlaceholderText: config.DefaultPlaceholder,
		UnknownReply:    config.DefaultUnknownReply,
	}
}

// ConfigFrom converts the orchestrator section of the application config.
// Zero values keep their defaults, except MaxRetries where zero disables
// retries.
func ConfigFrom(c config.OrchestratorConfig) Config {
	out := DefaultConfig()
	if c.CallTimeout > 0 {
		out.CallTimeout = config.GetDuration(c.CallTimeout)
	}
	if c.MaxRetries >= 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.RetryBaseDelay > 0 {
		out.RetryBaseDelay = config.GetDuration(c.RetryBaseDelay)
	}
	if c.WelcomeMessage != "" {
		out.WelcomeMessage = c.WelcomeMessage
	}
	if c.PlaceholderText != "" {
		out.PlaceholderText = c.PlaceholderText
	}
	if c.UnknownReply != "" {
		out.UnknownReply = c.UnknownReply
	}
	return out
}
