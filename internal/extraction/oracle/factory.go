package oracle

import (
	"context"
	"fmt"

	"taxdesk/pkg/config"
	"taxdesk/pkg/logger"
)

// New builds the configured provider. The returned func releases resources.
func New(ctx context.Context, cfg config.ExtractionConfig, log logger.Logger) (Oracle, func(), error) {
	switch cfg.Provider {
	case "openai":
		c := NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
			Timeout: cfg.OracleTimeout,
		}, log)
		return c, func() {}, nil
	case "gemini":
		c, err := NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.GeminiKey, Model: cfg.Model}, log)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown extraction provider %q", cfg.Provider)
}
