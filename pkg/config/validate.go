// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	missing = append(missing, c.missingExtraction()...)

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// A synchronous process request must outlive the run it waits for.
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Extraction.RunTimeout {
		return fmt.Errorf("invalid configuration: SERVER_WRITE_TIMEOUT (%s) must exceed EXTRACTION_RUN_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Extraction.RunTimeout)
	}
	return nil
}

// ValidateExtraction checks only what the document pipeline needs. The CLI
// uses it when running extraction without a database.
func (c *Config) ValidateExtraction() error {
	if missing := c.missingExtraction(); len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) missingExtraction() []string {
	var missing []string
	switch c.Extraction.Provider {
	case "openai":
		if strings.TrimSpace(c.Extraction.OpenAIKey) == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "gemini":
		if strings.TrimSpace(c.Extraction.GeminiKey) == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		missing = append(missing, "EXTRACTION_PROVIDER (openai|gemini)")
	}
	if c.Extraction.ConfidenceThreshold <= 0 || c.Extraction.ConfidenceThreshold > 1 {
		missing = append(missing, "EXTRACTION_CONFIDENCE_THRESHOLD in (0,1]")
	}
	return missing
}
