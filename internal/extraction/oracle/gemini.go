package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// generator is the slice of the Gemini API we use; stubbed in tests.
type generator interface {
	generate(ctx context.Context, system string, parts ...genai.Part) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	cfg    GeminiConfig
}

func (g *genaiGenerator) generate(ctx context.Context, system string, parts ...genai.Part) (string, error) {
	// Models are cheap handles; one per call keeps SystemInstruction race-free.
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetTemperature(g.cfg.Temperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in gemini response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini response has no text parts")
	}
	return b.String(), nil
}

// GeminiClient implements Oracle on Google's Gemini models.
type GeminiClient struct {
	client *genai.Client
	gen    generator
	model  string
	logger logger.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log logger.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		gen:    &genaiGenerator{client: client, cfg: cfg},
		model:  cfg.Model,
		logger: log,
	}, nil
}

// Close releases underlying resources.
func (c *GeminiClient) Close() {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Close(); err != nil {
		c.logger.Warn("oracle.gemini.close_failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *GeminiClient) Extract(ctx context.Context, req Request) (domain.ExtractedData, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	parts := []genai.Part{genai.Text(UserPrompt(req))}
	if req.Variant == VariantImage {
		parts = append(parts, genai.ImageData(imageFormat(req.MIMEType), req.Image))
	}

	system := SystemPrompt(req.Spec) + "\nJSON Schema:\n" + mustJSON(req.Spec.JSONSchema())
	text, err := c.gen.generate(ctx, system, parts...)
	if err != nil {
		c.logger.Error("oracle.gemini.failed", map[string]interface{}{
			"error": err.Error(), "elapsed_ms": time.Since(start).Milliseconds(),
		})
		return nil, errors.Wrap(errors.ErrOracle, err.Error())
	}

	data, dropped, err := req.Spec.Decode([]byte(text))
	if err != nil {
		c.logger.Error("oracle.gemini.schema_failed", map[string]interface{}{
			"error": err.Error(), "document_type": string(req.Spec.Type),
		})
		return nil, err
	}
	c.logger.Info("oracle.gemini.ok", map[string]interface{}{
		"model":         c.model,
		"variant":       string(req.Variant),
		"document_type": string(req.Spec.Type),
		"fields":        len(data),
		"dropped":       dropped,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return data, nil
}

// imageFormat maps a MIME type to the short form genai.ImageData expects.
func imageFormat(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	}
	return "png"
}
