package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClient speaks the chat/completions API. Images travel as base64 data URLs.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     logger.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, log logger.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

func (c *OpenAIClient) Extract(ctx context.Context, req Request) (domain.ExtractedData, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	rid := uuid.New().String()
	start := time.Now()

	var userContent any = UserPrompt(req)
	if req.Variant == VariantImage {
		mime := req.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		userContent = []map[string]any{
			{"type": "text", "text": UserPrompt(req)},
			{"type": "image_url", "image_url": map[string]any{
				"url":    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
				"detail": "high",
			}},
		}
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": SystemPrompt(req.Spec)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Spec.JSONSchema())},
			{"role": "user", "content": userContent},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.logger.Error("oracle.openai.http_error", map[string]interface{}{
			"req_id": rid, "error": err.Error(), "elapsed_ms": time.Since(start).Milliseconds(),
		})
		return nil, errors.Wrap(errors.ErrOracle, err.Error())
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, errors.Wrap(errors.ErrOracle, "decode openai response: "+err.Error())
	}
	if len(cc.Choices) == 0 {
		return nil, errors.Wrap(errors.ErrOracle, "no choices in openai response")
	}

	data, dropped, err := req.Spec.Decode([]byte(cc.Choices[0].Message.Content))
	if err != nil {
		c.logger.Error("oracle.openai.schema_failed", map[string]interface{}{
			"req_id": rid, "error": err.Error(), "document_type": string(req.Spec.Type),
		})
		return nil, err
	}
	c.logger.Info("oracle.openai.ok", map[string]interface{}{
		"req_id":        rid,
		"model":         c.cfg.Model,
		"variant":       string(req.Variant),
		"document_type": string(req.Spec.Type),
		"fields":        len(data),
		"dropped":       dropped,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return data, nil
}

func (c *OpenAIClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, payload)
	}
	return payload, nil
}
