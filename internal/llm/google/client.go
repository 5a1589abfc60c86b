// Package google implements llm.Provider against Google's Gemini models.
// Gemini's native ResponseMIMEType/ResponseJsonSchema support is an exact
// fit for "llm_structured(prompt, schema) -> JSON": the model is
// constrained at generation time rather than merely asked nicely to
// produce JSON, which is what the Clusterer/Summarizer/Insights Generator
// need from a structured-output backend.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"chanalystd/internal/config"
	"chanalystd/internal/llm"
	"chanalystd/internal/observability"
)

// Client is a Gemini-backed llm.Provider.
type Client struct {
	client      *genai.Client
	model       string
	httpOptions genai.HTTPOptions
}

// New constructs a Client from GoogleConfig. httpClient may be nil, in
// which case http.DefaultClient is used.
func New(cfg config.GoogleConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}

	httpOpts := genai.HTTPOptions{}
	if cfg.Timeout > 0 {
		t := time.Duration(cfg.Timeout) * time.Second
		httpOpts.Timeout = &t
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}

	return &Client{client: client, model: model, httpOptions: httpOpts}, nil
}

// Structured asks Gemini to produce JSON conforming to schema. The schema
// is passed through as a raw JSON Schema document (the same
// ParametersJsonSchema shape Gemini's function-calling tools accept),
// avoiding a hand-maintained mirror of genai.Schema.
func (c *Client) Structured(ctx context.Context, prompt, schemaName string, schema llm.Schema) (json.RawMessage, error) {
	log := observability.LoggerWithTrace(ctx)

	cfg := &genai.GenerateContentConfig{
		HTTPOptions:        &c.httpOptions,
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: map[string]any(schema),
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("schema", schemaName).Dur("duration", dur).Msg("google_structured_error")
		return nil, &llm.TransientError{Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &llm.TransientError{Err: fmt.Errorf("google: empty response for schema %q", schemaName)}
	}
	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return nil, fmt.Errorf("%w: blocked (%s)", llm.ErrSchemaViolation, candidate.FinishReason)
	}
	if candidate.Content == nil {
		return nil, &llm.TransientError{Err: fmt.Errorf("google: nil content for schema %q", schemaName)}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: empty text response", llm.ErrSchemaViolation)
	}

	log.Debug().Str("model", c.model).Str("schema", schemaName).Dur("duration", dur).Msg("google_structured_ok")
	return json.RawMessage(text.String()), nil
}

var _ llm.Provider = (*Client)(nil)
