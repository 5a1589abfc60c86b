// Package openai implements llm.Provider against any OpenAI-compatible
// chat completions endpoint (OpenAI itself, or a self-hosted gateway
// reachable at BaseURL), using Structured Outputs' json_schema response
// format so the model's response is constrained rather than merely
// requested. Selected by config.LLMConfig.Provider == "openai" as an
// alternate backend to the primary Gemini provider.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"chanalystd/internal/config"
	"chanalystd/internal/llm"
	"chanalystd/internal/observability"
)

// Client is an OpenAI-compatible llm.Provider.
type Client struct {
	sdk   sdk.Client
	model string
}

// New constructs a Client from OpenAIConfig. httpClient may be nil.
func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

// Structured issues a single chat completion constrained to schema via
// Structured Outputs (response_format: json_schema, strict mode).
func (c *Client) Structured(ctx context.Context, prompt, schemaName string, schema llm.Schema) (json.RawMessage, error) {
	log := observability.LoggerWithTrace(ctx)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(prompt)},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schemaName,
					Schema: map[string]any(schema),
					Strict: param.NewOpt(true),
				},
			},
		},
	}

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("schema", schemaName).Dur("duration", dur).Msg("openai_structured_error")
		return nil, &llm.TransientError{Err: err}
	}
	if len(comp.Choices) == 0 {
		return nil, &llm.TransientError{Err: fmt.Errorf("openai: no choices for schema %q", schemaName)}
	}

	content := comp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content response", llm.ErrSchemaViolation)
	}

	log.Debug().Str("model", c.model).Str("schema", schemaName).Dur("duration", dur).Msg("openai_structured_ok")
	return json.RawMessage(content), nil
}

var _ llm.Provider = (*Client)(nil)
