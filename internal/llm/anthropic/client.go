// Package anthropic implements llm.Provider against Claude models.
// Anthropic's API has no native "response_format: json_schema" the way
// Gemini/OpenAI do, so structured output is obtained the idiomatic
// Anthropic way: declare a single tool whose input schema IS the caller's
// schema, force tool_choice to that tool, and read the tool call's Input
// back as the JSON result. Selected by config.LLMConfig.Provider ==
// "anthropic" as a second alternate backend.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"chanalystd/internal/config"
	"chanalystd/internal/llm"
	"chanalystd/internal/observability"
)

const defaultMaxTokens int64 = 4096

// Client is an Anthropic-backed llm.Provider.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// New constructs a Client from AnthropicConfig. httpClient may be nil.
func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
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

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5)
	}

	return &Client{sdk: anthropic.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

// Structured forces a single call to a synthetic "emit_<schemaName>" tool
// whose input schema is the caller's schema, and returns that call's
// input verbatim as the structured result.
func (c *Client) Structured(ctx context.Context, prompt, schemaName string, schema llm.Schema) (json.RawMessage, error) {
	log := observability.LoggerWithTrace(ctx)

	toolName := "emit_" + sanitizeToolName(schemaName)
	inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
	extras := map[string]any{}
	for k, v := range schema {
		extras[k] = v
	}
	if props, ok := extras["properties"]; ok {
		inputSchema.Properties = props
		delete(extras, "properties")
	}
	if req, ok := extras["required"]; ok {
		delete(extras, "required")
		if items, ok := req.([]string); ok {
			inputSchema.Required = items
		} else if items, ok := req.([]any); ok {
			for _, it := range items {
				if s, ok := it.(string); ok {
					inputSchema.Required = append(inputSchema.Required, s)
				}
			}
		}
	}
	delete(extras, "type")
	if len(extras) > 0 {
		inputSchema.ExtraFields = extras
	}

	tool := anthropic.ToolParam{
		Name:        toolName,
		Description: anthropic.String(fmt.Sprintf("Emit the %s result.", schemaName)),
		InputSchema: inputSchema,
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Tools:     []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: toolName},
		},
	}

	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("schema", schemaName).Dur("duration", dur).Msg("anthropic_structured_error")
		return nil, &llm.TransientError{Err: err}
	}

	for _, block := range resp.Content {
		if use, ok := block.AsAny().(anthropic.ToolUseBlock); ok && use.Name == toolName {
			log.Debug().Str("model", c.model).Str("schema", schemaName).Dur("duration", dur).Msg("anthropic_structured_ok")
			return json.RawMessage(use.Input), nil
		}
	}
	return nil, fmt.Errorf("%w: model did not call %s", llm.ErrSchemaViolation, toolName)
}

func sanitizeToolName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "result"
	}
	return b.String()
}

var _ llm.Provider = (*Client)(nil)
