package llm

import (
	"fmt"
	"net/http"

	"chanalystd/internal/config"
	anthropicllm "chanalystd/internal/llm/anthropic"
	googlellm "chanalystd/internal/llm/google"
	openaillm "chanalystd/internal/llm/openai"
)

// NewProvider selects and constructs a Provider per cfg.LLM.Provider.
// "gemini" (default) is the primary backend; "openai" and "anthropic" are
// alternates selected the same way the teacher repo switches chat
// providers by config.
func NewProvider(cfg *config.Config, httpClient *http.Client) (Provider, error) {
	switch cfg.LLM.Provider {
	case "", "gemini", "google":
		return googlellm.New(cfg.Google, httpClient)
	case "openai":
		return openaillm.New(cfg.OpenAI, httpClient), nil
	case "anthropic":
		return anthropicllm.New(cfg.Anthropic, httpClient), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.LLM.Provider)
	}
}
