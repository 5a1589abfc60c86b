// Package linkresolver implements the Link Resolver component (spec.md
// §4.3): produce a short text summary for a URL, memoized via the Store,
// with at-most-one in-flight resolution per URL and a global bound on
// concurrent outbound resolutions.
package linkresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"chanalystd/internal/llm"
	"chanalystd/internal/observability"
	"chanalystd/internal/orchestrator"
	"chanalystd/internal/store"
	"chanalystd/internal/webfetch"
)

// DefaultConcurrency is the spec's order-of-magnitude default for
// outstanding external resolutions.
const DefaultConcurrency = 8

// DefaultAttemptCap bounds retries of a URL that keeps failing, per
// spec.md §4.3 ("counted against a per-URL attempt cap to avoid
// thrashing").
const DefaultAttemptCap = 3

// summarySchemaName/summarySchema describe the trivial structured-output contract used
// to ask the LLM provider for a short summary of extracted page text; this
// is the link_resolver side of "llm_structured(prompt, schema) -> JSON"
// from spec.md §1, reusing the same Provider abstraction the
// Summarizer/Clusterer/Insights Generator use rather than inventing a
// second one.
const summarySchemaName = "link_summary"

var summarySchema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
	},
	"required":             []string{"summary"},
	"additionalProperties": false,
}

// Resolver is the Link Resolver. Construct with New; safe for concurrent use.
type Resolver struct {
	store      store.Store
	fetcher    *webfetch.Fetcher
	provider   llm.Provider
	attempts   orchestrator.DedupeStore
	attemptCap int
	attemptTTL time.Duration
	sem        *semaphore.Weighted
	group      singleflight.Group
}

// New builds a Resolver. attempts may be a MemoryDedupeStore or
// RedisDedupeStore (see internal/orchestrator); concurrency is the global
// cap on outstanding external resolutions.
func New(st store.Store, fetcher *webfetch.Fetcher, provider llm.Provider, attempts orchestrator.DedupeStore, concurrency, attemptCap int, attemptTTL time.Duration) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if attemptCap <= 0 {
		attemptCap = DefaultAttemptCap
	}
	return &Resolver{
		store:      st,
		fetcher:    fetcher,
		provider:   provider,
		attempts:   attempts,
		attemptCap: attemptCap,
		attemptTTL: attemptTTL,
		sem:        semaphore.NewWeighted(int64(concurrency)),
	}
}

// Resolve returns a short summary of url's content. A cache hit returns
// immediately; a miss joins (or starts) a single in-flight resolution for
// that URL. Failures return "" and are not cached, so a later call may
// retry — up to the per-URL attempt cap, after which "" is returned
// without an outbound call.
func (r *Resolver) Resolve(ctx context.Context, url string) (string, error) {
	if cached, ok, err := r.store.GetLinkSummary(ctx, url); err != nil {
		return "", fmt.Errorf("linkresolver: cache lookup: %w", err)
	} else if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(url, func() (any, error) {
		return r.resolveOnce(ctx, url)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolveOnce(ctx context.Context, url string) (string, error) {
	log := observability.LoggerWithTrace(ctx)

	attemptKey := "linkresolver:attempts:" + url
	if n := r.attemptCount(ctx, attemptKey); n >= r.attemptCap {
		log.Debug().Str("url", url).Int("attempts", n).Msg("linkresolver_attempt_cap_reached")
		return "", nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer r.sem.Release(1)

	summary, err := r.fetchAndSummarize(ctx, url)
	if err != nil {
		r.recordAttempt(ctx, attemptKey)
		log.Warn().Err(err).Str("url", url).Msg("linkresolver_resolve_failed")
		return "", nil
	}

	if err := r.store.PutLinkSummary(ctx, url, summary); err != nil {
		return "", fmt.Errorf("linkresolver: cache write: %w", err)
	}
	return summary, nil
}

func (r *Resolver) fetchAndSummarize(ctx context.Context, url string) (string, error) {
	result, err := r.fetcher.FetchMarkdown(ctx, url)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	content := result.Markdown
	const maxChars = 6000
	if len(content) > maxChars {
		content = content[:maxChars]
	}
	prompt := fmt.Sprintf(
		"Summarize the following page content in 1-2 sentences, plain text, no markdown.\n\nTitle: %s\nURL: %s\n\n%s",
		result.Title, url, content,
	)

	raw, err := llm.CallStructured(ctx, r.provider, prompt, summarySchemaName, summarySchema)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err)
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return "", fmt.Errorf("%w: empty summary", llm.ErrSchemaViolation)
	}
	return summary, nil
}

func (r *Resolver) attemptCount(ctx context.Context, key string) int {
	v, err := r.attempts.Get(ctx, key)
	if err != nil || v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (r *Resolver) recordAttempt(ctx context.Context, key string) {
	n := r.attemptCount(ctx, key) + 1
	ttl := r.attemptTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_ = r.attempts.Set(ctx, key, strconv.Itoa(n), ttl)
}
