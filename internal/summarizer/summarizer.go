// Package summarizer implements the Summarizer (spec.md §4.6): given
// messages in a (period, source-set) window, produce up to 20 salient
// topic summaries via a single strict-schema LLM call.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chanalystd/internal/llm"
	"chanalystd/internal/store"
)

// MaxTopics is the ceiling on topics returned per run, per spec.md §4.6.
const MaxTopics = 20

// maxMessageChars truncates each message's text before it enters the
// prompt, per spec.md §4.6 step 4a.
const maxMessageChars = 2000

// Periods maps the three accepted period tokens to their duration.
var Periods = map[string]time.Duration{
	"1d": 24 * time.Hour,
	"2d": 48 * time.Hour,
	"1w": 7 * 24 * time.Hour,
}

// ErrInvalidPeriod is returned when the caller's period token is not one
// of "1d", "2d", "1w".
var ErrInvalidPeriod = fmt.Errorf("summarizer: invalid period")

// Topic is one entry of the Summarizer's output, before persistence.
type Topic struct {
	Topic      string  `json:"topic"`
	Metatopic  string  `json:"metatopic"`
	Importance int     `json:"importance"`
	Summary    string  `json:"summary"`
	MessageIDs []int64 `json:"message_ids"`
}

// Result is the Summarizer's response shape.
type Result struct {
	Topics           []store.TopicSummary
	NoMessagesFound  bool
}

const schemaName = "topic_summaries"

var schema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"topics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":       map[string]any{"type": "string"},
					"metatopic":   map[string]any{"type": "string"},
					"importance":  map[string]any{"type": "integer"},
					"summary":     map[string]any{"type": "string"},
					"message_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
				"required": []string{"topic", "metatopic", "importance", "summary", "message_ids"},
			},
		},
	},
	"required":             []string{"topics"},
	"additionalProperties": false,
}

// DefaultTimeout is the overall wall-clock cap applied to a Summarize call
// when New is not given one, per spec.md §5 ("e.g., 5 minutes").
const DefaultTimeout = 5 * time.Minute

// Summarizer is the Summarizer component. Construct with New.
type Summarizer struct {
	store    store.Store
	provider llm.Provider
	now      func() time.Time
	timeout  time.Duration
}

// New builds a Summarizer. now defaults to time.Now; tests may override.
// timeout is the overall wall-clock cap for a single Summarize call (spec.md
// §5); zero or negative falls back to DefaultTimeout.
func New(st store.Store, provider llm.Provider, timeout time.Duration) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Summarizer{store: st, provider: provider, now: time.Now, timeout: timeout}
}

// Summarize resolves the (period, sources) window, loads its messages, and
// returns ≤20 salient topics. An empty window short-circuits with
// NoMessagesFound=true and issues no LLM call, per spec.md §4.6 step 3.
// The whole call is bounded by s.timeout; a request that runs past it
// reports a timeout error (spec.md §5).
func (s *Summarizer) Summarize(ctx context.Context, period string, sources []string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dur, ok := Periods[period]
	if !ok {
		return Result{}, ErrInvalidPeriod
	}

	until := s.now()
	since := until.Add(-dur)

	messages, err := s.store.GetMessagesInWindow(ctx, sources, since, until)
	if err != nil {
		return Result{}, fmt.Errorf("summarizer: load window: %w", err)
	}
	if len(messages) == 0 {
		return Result{NoMessagesFound: true}, nil
	}

	known := make(map[int64]bool, len(messages))
	for _, m := range messages {
		known[m.PK] = true
	}

	prompt := buildPrompt(messages)
	var parsed struct {
		Topics []Topic `json:"topics"`
	}
	// A response that does not parse is retried once before it is reported
	// as a schema violation.
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := llm.CallStructured(ctx, s.provider, prompt, schemaName, schema)
		if err != nil {
			return Result{}, err
		}
		parsed.Topics = nil
		if err = json.Unmarshal(raw, &parsed); err == nil {
			break
		}
		if attempt == 1 {
			return Result{}, fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err)
		}
	}

	var out []store.TopicSummary
	for _, t := range parsed.Topics {
		if len(out) >= MaxTopics {
			break
		}
		if t.Importance < 1 || t.Importance > 10 {
			continue
		}
		valid := filterKnown(t.MessageIDs, known)
		if len(valid) == 0 {
			continue
		}
		saved, err := s.store.SaveTopicSummary(ctx, t.Topic, t.Metatopic, t.Importance, valid)
		if err != nil {
			return Result{}, fmt.Errorf("summarizer: save topic %q: %w", t.Topic, err)
		}
		out = append(out, saved)
	}

	return Result{Topics: out}, nil
}

func filterKnown(ids []int64, known map[int64]bool) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

func buildPrompt(messages []store.Message) string {
	type item struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
		Link string `json:"resolved_links,omitempty"`
	}
	items := make([]item, 0, len(messages))
	for _, m := range messages {
		text := m.Text
		if len(text) > maxMessageChars {
			text = text[:maxMessageChars]
		}
		items = append(items, item{ID: m.PK, Text: text, Link: m.ResolvedLinksJSON})
	}
	b, _ := json.Marshal(items)
	return fmt.Sprintf(
		"Group the following messages into at most %d salient topics. Each topic "+
			"needs a short label, a broad metatopic category, an importance from 1 "+
			"(minor) to 10 (critical), a one-paragraph summary, and the list of "+
			"member message ids drawn only from the ids below.\n\nMessages:\n%s",
		MaxTopics, string(b),
	)
}
