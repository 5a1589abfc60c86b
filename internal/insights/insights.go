// Package insights implements the Insights Generator (spec.md §4.7):
// produce a structured analytical record for a single topic summary via
// one strict-schema LLM call.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chanalystd/internal/llm"
	"chanalystd/internal/store"
)

const schemaName = "insight"

var schema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"analysis_summary":            map[string]any{"type": "string"},
		"stance":                      map[string]any{"type": "string", "enum": stanceStrings()},
		"rationale_long":              map[string]any{"type": "string"},
		"rationale_short":             map[string]any{"type": "string"},
		"rationale_neutral":           map[string]any{"type": "string"},
		"risks_and_watchouts":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"key_questions_for_user":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"suggested_instruments_long":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"suggested_instruments_short": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"useful_resources": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":         map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"url", "description"},
			},
		},
	},
	"required":             []string{"analysis_summary", "stance"},
	"additionalProperties": false,
}

func stanceStrings() []string {
	out := make([]string, len(store.ValidStances))
	for i, s := range store.ValidStances {
		out[i] = string(s)
	}
	return out
}

// raw mirrors the LLM's JSON shape before stance/list normalization.
type raw struct {
	AnalysisSummary           string                 `json:"analysis_summary"`
	Stance                    string                 `json:"stance"`
	RationaleLong             string                 `json:"rationale_long"`
	RationaleShort            string                 `json:"rationale_short"`
	RationaleNeutral          string                 `json:"rationale_neutral"`
	RisksAndWatchouts         []string               `json:"risks_and_watchouts"`
	KeyQuestionsForUser       []string               `json:"key_questions_for_user"`
	SuggestedInstrumentsLong  []string               `json:"suggested_instruments_long"`
	SuggestedInstrumentsShort []string               `json:"suggested_instruments_short"`
	UsefulResources           []store.InsightResource `json:"useful_resources"`
}

// Generator is the Insights Generator component. Construct with New.
type Generator struct {
	store    store.Store
	provider llm.Provider
}

// New builds a Generator.
func New(st store.Store, provider llm.Provider) *Generator {
	return &Generator{store: st, provider: provider}
}

// Generate produces and persists the Insight for topic, overwriting any
// prior result for the same topic string.
func (g *Generator) Generate(ctx context.Context, topic store.TopicSummary) (store.Insight, error) {
	prompt := buildPrompt(topic)

	// A response that does not parse or carries an invalid stance is retried
	// once before it is reported as a schema violation.
	var parsed raw
	var stance store.Stance
	for attempt := 0; attempt < 2; attempt++ {
		rawJSON, err := llm.CallStructured(ctx, g.provider, prompt, schemaName, schema)
		if err != nil {
			return store.Insight{}, err
		}
		parsed = raw{}
		if err = json.Unmarshal(rawJSON, &parsed); err != nil {
			err = fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err)
		} else if stance = store.Stance(strings.TrimSpace(parsed.Stance)); !stance.IsValid() {
			err = fmt.Errorf("%w: stance %q is not a valid enum value", llm.ErrSchemaViolation, parsed.Stance)
		}
		if err == nil {
			break
		}
		if attempt == 1 {
			return store.Insight{}, err
		}
	}

	insight := store.Insight{
		Topic:                     topic.Topic,
		AnalysisSummary:           parsed.AnalysisSummary,
		Stance:                    stance,
		RationaleLong:             parsed.RationaleLong,
		RationaleShort:            parsed.RationaleShort,
		RationaleNeutral:          parsed.RationaleNeutral,
		RisksAndWatchouts:         normalizeList(parsed.RisksAndWatchouts),
		KeyQuestionsForUser:       normalizeList(parsed.KeyQuestionsForUser),
		SuggestedInstrumentsLong:  normalizeList(parsed.SuggestedInstrumentsLong),
		SuggestedInstrumentsShort: normalizeList(parsed.SuggestedInstrumentsShort),
		UsefulResources:           parsed.UsefulResources,
	}
	if len(insight.UsefulResources) == 0 {
		insight.UsefulResources = nil
	}

	if err := g.store.SaveInsight(ctx, insight); err != nil {
		return store.Insight{}, fmt.Errorf("insights: save %q: %w", topic.Topic, err)
	}
	return insight, nil
}

// normalizeList turns an empty slice into nil, so "absent" and "empty"
// collapse to the same representation per spec.md §3's field invariant.
func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	return items
}

func buildPrompt(topic store.TopicSummary) string {
	return fmt.Sprintf(
		"Produce a structured analytical insight for the following topic. "+
			"\"stance\" must be exactly one of: long, short, long-neutral, "+
			"short-neutral, neutral, no-actionable-insight. Omit any list field "+
			"that does not apply rather than inventing content.\n\n"+
			"Topic: %s\nMetatopic: %s\nImportance: %d/10\nMember message ids: %v",
		topic.Topic, topic.Metatopic, topic.Importance, topic.MessageIDs,
	)
}
