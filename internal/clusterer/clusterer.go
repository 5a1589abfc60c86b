// Package clusterer implements the Clusterer (spec.md §4.5): group a set
// of channels, typically from a parsed Telegram data export, into labeled
// topics via a single strict-schema LLM call.
package clusterer

import (
	"context"
	"encoding/json"
	"fmt"

	"chanalystd/internal/llm"
	"chanalystd/internal/progressbus"
)

// Channel is one entry of the input/output channel list.
type Channel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	URL             string `json:"url,omitempty"`
	LastMessageDate string `json:"last_message_date,omitempty"`
	Left            bool   `json:"left,omitempty"`
}

// Group is one labeled partition of the input channels.
type Group struct {
	Topic    string    `json:"topic"`
	Language string    `json:"language"`
	Channels []Channel `json:"channels"`
}

const schemaName = "channel_clusters"

var schema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"groups": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":    map[string]any{"type": "string"},
					"language": map[string]any{"type": "string"},
					"channels": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id": map[string]any{"type": "string"},
							},
							"required": []string{"id"},
						},
					},
				},
				"required": []string{"topic", "language", "channels"},
			},
		},
	},
	"required":             []string{"groups"},
	"additionalProperties": false,
}

// Clusterer is the Clusterer component. Construct with New.
type Clusterer struct {
	provider llm.Provider
	bus      *progressbus.Bus
}

// New builds a Clusterer.
func New(provider llm.Provider, bus *progressbus.Bus) *Clusterer {
	return &Clusterer{provider: provider, bus: bus}
}

// ErrIncompletePartition is returned when the model's response does not
// account for every input channel exactly once, even after retry.
var ErrIncompletePartition = fmt.Errorf("clusterer: %w", llm.ErrSchemaViolation)

// Cluster groups channels into topics. requestID, if non-empty, receives
// coarse progress events on the bus.
func (c *Clusterer) Cluster(ctx context.Context, requestID string, channels []Channel) ([]Group, error) {
	c.emit(requestID, "Analyzing channels")

	prompt := buildPrompt(channels)

	var groups []Group
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var raw json.RawMessage
		raw, err = llm.CallStructured(ctx, c.provider, prompt, schemaName, schema)
		if err != nil {
			break
		}
		c.emit(requestID, "Processing AI response")
		groups, err = parseAndValidate(raw, channels)
		if err == nil {
			rehydrate(groups, channels)
			break
		}
	}
	if err != nil {
		c.fail(requestID, err)
		return nil, err
	}

	if requestID != "" {
		c.bus.Complete(requestID)
	}
	return groups, nil
}

func (c *Clusterer) emit(requestID, msg string) {
	if requestID == "" {
		return
	}
	c.bus.Emit(requestID, progressbus.Event{CurrentChannel: msg})
}

func (c *Clusterer) fail(requestID string, err error) {
	if requestID == "" {
		return
	}
	c.bus.Fail(requestID, err.Error())
}

func buildPrompt(channels []Channel) string {
	b, _ := json.Marshal(channels)
	return fmt.Sprintf(
		"Group the following channels into a small number of labeled topics. "+
			"Every channel must appear in exactly one group. Detect each group's "+
			"dominant language as an ISO-639-1 code.\n\nChannels:\n%s",
		string(b),
	)
}

func parseAndValidate(raw json.RawMessage, input []Channel) ([]Group, error) {
	var parsed struct {
		Groups []Group `json:"groups"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err)
	}
	if err := validatePartition(parsed.Groups, input); err != nil {
		return nil, err
	}
	return parsed.Groups, nil
}

// validatePartition checks that every input channel id appears in exactly
// one output group, per spec.md §4.5's partition invariant.
func validatePartition(groups []Group, input []Channel) error {
	seen := make(map[string]int, len(input))
	for _, g := range groups {
		for _, ch := range g.Channels {
			seen[ch.ID]++
		}
	}
	for _, ch := range input {
		if seen[ch.ID] != 1 {
			return fmt.Errorf("%w: channel %q appears %d times", ErrIncompletePartition, ch.ID, seen[ch.ID])
		}
	}
	return nil
}

// rehydrate replaces each output channel's id-only stub with the full input
// record it refers to, since the model is only asked for ids (spec.md §4.5
// / §6 require the output channels to carry the "same shape" as the input).
func rehydrate(groups []Group, input []Channel) {
	byID := make(map[string]Channel, len(input))
	for _, ch := range input {
		byID[ch.ID] = ch
	}
	for gi := range groups {
		for ci, ch := range groups[gi].Channels {
			if full, ok := byID[ch.ID]; ok {
				groups[gi].Channels[ci] = full
			}
		}
	}
}
