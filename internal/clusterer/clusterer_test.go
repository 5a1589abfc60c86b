package clusterer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanalystd/internal/llm"
	"chanalystd/internal/progressbus"
)

type stubProvider struct {
	responses []json.RawMessage
	errs      []error
	calls     int
}

func (p *stubProvider) Structured(_ context.Context, _ string, _ string, _ llm.Schema) (json.RawMessage, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return p.responses[len(p.responses)-1], nil
}

func chans(ids ...string) []Channel {
	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, Channel{ID: id, Name: id})
	}
	return out
}

func TestClusterSucceedsOnFirstValidResponse(t *testing.T) {
	resp, _ := json.Marshal(map[string]any{
		"groups": []map[string]any{
			{"topic": "macro", "language": "en", "channels": []map[string]string{{"id": "a"}, {"id": "b"}}},
		},
	})
	provider := &stubProvider{responses: []json.RawMessage{resp}}
	c := New(provider, progressbus.New())

	groups, err := c.Cluster(context.Background(), "req1", chans("a", "b"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "macro", groups[0].Topic)
	assert.Equal(t, 1, provider.calls)
}

func TestClusterRetriesOnceAfterIncompletePartition(t *testing.T) {
	bad, _ := json.Marshal(map[string]any{
		"groups": []map[string]any{
			{"topic": "macro", "language": "en", "channels": []map[string]string{{"id": "a"}}},
		},
	})
	good, _ := json.Marshal(map[string]any{
		"groups": []map[string]any{
			{"topic": "macro", "language": "en", "channels": []map[string]string{{"id": "a"}, {"id": "b"}}},
		},
	})
	provider := &stubProvider{responses: []json.RawMessage{bad, good}}
	c := New(provider, progressbus.New())

	groups, err := c.Cluster(context.Background(), "req2", chans("a", "b"))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, provider.calls)
}

func TestClusterFailsAfterTwoIncompletePartitions(t *testing.T) {
	bad, _ := json.Marshal(map[string]any{
		"groups": []map[string]any{
			{"topic": "macro", "language": "en", "channels": []map[string]string{{"id": "a"}}},
		},
	})
	provider := &stubProvider{responses: []json.RawMessage{bad, bad}}
	c := New(provider, progressbus.New())

	_, err := c.Cluster(context.Background(), "req3", chans("a", "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompletePartition)
	assert.Equal(t, 2, provider.calls)
}

func TestClusterRehydratesFullChannelFields(t *testing.T) {
	resp, _ := json.Marshal(map[string]any{
		"groups": []map[string]any{
			{"topic": "macro", "language": "en", "channels": []map[string]string{{"id": "a"}, {"id": "b"}}},
		},
	})
	provider := &stubProvider{responses: []json.RawMessage{resp}}
	c := New(provider, progressbus.New())

	input := []Channel{
		{ID: "a", Name: "Alice", URL: "https://t.me/alice", LastMessageDate: "2026-01-01"},
		{ID: "b", Name: "Bob", URL: "https://t.me/bob"},
	}

	groups, err := c.Cluster(context.Background(), "req4", input)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Channels, 2)
	assert.Contains(t, groups[0].Channels, input[0])
	assert.Contains(t, groups[0].Channels, input[1])
}

func TestValidatePartitionRejectsDuplicateChannel(t *testing.T) {
	groups := []Group{
		{Topic: "a", Channels: chans("x")},
		{Topic: "b", Channels: chans("x")},
	}
	err := validatePartition(groups, chans("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompletePartition)
}
