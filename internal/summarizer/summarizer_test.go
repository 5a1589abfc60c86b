package summarizer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanalystd/internal/llm"
	"chanalystd/internal/store"
)

type stubProvider struct {
	raw   json.RawMessage
	err   error
	calls int
}

func (p *stubProvider) Structured(_ context.Context, _ string, _ string, _ llm.Schema) (json.RawMessage, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.raw, nil
}

func TestSummarizeRejectsUnknownPeriod(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, &stubProvider{}, time.Minute)

	_, err := s.Summarize(context.Background(), "3w", nil)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestSummarizeShortCircuitsOnEmptyWindowWithoutCallingLLM(t *testing.T) {
	st := store.NewMemoryStore()
	provider := &stubProvider{}
	s := New(st, provider, time.Minute)

	result, err := s.Summarize(context.Background(), "1d", nil)
	require.NoError(t, err)
	assert.True(t, result.NoMessagesFound)
	assert.Equal(t, 0, provider.calls)
}

func TestSummarizeFiltersUnknownMessageIDsAndOutOfRangeImportance(t *testing.T) {
	st := store.NewMemoryStore()
	_, pk1, err := st.RecordMessage(context.Background(), "telegram", "src", "m1", "src", time.Now(), "hello")
	require.NoError(t, err)
	_, _, err = st.RecordMessage(context.Background(), "telegram", "src", "m2", "src", time.Now(), "world")
	require.NoError(t, err)

	resp, _ := json.Marshal(map[string]any{
		"topics": []map[string]any{
			{
				"topic":       "greetings",
				"metatopic":   "social",
				"importance":  5,
				"summary":     "people greeting each other",
				"message_ids": []int64{pk1, 99999},
			},
			{
				"topic":       "bad importance",
				"metatopic":   "other",
				"importance":  11,
				"summary":     "out of range",
				"message_ids": []int64{pk1},
			},
			{
				"topic":       "all unknown",
				"metatopic":   "other",
				"importance":  3,
				"summary":     "nothing matches",
				"message_ids": []int64{424242},
			},
		},
	})
	provider := &stubProvider{raw: resp}
	s := New(st, provider, time.Minute)

	result, err := s.Summarize(context.Background(), "1d", nil)
	require.NoError(t, err)
	require.Len(t, result.Topics, 1)
	assert.Equal(t, "greetings", result.Topics[0].Topic)
	assert.Equal(t, []int64{pk1}, result.Topics[0].MessageIDs)
	assert.Equal(t, 1, provider.calls)
}
