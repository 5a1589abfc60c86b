package insights

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanalystd/internal/llm"
	"chanalystd/internal/store"
)

type stubProvider struct {
	raw json.RawMessage
}

func (p *stubProvider) Structured(_ context.Context, _ string, _ string, _ llm.Schema) (json.RawMessage, error) {
	return p.raw, nil
}

func TestGeneratePersistsValidInsight(t *testing.T) {
	resp, _ := json.Marshal(map[string]any{
		"analysis_summary": "bullish setup forming",
		"stance":           "long",
		"rationale_long":   "momentum building",
		"risks_and_watchouts": []string{},
	})
	st := store.NewMemoryStore()
	g := New(st, &stubProvider{raw: resp})

	topic := store.TopicSummary{Topic: "rates", Metatopic: "macro", Importance: 7, MessageIDs: []int64{1, 2}}
	insight, err := g.Generate(context.Background(), topic)
	require.NoError(t, err)
	assert.Equal(t, store.StanceLong, insight.Stance)
	assert.Nil(t, insight.RisksAndWatchouts)

	saved, ok, err := st.GetInsight(context.Background(), "rates")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bullish setup forming", saved.AnalysisSummary)
}

func TestGenerateRejectsInvalidStance(t *testing.T) {
	resp, _ := json.Marshal(map[string]any{
		"analysis_summary": "uncertain",
		"stance":           "bullish", // not one of the six enumerated values
	})
	st := store.NewMemoryStore()
	g := New(st, &stubProvider{raw: resp})

	_, err := g.Generate(context.Background(), store.TopicSummary{Topic: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrSchemaViolation)
}
