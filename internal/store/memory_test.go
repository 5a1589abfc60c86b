package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSourceIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.UpsertSource(ctx, "https://t.me/foo/", "Foo", "telegram", "News")
		require.NoError(t, err)
	}

	byCat, err := s.ListSourcesByCategory(ctx)
	require.NoError(t, err)
	require.Len(t, byCat["News"], 1)
	assert.Equal(t, "https://t.me/foo", byCat["News"][0].URL)
}

func TestRecordMessageDedup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok1, pk1, err := s.RecordMessage(ctx, "telegram", "foo", "1", "https://t.me/foo", time.Now(), "hello")
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, pk2, err := s.RecordMessage(ctx, "telegram", "foo", "1", "https://t.me/foo", time.Now(), "hello again")
	require.NoError(t, err)
	assert.False(t, ok2)
	assert.Equal(t, pk1, pk2)
}

func TestGetMessagesInWindowEmptySourcesMeansAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, _, _ = s.RecordMessage(ctx, "telegram", "a", "1", "https://t.me/a", now.Add(-time.Hour), "x")
	_, _, _ = s.RecordMessage(ctx, "telegram", "b", "1", "https://t.me/b", now.Add(-time.Hour), "y")

	msgs, err := s.GetMessagesInWindow(ctx, nil, now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestLinkSummaryPutOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutLinkSummary(ctx, "https://ex.com/1", "first"))
	text, ok, err := s.GetLinkSummary(ctx, "https://ex.com/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", text)

	require.NoError(t, s.PutLinkSummary(ctx, "https://ex.com/1", "second"))
	text, ok, err = s.GetLinkSummary(ctx, "https://ex.com/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", text)
}

func TestUpsertSubscriberIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertSubscriber(ctx, "x@y.z", ""))
	require.NoError(t, s.UpsertSubscriber(ctx, "x@y.z", ""))

	assert.Len(t, s.subs, 1)
}

func TestSaveAndGetInsight(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.SaveInsight(ctx, Insight{Topic: "t1", Stance: StanceLong, AnalysisSummary: "ok"})
	require.NoError(t, err)

	got, ok, err := s.GetInsight(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StanceLong, got.Stance)
}
