package ingestor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanalystd/internal/linkresolver"
	"chanalystd/internal/llm"
	"chanalystd/internal/orchestrator"
	"chanalystd/internal/progressbus"
	"chanalystd/internal/store"
	"chanalystd/internal/telegram"
	"chanalystd/internal/webfetch"
)

func TestExtractURLsStripsTrailingPunctuation(t *testing.T) {
	got := ExtractURLs("See https://x.example/a, and https://y.example.")
	assert.Equal(t, []string{"https://x.example/a", "https://y.example"}, got)
}

type stubTelegramClient struct {
	messages map[string][]telegram.Message
	err      map[string]error
}

func (s *stubTelegramClient) FetchChannelMessages(_ context.Context, channelURL string, _, _ time.Time) ([]telegram.Message, error) {
	if err, ok := s.err[channelURL]; ok {
		return nil, err
	}
	return s.messages[channelURL], nil
}

func TestRunPersistsMessagesAndEmitsTerminalEvent(t *testing.T) {
	st := store.NewMemoryStore()
	bus := progressbus.New()

	tg := &stubTelegramClient{
		messages: map[string][]telegram.Message{
			"https://t.me/foo": {
				{MessageID: "1", Timestamp: time.Now().Add(-2 * time.Hour), Text: "A https://ex.com/1"},
				{MessageID: "2", Timestamp: time.Now().Add(-1 * time.Hour), Text: "B"},
			},
		},
	}

	provider := noopProvider{}
	fetcher := webfetch.NewFetcher()
	dedupe := orchestrator.NewMemoryDedupeStore()
	resolver := linkresolver.New(st, fetcher, provider, dedupe, 2, 1, time.Hour)

	ig := New(st, tg, resolver, bus, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx, "r1")

	req := Request{
		RequestID:  "r1",
		SourceURLs: []string{"https://t.me/foo"},
		Since:      time.Now().Add(-24 * time.Hour),
		Until:      time.Now(),
	}
	require.NoError(t, ig.Run(context.Background(), req))

	var last progressbus.Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, "Clustering complete!", last.CurrentChannel)

	msgs, err := st.GetMessagesInWindow(context.Background(), nil, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

// noopProvider never gets invoked in this test: the link fetch targets a
// URL with no running server, so the resolver fails before reaching the
// LLM, but the Resolver still needs a Provider to construct.
type noopProvider struct{}

func (noopProvider) Structured(_ context.Context, _ string, _ string, _ llm.Schema) (json.RawMessage, error) {
	return nil, nil
}
