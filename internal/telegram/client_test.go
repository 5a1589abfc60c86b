package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const previewFixture = `<!DOCTYPE html>
<html><body>
<div class="tgme_widget_message" data-post="examplechannel/101">
  <time class="time" datetime="2026-07-30T10:00:00+00:00"></time>
  <div class="tgme_widget_message_text">First post <br>with a line break</div>
</div>
<div class="tgme_widget_message" data-post="examplechannel/100">
  <time class="time" datetime="2026-07-29T09:00:00+00:00"></time>
  <div class="tgme_widget_message_text">Second post</div>
</div>
</body></html>`

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("before") != "" {
			_, _ = w.Write([]byte(`<html><body></body></html>`))
			return
		}
		_, _ = w.Write([]byte(previewFixture))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParsePreviewPageExtractsMessagesNewestFirst(t *testing.T) {
	msgs, oldestID := parsePreviewPage(strings.NewReader(previewFixture))
	require.Len(t, msgs, 2)
	assert.Equal(t, "101", msgs[0].MessageID)
	assert.Equal(t, "First post \nwith a line break", msgs[0].Text)
	assert.Equal(t, "100", msgs[1].MessageID)
	assert.Equal(t, "100", oldestID)
}

func TestParsePreviewPageReturnsEmptyOnNoMessages(t *testing.T) {
	msgs, oldestID := parsePreviewPage(strings.NewReader(`<html><body></body></html>`))
	assert.Empty(t, msgs)
	assert.Equal(t, "", oldestID)
}

func TestChannelUsernameAcceptsPlainAndPreviewURLs(t *testing.T) {
	name, err := channelUsername("https://t.me/examplechannel")
	require.NoError(t, err)
	assert.Equal(t, "examplechannel", name)

	name, err = channelUsername("https://t.me/s/examplechannel")
	require.NoError(t, err)
	assert.Equal(t, "examplechannel", name)
}

func TestChannelUsernameRejectsEmptyPath(t *testing.T) {
	_, err := channelUsername("https://t.me/")
	assert.Error(t, err)
}

func TestFetchChannelMessagesFiltersByWindow(t *testing.T) {
	srv := newFixtureServer(t)

	p := NewPreviewClient(WithHTTPClient(srv.Client()))
	p.baseURL = srv.URL + "/s/"

	since := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	until := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	msgs, err := p.FetchChannelMessages(context.Background(), "https://t.me/examplechannel", since, until)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "101", msgs[0].MessageID)
}
