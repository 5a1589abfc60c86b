package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanalystd/internal/clusterer"
	"chanalystd/internal/ingestor"
	"chanalystd/internal/insights"
	"chanalystd/internal/linkresolver"
	"chanalystd/internal/llm"
	"chanalystd/internal/objectstore"
	"chanalystd/internal/orchestrator"
	"chanalystd/internal/progressbus"
	"chanalystd/internal/store"
	"chanalystd/internal/summarizer"
	"chanalystd/internal/telegram"
	"chanalystd/internal/webfetch"
)

type stubProvider struct {
	raw json.RawMessage
}

func (p *stubProvider) Structured(_ context.Context, _ string, _ string, _ llm.Schema) (json.RawMessage, error) {
	return p.raw, nil
}

type stubTelegram struct{}

func (stubTelegram) FetchChannelMessages(_ context.Context, _ string, _, _ time.Time) ([]telegram.Message, error) {
	return nil, nil
}

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	bus := progressbus.New()
	resolver := linkresolver.New(st, webfetch.NewFetcher(), provider, orchestrator.NewMemoryDedupeStore(), 1, 1, time.Hour)
	ing := ingestor.New(st, stubTelegram{}, resolver, bus, 1)
	clus := clusterer.New(provider, bus)
	summ := summarizer.New(st, provider, time.Minute)
	ins := insights.New(st, provider)

	return NewServer(Deps{
		Store:      st,
		Bus:        bus,
		Ingestor:   ing,
		Clusterer:  clus,
		Summarizer: summ,
		Insights:   ins,
		Objects:    objectstore.NewMemoryStore(),
	})
}

func TestHandleFeedbackValidatesType(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	body := bytes.NewBufferString(`{"email":"a@example.com","message":"hi","type":"not-a-type"}`)
	req := httptest.NewRequest(http.MethodPost, "/feedback", body)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = bytes.NewBufferString(`{"email":"a@example.com","message":"hi","type":"bug"}`)
	req = httptest.NewRequest(http.MethodPost, "/feedback", body)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleSubscribeRequiresEmail(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewBufferString(`{"email":""}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/subscribe", bytes.NewBufferString(`{"email":"a@example.com"}`))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetMessageReturns404ForUnknownPK(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/message/999", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleUploadTelegramExportParsesMultipart(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "export.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`[{"id":"c1","name":"Channel One","url":"https://t.me/c1"}]`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-telegram-export", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool `json:"success"`
		Channels []struct {
			ID string `json:"id"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "c1", resp.Channels[0].ID)
}

func TestHandleUploadTelegramExportArchivesRawBlob(t *testing.T) {
	objects := objectstore.NewMemoryStore()
	st := store.NewMemoryStore()
	bus := progressbus.New()
	provider := &stubProvider{}
	resolver := linkresolver.New(st, webfetch.NewFetcher(), provider, orchestrator.NewMemoryDedupeStore(), 1, 1, time.Hour)
	srv := NewServer(Deps{
		Store:      st,
		Bus:        bus,
		Ingestor:   ingestor.New(st, stubTelegram{}, resolver, bus, 1),
		Clusterer:  clusterer.New(provider, bus),
		Summarizer: summarizer.New(st, provider, time.Minute),
		Insights:   insights.New(st, provider),
		Objects:    objects,
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "export.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`[{"id":"c1","name":"Channel One"}]`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-telegram-export", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	list, err := objects.List(context.Background(), objectstore.ListOptions{Prefix: "telegram-exports/"})
	require.NoError(t, err)
	require.Len(t, list.Objects, 1)
}

func TestHandleChannelProgressReturns404ForUnknownRequestID(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/channel-progress?requestId=never-seen", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSaveTelegramChannelsRegistersRequestIDBeforeResponding(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/save-telegram-channels", bytes.NewBufferString(
		`{"channels":[{"id":"c1","url":"https://t.me/c1"}],"period":"1d"}`))
	req.Header.Set("X-Request-ID", "save-req-1")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, srv.bus.Exists("save-req-1"))
}

func TestHandleClusterChannelsRejectsEmptyChannels(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/cluster-channels", bytes.NewBufferString(`{"channels":[]}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSummariesReturnsNoMessagesFound(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/summaries?period=1d", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["noMessagesFound"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleSummariesRejectsInvalidPeriod(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/summaries?period=3w", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
