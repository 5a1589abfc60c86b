package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chanalystd/internal/clusterer"
	"chanalystd/internal/ingestor"
	"chanalystd/internal/objectstore"
	"chanalystd/internal/observability"
	"chanalystd/internal/store"
	"chanalystd/internal/telegramexport"
)

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byCategory, err := s.store.ListSourcesByCategory(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": byCategory})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.newRequestContext(r)
	defer cancel()

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "1d"
	}
	var sources []string
	if raw := r.URL.Query().Get("sources"); raw != "" {
		sources = splitCSV(raw)
	}

	requestID := requestIDFor(r)
	w.Header().Set("X-Request-ID", requestID)

	result, err := s.summarizer.Summarize(ctx, period, sources)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}

	resp := map[string]any{"topics": result.Topics}
	if result.NoMessagesFound {
		resp["noMessagesFound"] = true
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.newRequestContext(r)
	defer cancel()

	var payload struct {
		Topics []store.TopicSummary `json:"topics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid request body"))
		return
	}
	if len(payload.Topics) == 0 {
		respondError(w, http.StatusBadRequest, errValidation("topics must not be empty"))
		return
	}

	out := make([]map[string]any, 0, len(payload.Topics))
	for _, topic := range payload.Topics {
		insight, err := s.insights.Generate(ctx, topic)
		if err != nil {
			respondError(w, statusFromError(err), err)
			return
		}
		out = append(out, map[string]any{
			"id":         topic.ID,
			"topic":      topic.Topic,
			"metatopic":  topic.Metatopic,
			"importance": topic.Importance,
			"messageIds": topic.MessageIDs,
			"insight":    insight,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"topics": out})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idStr := r.PathValue("id")
	pk, err := parseInt64(idStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid message id"))
		return
	}
	msg, err := s.store.GetMessageByPK(ctx, pk)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"source":  msg.SourceURL,
		"date":    msg.Timestamp,
		"content": msg.Text,
	})
}

func (s *Server) handleUploadTelegramExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid multipart form"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errValidation("missing file field"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, errValidation("failed to read upload"))
		return
	}

	channels, err := telegramexport.Parse(bytes.NewReader(raw))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	// Best-effort archival of the raw export for later re-parsing; failures
	// here never block the response, since the channels are already parsed.
	if s.objects != nil {
		key := "telegram-exports/" + uuid.NewString() + ".json"
		if _, err := s.objects.Put(ctx, key, bytes.NewReader(raw), objectstore.PutOptions{ContentType: "application/json"}); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("key", key).Msg("failed to archive telegram export")
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "channels": channels})
}

func (s *Server) handleClusterChannels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.newRequestContext(r)
	defer cancel()

	var payload struct {
		Channels           []clusterer.Channel `json:"channels"`
		SimplifiedFetching bool                `json:"simplified_fetching"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid request body"))
		return
	}
	if len(payload.Channels) == 0 {
		respondError(w, http.StatusBadRequest, errValidation("channels must not be empty"))
		return
	}

	requestID := requestIDFor(r)
	w.Header().Set("X-Request-ID", requestID)

	groups, err := s.clusterer.Cluster(ctx, requestID, payload.Channels)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "topics": groups})
}

func (s *Server) handleSaveTelegramChannels(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Channels []clusterer.Channel `json:"channels"`
		Period   string              `json:"period"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid request body"))
		return
	}
	if len(payload.Channels) == 0 {
		respondError(w, http.StatusBadRequest, errValidation("channels must not be empty"))
		return
	}

	dur, ok := ingestorPeriod(payload.Period)
	if !ok {
		respondError(w, http.StatusBadRequest, errValidation("invalid period"))
		return
	}

	urls := make([]string, 0, len(payload.Channels))
	for _, ch := range payload.Channels {
		url := ch.URL
		if url == "" {
			url = ch.ID
		}
		urls = append(urls, url)
	}

	requestID := requestIDFor(r)
	w.Header().Set("X-Request-ID", requestID)

	until := time.Now()
	since := until.Add(-dur)
	req := ingestor.Request{RequestID: requestID, SourceURLs: urls, Since: since, Until: until}

	// Register request_id with the bus before responding, so a client that
	// opens the SSE stream immediately after reading X-Request-ID never
	// races the background goroutine's first Emit.
	s.bus.Register(requestID)

	// Ingestion runs in the background; the caller tracks progress via the
	// Progress Bus through request_id rather than blocking the response.
	go func() {
		_ = s.ingestor.Run(context.WithoutCancel(r.Context()), req)
	}()

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(urls)})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload struct {
		Email   string `json:"email"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid request body"))
		return
	}
	switch payload.Type {
	case "feedback", "question", "bug":
	default:
		respondError(w, http.StatusBadRequest, errValidation("type must be one of feedback, question, bug"))
		return
	}
	if err := s.store.SaveFeedback(ctx, store.Feedback{
		Email:   payload.Email,
		Message: payload.Message,
		Type:    payload.Type,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var payload struct {
		Email  string `json:"email"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, errValidation("invalid request body"))
		return
	}
	if payload.Email == "" {
		respondError(w, http.StatusBadRequest, errValidation("email is required"))
		return
	}
	if err := s.store.UpsertSubscriber(ctx, payload.Email, payload.Source); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func requestIDFor(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("requestId"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) newRequestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func ingestorPeriod(period string) (time.Duration, bool) {
	switch period {
	case "1d":
		return 24 * time.Hour, true
	case "2d":
		return 48 * time.Hour, true
	case "1w":
		return 7 * 24 * time.Hour, true
	case "":
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}
