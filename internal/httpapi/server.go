// Package httpapi is the HTTP API glue component (spec.md §4.8 / §6): it
// parses and validates requests, orchestrates the Ingestor/Clusterer/
// Summarizer/Insights Generator, and bridges the Progress Bus to SSE.
package httpapi

import (
	"net/http"
	"time"

	"chanalystd/internal/clusterer"
	"chanalystd/internal/ingestor"
	"chanalystd/internal/insights"
	"chanalystd/internal/objectstore"
	"chanalystd/internal/progressbus"
	"chanalystd/internal/store"
	"chanalystd/internal/summarizer"
)

// Server exposes the ingestion/analysis HTTP surface.
type Server struct {
	store      store.Store
	bus        *progressbus.Bus
	ingestor   *ingestor.Ingestor
	clusterer  *clusterer.Clusterer
	summarizer *summarizer.Summarizer
	insights   *insights.Generator
	objects    objectstore.ObjectStore

	requestTimeout time.Duration

	mux *http.ServeMux
}

// Deps collects the components Server orchestrates.
type Deps struct {
	Store      store.Store
	Bus        *progressbus.Bus
	Ingestor   *ingestor.Ingestor
	Clusterer  *clusterer.Clusterer
	Summarizer *summarizer.Summarizer
	Insights   *insights.Generator
	Objects    objectstore.ObjectStore

	// RequestTimeout bounds a single long-running request (summaries,
	// insights, clustering), per spec.md §5. Zero falls back to
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// DefaultRequestTimeout is used when Deps.RequestTimeout is zero.
const DefaultRequestTimeout = 5 * time.Minute

// NewServer builds a Server wired to deps and registers all routes.
func NewServer(deps Deps) *Server {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s := &Server{
		store:          deps.Store,
		bus:            deps.Bus,
		ingestor:       deps.Ingestor,
		clusterer:      deps.Clusterer,
		summarizer:     deps.Summarizer,
		insights:       deps.Insights,
		objects:        deps.Objects,
		requestTimeout: timeout,
		mux:            http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	s.mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ready")) })

	s.mux.HandleFunc("GET /sources", s.handleListSources)
	s.mux.HandleFunc("GET /summaries", s.handleSummaries)
	s.mux.HandleFunc("POST /insights", s.handleInsights)
	s.mux.HandleFunc("GET /message/{id}", s.handleGetMessage)
	s.mux.HandleFunc("POST /upload-telegram-export", s.handleUploadTelegramExport)
	s.mux.HandleFunc("POST /cluster-channels", s.handleClusterChannels)
	s.mux.HandleFunc("POST /save-telegram-channels", s.handleSaveTelegramChannels)
	s.mux.HandleFunc("GET /channel-progress", s.handleChannelProgress)
	s.mux.HandleFunc("POST /feedback", s.handleFeedback)
	s.mux.HandleFunc("POST /subscribe", s.handleSubscribe)
}
