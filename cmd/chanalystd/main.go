// Command chanalystd runs the channel ingestion and analysis backend: it
// wires the Store, Progress Bus, Link Resolver, Channel Ingestor,
// Clusterer, Summarizer, and Insights Generator behind the HTTP API and
// serves it until terminated.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"chanalystd/internal/clusterer"
	"chanalystd/internal/config"
	"chanalystd/internal/httpapi"
	"chanalystd/internal/ingestor"
	"chanalystd/internal/insights"
	"chanalystd/internal/kafkabridge"
	"chanalystd/internal/linkresolver"
	"chanalystd/internal/llm"
	"chanalystd/internal/objectstore"
	"chanalystd/internal/observability"
	"chanalystd/internal/orchestrator"
	"chanalystd/internal/progressbus"
	"chanalystd/internal/store"
	"chanalystd/internal/summarizer"
	"chanalystd/internal/telegram"
	"chanalystd/internal/webfetch"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		// logger isn't initialized yet; this is the one startup failure
		// reported without structured logging.
		println("failed to load config:", err.Error())
		return 1
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdownOTel, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	ctx := context.Background()
	httpClient := observability.NewHTTPClient(nil)

	st, err := store.New(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init store")
	}
	defer st.Close()

	var mirror *kafkabridge.Mirror
	if cfg.Kafka.Brokers != "" {
		writer, err := kafkabridge.NewProducerFromBrokers(cfg.Kafka.Brokers)
		if err != nil {
			log.Warn().Err(err).Msg("kafka producer init failed, progress bus will not mirror events")
		} else {
			mirror = kafkabridge.NewMirror(writer, cfg.Kafka.Topic)
		}
	}
	var busOpts []progressbus.Option
	if mirror != nil {
		busOpts = append(busOpts, progressbus.WithMirror(mirror))
	}
	bus := progressbus.New(busOpts...)

	var dedupe orchestrator.DedupeStore
	if cfg.Redis.Addr != "" {
		redisDedupe, err := orchestrator.NewRedisDedupeStore(cfg.Redis.Addr)
		if err != nil {
			log.Warn().Err(err).Msg("redis dedupe store unavailable, falling back to in-memory")
			dedupe = orchestrator.NewMemoryDedupeStore()
		} else {
			dedupe = redisDedupe
		}
	} else {
		dedupe = orchestrator.NewMemoryDedupeStore()
	}

	objects, err := objectstore.NewStore(ctx, cfg.S3)
	if err != nil {
		log.Warn().Err(err).Msg("object store init failed, falling back to in-memory")
		objects = objectstore.NewMemoryStore()
	}

	provider, err := llm.NewProvider(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init LLM provider")
	}

	fetcher := webfetch.NewFetcher()
	tgClient := telegram.NewPreviewClient(telegram.WithHTTPClient(httpClient))

	resolver := linkresolver.New(st, fetcher, provider, dedupe, cfg.LinkConcurrency, cfg.LinkAttemptCap, cfg.LinkAttemptWindow)
	ing := ingestor.New(st, tgClient, resolver, bus, cfg.IngestConcurrency)
	clus := clusterer.New(provider, bus)
	summ := summarizer.New(st, provider, cfg.SummarizerTimeout)
	ins := insights.New(st, provider)

	srv := httpapi.NewServer(httpapi.Deps{
		Store:          st,
		Bus:            bus,
		Ingestor:       ing,
		Clusterer:      clus,
		Summarizer:     summ,
		Insights:       ins,
		Objects:        objects,
		RequestTimeout: cfg.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("chanalystd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
		return 1
	}
	log.Info().Msg("chanalystd stopped")
	return 0
}
