// Package ingestor implements the Channel Ingestor (spec.md §4.4): fan out
// over a set of channel URLs with bounded concurrency, persist messages,
// resolve their outbound links, and emit progress to the Progress Bus.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chanalystd/internal/linkresolver"
	"chanalystd/internal/observability"
	"chanalystd/internal/progressbus"
	"chanalystd/internal/store"
	"chanalystd/internal/telegram"
)

// DefaultConcurrency is the spec's order-of-magnitude default for
// concurrent channel fetches.
const DefaultConcurrency = 4

// progressInterval is the minimum spacing between per-source progress
// emissions, per spec.md §4.4 ("at most one emit per second per source").
const progressInterval = time.Second

// urlPattern finds bare http(s) URLs in message text. Trailing sentence
// punctuation is stripped by trimTrailingPunct so "https://x.example/a,"
// yields "https://x.example/a".
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Ingestor is the Channel Ingestor. Construct with New.
type Ingestor struct {
	store       store.Store
	telegram    telegram.Client
	resolver    *linkresolver.Resolver
	bus         *progressbus.Bus
	concurrency int
}

// New builds an Ingestor. concurrency bounds the number of sources fetched
// at once; zero selects DefaultConcurrency.
func New(st store.Store, tg telegram.Client, resolver *linkresolver.Resolver, bus *progressbus.Bus, concurrency int) *Ingestor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Ingestor{store: st, telegram: tg, resolver: resolver, bus: bus, concurrency: concurrency}
}

// Request is the input to Run, per spec.md §4.4.
type Request struct {
	RequestID  string
	SourceURLs []string
	Since      time.Time
	Until      time.Time
}

// Run fetches and persists every source in req, resolving outbound links
// as it goes, emitting progress to the bus under req.RequestID, and always
// terminating with a Complete event (per-source failures are reported
// inline, never abort the batch).
func (ig *Ingestor) Run(ctx context.Context, req Request) error {
	log := observability.LoggerWithTrace(ctx)
	total := len(req.SourceURLs)

	for _, raw := range req.SourceURLs {
		canon := store.CanonicalizeURL(raw)
		if _, err := ig.store.UpsertSource(ctx, canon, canon, "telegram", "Uncategorized"); err != nil {
			log.Error().Err(err).Str("url", canon).Msg("ingestor_upsert_source_failed")
		}
	}

	ig.bus.Emit(req.RequestID, progressbus.Event{
		ProcessedChannels: 0,
		TotalChannels:     total,
		CurrentChannel:    "Initializing",
	})

	var processed int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ig.concurrency)

	for i, raw := range req.SourceURLs {
		i, raw := i, raw
		g.Go(func() error {
			sourceErr := ig.processSource(gctx, req.RequestID, i, total, raw, req.Since, req.Until)

			mu.Lock()
			processed++
			done := processed
			mu.Unlock()

			ev := progressbus.Event{
				ProcessedChannels: done,
				TotalChannels:     total,
				CurrentChannel:    fmt.Sprintf("Processing %d/%d: %s", i+1, total, raw),
			}
			if sourceErr != nil {
				ev.Error = sourceErr.Error()
				log.Warn().Err(sourceErr).Str("url", raw).Msg("ingestor_source_failed")
			}
			ig.bus.Emit(req.RequestID, ev)
			return nil // per-source failures never abort the batch
		})
	}

	_ = g.Wait() // errors are reported per-source above, never propagated
	ig.bus.Complete(req.RequestID)
	return nil
}

func (ig *Ingestor) processSource(ctx context.Context, requestID string, idx, total int, sourceURL string, since, until time.Time) error {
	msgs, err := ig.telegram.FetchChannelMessages(ctx, sourceURL, since, until)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	lastEmit := time.Time{}
	for i, m := range msgs {
		inserted, pk, err := ig.store.RecordMessage(ctx, "telegram", sourceURL, m.MessageID, sourceURL, m.Timestamp, m.Text)
		if err != nil {
			return fmt.Errorf("record message %s: %w", m.MessageID, err)
		}
		if inserted {
			if err := ig.resolveLinks(ctx, pk, m.Text); err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Int64("pk", pk).Msg("ingestor_resolve_links_failed")
			}
		}

		if time.Since(lastEmit) >= progressInterval {
			ig.bus.Emit(requestID, progressbus.Event{
				ProcessedChannels: idx,
				TotalChannels:     total,
				CurrentChannel:    fmt.Sprintf("Processing %d/%d: %s (%d/%d messages)", idx+1, total, sourceURL, i+1, len(msgs)),
			})
			lastEmit = time.Now()
		}
	}
	return nil
}

func (ig *Ingestor) resolveLinks(ctx context.Context, messagePK int64, text string) error {
	urls := ExtractURLs(text)
	if len(urls) == 0 {
		return nil
	}

	resolved := make(map[string]string, len(urls))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			summary, err := ig.resolver.Resolve(gctx, u)
			if err != nil {
				return nil // link-resolution failures are swallowed, per spec.md §4.4
			}
			if summary == "" {
				return nil
			}
			mu.Lock()
			resolved[u] = summary
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(resolved) == 0 {
		return nil
	}
	jsonText, err := marshalLinks(resolved)
	if err != nil {
		return err
	}
	return ig.store.AttachResolvedLinks(ctx, messagePK, jsonText)
}

// ExtractURLs returns every http(s) URL in text, in order of appearance,
// with trailing sentence punctuation stripped.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, trimTrailingPunct(m))
	}
	return out
}

func trimTrailingPunct(s string) string {
	return strings.TrimRight(s, ".,;:!?)\"'")
}

func marshalLinks(resolved map[string]string) (string, error) {
	b, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("marshal resolved links: %w", err)
	}
	return string(b), nil
}
