// Package progressbus implements the in-process publish/subscribe
// registry that decouples long-running ingestion/clustering jobs from
// their SSE observers. It deliberately has no external broker: a bounded
// per-request queue plus a grace-period eviction is the entire mechanism,
// per the system's explicit redesign note against a globally mutable
// progress dict.
package progressbus

import (
	"context"
	"sync"
	"time"
)

// Event is the wire shape of a single progress update.
type Event struct {
	ProcessedChannels int    `json:"processedChannels"`
	TotalChannels     int    `json:"totalChannels"`
	CurrentChannel    string `json:"currentChannel"`
	Error             string `json:"error,omitempty"`
}

// Mirror is the subset of kafkabridge.Mirror the bus depends on, kept
// narrow so tests can substitute a no-op.
type Mirror interface {
	Publish(ctx context.Context, requestID string, event any)
}

const (
	// DefaultQueueSize is the minimum bound required by the specification.
	DefaultQueueSize = 256
	// DefaultKeepalive is the interval at which subscribers receive a
	// keepalive comment absent real events, so intermediaries do not
	// close an idle SSE connection.
	DefaultKeepalive = 15 * time.Second
	// DefaultGracePeriod is how long a completed/failed request's queue
	// survives so late subscribers can still replay it.
	DefaultGracePeriod = 30 * time.Second
)

// Bus is the progress event registry, keyed by caller-supplied request id.
type Bus struct {
	mu          sync.Mutex
	requests    map[string]*requestState
	queueSize   int
	keepalive   time.Duration
	gracePeriod time.Duration
	mirror      Mirror
}

type requestState struct {
	mu     sync.Mutex
	events []Event
	done   bool
	// notify is closed and replaced every time events/done changes, so
	// subscribers parked on it wake without a dedicated goroutine each.
	notify chan struct{}
	// evictAt is set once the request terminates; the reaper drops the
	// state once time.Now() passes it.
	evictAt time.Time
}

func (rs *requestState) wake() {
	close(rs.notify)
	rs.notify = make(chan struct{})
}

// Option configures a Bus.
type Option func(*Bus)

// WithMirror attaches an optional Kafka mirror that receives every emitted
// event, including the terminal one.
func WithMirror(m Mirror) Option { return func(b *Bus) { b.mirror = m } }

// New constructs a Bus with the specification's minimum bounds.
func New(opts ...Option) *Bus {
	b := &Bus{
		requests:    make(map[string]*requestState),
		queueSize:   DefaultQueueSize,
		keepalive:   DefaultKeepalive,
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) stateFor(requestID string) *requestState {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs, ok := b.requests[requestID]
	if !ok {
		rs = &requestState{notify: make(chan struct{})}
		b.requests[requestID] = rs
	}
	return rs
}

// Register marks request_id as known before its producer has emitted
// anything. Callers that hand request_id back to the caller before
// kicking off the producing job (e.g. a fire-and-forget POST that answers
// immediately and runs ingestion in the background) should call this
// synchronously so a subscriber that connects before the first Emit does
// not see request_id as unknown.
func (b *Bus) Register(requestID string) {
	b.stateFor(requestID)
}

// Exists reports whether request_id is known to the bus — registered or
// emitted to — and has not yet been reaped past its grace period. The
// httpapi layer uses this to return 404 for an SSE subscription on an
// unknown request_id (spec.md §7) instead of silently opening a stream
// that will never emit.
func (b *Bus) Exists(requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.requests[requestID]
	return ok
}

// Emit appends an event to request_id's queue. Non-blocking: if the queue
// is at capacity the oldest event is dropped, never the newest.
func (b *Bus) Emit(requestID string, event Event) {
	rs := b.stateFor(requestID)
	rs.mu.Lock()
	if rs.done {
		rs.mu.Unlock()
		return
	}
	rs.events = append(rs.events, event)
	if len(rs.events) > b.queueSize {
		rs.events = rs.events[len(rs.events)-b.queueSize:]
	}
	rs.wake()
	rs.mu.Unlock()

	if b.mirror != nil {
		b.mirror.Publish(context.Background(), requestID, event)
	}
}

// Complete emits a terminal success event and schedules eviction after the
// grace period.
func (b *Bus) Complete(requestID string) {
	b.terminate(requestID, Event{CurrentChannel: "Clustering complete!"})
}

// Fail emits a terminal error event and schedules eviction after the grace
// period.
func (b *Bus) Fail(requestID string, reason string) {
	b.terminate(requestID, Event{Error: reason})
}

func (b *Bus) terminate(requestID string, terminal Event) {
	rs := b.stateFor(requestID)
	rs.mu.Lock()
	if rs.done {
		rs.mu.Unlock()
		return
	}
	rs.events = append(rs.events, terminal)
	if len(rs.events) > b.queueSize {
		rs.events = rs.events[len(rs.events)-b.queueSize:]
	}
	rs.done = true
	rs.evictAt = time.Now().Add(b.gracePeriod)
	rs.wake()
	rs.mu.Unlock()

	if b.mirror != nil {
		b.mirror.Publish(context.Background(), requestID, terminal)
	}
	go b.reap(requestID, rs)
}

func (b *Bus) reap(requestID string, rs *requestState) {
	rs.mu.Lock()
	wait := time.Until(rs.evictAt)
	rs.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
	b.mu.Lock()
	if cur, ok := b.requests[requestID]; ok && cur == rs {
		delete(b.requests, requestID)
	}
	b.mu.Unlock()
}

// Subscribe returns a channel of events for request_id starting from the
// beginning of whatever is currently buffered. After each keepalive
// interval without a real event it sends the keepalive sentinel, which the
// caller detects with IsKeepalive. The returned channel is closed once the
// terminal event has been delivered or ctx is done. Each call sees the full retained stream independently.
func (b *Bus) Subscribe(ctx context.Context, requestID string) <-chan Event {
	rs := b.stateFor(requestID)
	out := make(chan Event)

	go func() {
		defer close(out)
		cursor := 0
		for {
			rs.mu.Lock()
			if cursor < len(rs.events) {
				ev := rs.events[cursor]
				cursor++
				terminal := rs.done && cursor == len(rs.events)
				rs.mu.Unlock()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if terminal {
					return
				}
				continue
			}
			if rs.done {
				rs.mu.Unlock()
				return
			}
			waitCh := rs.notify
			rs.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-waitCh:
			case <-time.After(b.keepalive):
				select {
				case out <- keepaliveEvent:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// keepaliveEvent is a sentinel the httpapi SSE bridge recognizes and
// writes as a ": ping" comment instead of a data line.
var keepaliveEvent = Event{CurrentChannel: "__keepalive__"}

// IsKeepalive reports whether e is the bus's keepalive sentinel.
func IsKeepalive(e Event) bool { return e == keepaliveEvent }
