package progressbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed early after %d/%d events", len(out), n)
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestEmitThenSubscribeReplaysBufferedEvents(t *testing.T) {
	b := New()
	b.Emit("req-1", Event{ProcessedChannels: 1, TotalChannels: 3, CurrentChannel: "a"})
	b.Emit("req-1", Event{ProcessedChannels: 2, TotalChannels: 3, CurrentChannel: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-1")

	got := drain(t, ch, 2, time.Second)
	assert.Equal(t, "a", got[0].CurrentChannel)
	assert.Equal(t, "b", got[1].CurrentChannel)
}

func TestLateSubscriberAfterCompleteStillReceivesFullHistory(t *testing.T) {
	b := New()
	b.Emit("req-2", Event{CurrentChannel: "a"})
	b.Emit("req-2", Event{CurrentChannel: "b"})
	b.Emit("req-2", Event{CurrentChannel: "c"})
	b.Complete("req-2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-2")

	got := drain(t, ch, 4, time.Second)
	assert.Equal(t, "a", got[0].CurrentChannel)
	assert.Equal(t, "b", got[1].CurrentChannel)
	assert.Equal(t, "c", got[2].CurrentChannel)
	assert.Equal(t, "Clustering complete!", got[3].CurrentChannel)

	_, ok := <-ch
	assert.False(t, ok, "channel should close after terminal event")
}

func TestFailEmitsErrorAsTerminalEvent(t *testing.T) {
	b := New()
	b.Emit("req-3", Event{CurrentChannel: "a"})
	b.Fail("req-3", "boom")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-3")

	got := drain(t, ch, 2, time.Second)
	assert.Equal(t, "boom", got[1].Error)
}

func TestEmitAfterTerminalIsIgnored(t *testing.T) {
	b := New()
	b.Complete("req-4")
	b.Emit("req-4", Event{CurrentChannel: "should not appear"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-4")

	got := drain(t, ch, 1, time.Second)
	assert.Equal(t, "Clustering complete!", got[0].CurrentChannel)
}

func TestOverflowDropsOldestKeepsNewest(t *testing.T) {
	b := &Bus{requests: make(map[string]*requestState), queueSize: 2, keepalive: DefaultKeepalive, gracePeriod: DefaultGracePeriod}
	b.Emit("req-5", Event{CurrentChannel: "a"})
	b.Emit("req-5", Event{CurrentChannel: "b"})
	b.Emit("req-5", Event{CurrentChannel: "c"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-5")

	got := drain(t, ch, 2, time.Second)
	assert.Equal(t, "b", got[0].CurrentChannel)
	assert.Equal(t, "c", got[1].CurrentChannel)
}

func TestKeepaliveEmittedWhenIdle(t *testing.T) {
	b := &Bus{requests: make(map[string]*requestState), queueSize: DefaultQueueSize, keepalive: 10 * time.Millisecond, gracePeriod: DefaultGracePeriod}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-6")

	got := drain(t, ch, 1, time.Second)
	assert.True(t, IsKeepalive(got[0]))
}

type recordingMirror struct {
	events []any
}

func (r *recordingMirror) Publish(_ context.Context, requestID string, event any) {
	r.events = append(r.events, event)
}

func TestMirrorReceivesEveryEvent(t *testing.T) {
	m := &recordingMirror{}
	b := New(WithMirror(m))
	b.Emit("req-7", Event{CurrentChannel: "a"})
	b.Complete("req-7")

	require.Len(t, m.events, 2)
}

func TestExistsFalseForUnknownRequestID(t *testing.T) {
	b := New()
	assert.False(t, b.Exists("never-seen"))
}

func TestRegisterMarksRequestIDKnownBeforeAnyEmit(t *testing.T) {
	b := New()
	b.Register("req-8")
	assert.True(t, b.Exists("req-8"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, "req-8")

	b.Emit("req-8", Event{CurrentChannel: "a"})
	got := drain(t, ch, 1, time.Second)
	assert.Equal(t, "a", got[0].CurrentChannel)
}

func TestExistsTrueAfterEmit(t *testing.T) {
	b := New()
	b.Emit("req-9", Event{CurrentChannel: "a"})
	assert.True(t, b.Exists("req-9"))
}
