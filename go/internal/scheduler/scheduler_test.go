package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichas-one/fichas/go/internal/store"
)

type recordingWriter struct {
	mu      sync.Mutex
	patches []store.Patch
	gate    chan struct{}
	err     error
}

func (w *recordingWriter) Set(ctx context.Context, p store.Patch) error {
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patches = append(w.patches, p)
	return w.err
}

func (w *recordingWriter) writes() []store.Patch {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]store.Patch, len(w.patches))
	copy(out, w.patches)
	return out
}

func value(v any) func() Payload {
	return func() Payload { return Payload{Value: v} }
}

func newTestScheduler(t *testing.T, w Writer) (*Scheduler, *clockwork.FakeClock, *CounterMetrics) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	metrics := NewCounterMetrics()
	s := New(clock, w, Config{Delay: 700 * time.Millisecond}, metrics)
	t.Cleanup(s.Close)
	return s, clock, metrics
}

func TestScheduleDebounced_CoalescesWithinQuietPeriod(t *testing.T) {
	w := &recordingWriter{}
	s, clock, metrics := newTestScheduler(t, w)

	s.ScheduleDebounced("sheet-a", value("A"))
	clock.Advance(100 * time.Millisecond)
	s.ScheduleDebounced("sheet-a", value("B"))

	clock.Advance(699 * time.Millisecond)
	require.Never(t, func() bool { return len(w.writes()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(w.writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, store.Patch{"sheet-a": "B"}, w.writes()[0])
	assert.Equal(t, int64(1), metrics.Snapshot().DebounceResets)
}

func TestScheduleDebounced_KeysAreIndependent(t *testing.T) {
	w := &recordingWriter{}
	s, clock, _ := newTestScheduler(t, w)

	s.ScheduleDebounced("sheet-a", value(1))
	s.ScheduleDebounced("sheet-b", value(2))
	clock.Advance(700 * time.Millisecond)

	require.Eventually(t, func() bool { return len(w.writes()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []store.Patch{{"sheet-a": 1}, {"sheet-b": 2}}, w.writes())
}

func TestFlushImmediate_CancelsPendingDebounce(t *testing.T) {
	w := &recordingWriter{}
	s, clock, _ := newTestScheduler(t, w)

	s.ScheduleDebounced("sheet-a", value("queued"))
	require.NoError(t, <-s.FlushImmediate("sheet-a", Payload{Value: "now"}))

	clock.Advance(time.Second)
	require.Never(t, func() bool { return len(w.writes()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []store.Patch{{"sheet-a": "now"}}, w.writes())
	assert.False(t, s.Pending("sheet-a"))
}

func TestFlushImmediate_CoalescesBehindInFlightWrite(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{})}
	s, _, metrics := newTestScheduler(t, w)

	var committed []string
	var mu sync.Mutex
	track := func(name string) func(error) {
		return func(err error) {
			assert.NoError(t, err)
			mu.Lock()
			committed = append(committed, name)
			mu.Unlock()
		}
	}

	a := s.FlushImmediate("roster", Payload{Value: "A", Committed: track("A")})
	b := s.FlushImmediate("roster", Payload{Value: "B", Committed: track("B")})
	c := s.FlushImmediate("roster", Payload{Value: "C", Committed: track("C")})
	assert.True(t, s.Pending("roster"))

	close(w.gate)
	require.NoError(t, <-a)
	require.NoError(t, <-b)
	require.NoError(t, <-c)

	assert.Equal(t, []store.Patch{{"roster": "A"}, {"roster": "C"}}, w.writes())
	assert.Equal(t, []string{"A", "B", "C"}, committed)
	assert.Equal(t, int64(1), metrics.Snapshot().Coalesced)
}

func TestProduceRunsWhenWriteStarts(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{})}
	s, clock, _ := newTestScheduler(t, w)

	first := s.FlushImmediate("sheet-a", Payload{Value: 1})

	var mu sync.Mutex
	latest := 2
	s.ScheduleDebounced("sheet-a", func() Payload {
		mu.Lock()
		defer mu.Unlock()
		return Payload{Value: latest}
	})
	clock.Advance(700 * time.Millisecond)
	require.Eventually(t, func() bool { return !hasTimer(s, "sheet-a") }, time.Second, 5*time.Millisecond)

	mu.Lock()
	latest = 3
	mu.Unlock()
	close(w.gate)

	require.NoError(t, <-first)
	require.Eventually(t, func() bool { return len(w.writes()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, store.Patch{"sheet-a": 3}, w.writes()[1])
}

func TestFailedWriteIsNotRetried(t *testing.T) {
	boom := errors.New("boom")
	w := &recordingWriter{err: boom}
	s, clock, metrics := newTestScheduler(t, w)

	var got error
	done := s.FlushImmediate("sheet-a", Payload{Value: 1, Committed: func(err error) { got = err }})
	assert.ErrorIs(t, <-done, boom)
	assert.ErrorIs(t, got, boom)

	clock.Advance(time.Minute)
	require.Never(t, func() bool { return len(w.writes()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, int64(1), metrics.Snapshot().WriteFailures)
}

func TestCancel_DropsPendingDebounce(t *testing.T) {
	w := &recordingWriter{}
	s, clock, _ := newTestScheduler(t, w)

	s.ScheduleDebounced("sheet-a", value("A"))
	require.True(t, s.Pending("sheet-a"))
	s.Cancel("sheet-a")
	assert.False(t, s.Pending("sheet-a"))

	clock.Advance(time.Second)
	require.Never(t, func() bool { return len(w.writes()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCancel_ResolvesQueuedFollowUp(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{})}
	s, _, _ := newTestScheduler(t, w)

	first := s.FlushImmediate("sheet-a", Payload{Value: 1})
	queued := s.FlushImmediate("sheet-a", Payload{Value: 2})
	s.Cancel("sheet-a")
	assert.ErrorIs(t, <-queued, ErrCanceled)

	close(w.gate)
	require.NoError(t, <-first)
	assert.Equal(t, []store.Patch{{"sheet-a": 1}}, w.writes())
}

func TestDrain_FiresArmedTimers(t *testing.T) {
	w := &recordingWriter{}
	s, _, _ := newTestScheduler(t, w)

	s.ScheduleDebounced("sheet-a", value("A"))
	s.ScheduleDebounced("sheet-b", value("B"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))
	assert.ElementsMatch(t, []store.Patch{{"sheet-a": "A"}, {"sheet-b": "B"}}, w.writes())
}

func TestClose_RejectsNewWrites(t *testing.T) {
	w := &recordingWriter{}
	s, _, _ := newTestScheduler(t, w)
	s.Close()

	assert.ErrorIs(t, <-s.FlushImmediate("sheet-a", Payload{Value: 1}), ErrClosed)
	s.ScheduleDebounced("sheet-a", value(1))
	assert.False(t, s.Pending("sheet-a"))
}

func hasTimer(s *Scheduler, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.timer != nil
}
