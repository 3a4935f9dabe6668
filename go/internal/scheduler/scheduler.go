// Package scheduler issues store writes per key, either after a quiet
// period (debounced) or right away (immediate).
//
// At most one write per key is in flight. Requests arriving while a write
// is in flight are coalesced into a single follow-up write carrying the
// newest value. Failed writes are logged and reported to their callbacks;
// they are never retried.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

const (
	DefaultDelay        = 700 * time.Millisecond
	DefaultWriteTimeout = 10 * time.Second
)

var (
	// ErrCanceled resolves writes that were dropped by Cancel or Close
	// before they reached the store.
	ErrCanceled = errors.New("write canceled")
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("scheduler is closed")
)

// Writer is the part of store.Store the scheduler needs.
type Writer interface {
	Set(ctx context.Context, patch store.Patch) error
}

// Payload is the value written under a key. Committed, if set, is called
// once with the outcome of the write that carried the value (or a later
// value that superseded it).
type Payload struct {
	Value     any
	Committed func(err error)
}

type request struct {
	produce   func() Payload
	value     any
	committed []func(error)
	waiters   []chan error
}

func (r *request) absorb(older *request) {
	r.committed = append(older.committed, r.committed...)
	r.waiters = append(older.waiters, r.waiters...)
}

func (r *request) resolve(err error) {
	for _, fn := range r.committed {
		fn(err)
	}
	for _, w := range r.waiters {
		w <- err
		close(w)
	}
}

type entry struct {
	timer    clockwork.Timer
	stop     chan struct{}
	gen      uint64
	produce  func() Payload
	inFlight bool
	next     *request
}

type Config struct {
	Delay        time.Duration
	WriteTimeout time.Duration
}

// Scheduler owns one debounce timer and one write lane per key.
type Scheduler struct {
	clock   clockwork.Clock
	writer  Writer
	metrics MetricsCollector
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	active  int
	idle    chan struct{}
	closed  bool
}

// New creates a scheduler writing through w. A nil clock uses the real
// clock and nil metrics disables collection.
func New(clock clockwork.Clock, w Writer, cfg Config, metrics MetricsCollector) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		clock:   clock,
		writer:  w,
		metrics: metrics,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		idle:    idle,
	}
}

// ScheduleDebounced (re)starts the quiet period for key. When it elapses
// without another call for the same key, produce is called and its value
// written. produce runs without any scheduler lock held, so it may read
// state guarded by the caller's own locks.
func (s *Scheduler) ScheduleDebounced(key string, produce func() Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	e := s.entryLocked(key)
	if e.timer != nil {
		s.metrics.RecordDebounceReset(key)
	}
	s.stopTimerLocked(e)

	e.gen++
	e.produce = produce
	e.timer = s.clock.NewTimer(s.cfg.Delay)
	e.stop = make(chan struct{})

	go s.waitTimer(key, e.gen, e.timer, e.stop)

	log.Debug().
		Str("key", key).
		Dur("delay", s.cfg.Delay).
		Msg("scheduled debounced write")
}

// FlushImmediate cancels any pending debounce for key and writes p right
// away, or as the next write for key if one is in flight. The returned
// channel receives the outcome of the write and is then closed.
func (s *Scheduler) FlushImmediate(key string, p Payload) <-chan error {
	done := make(chan error, 1)

	req := &request{value: p.Value, waiters: []chan error{done}}
	if p.Committed != nil {
		req.committed = []func(error){p.Committed}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		req.resolve(ErrClosed)
		return done
	}
	e := s.entryLocked(key)
	if s.stopTimerLocked(e) {
		e.gen++
		e.produce = nil
	}
	start := s.enqueueLocked(key, e, req)
	s.mu.Unlock()

	if start {
		go s.run(key, req)
	}
	return done
}

// Cancel drops the pending debounce and any queued follow-up write for
// key. A write already in flight is not interrupted.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if s.stopTimerLocked(e) {
		e.gen++
		e.produce = nil
	}
	next := e.next
	e.next = nil
	if !e.inFlight {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if next != nil {
		s.metrics.RecordCanceled(key)
		next.resolve(ErrCanceled)
	}
	log.Debug().Str("key", key).Msg("cancelled pending writes")
}

// Pending reports whether key has a debounce timer armed or a write in
// flight.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && (e.timer != nil || e.inFlight)
}

// Drain fires every armed debounce timer now and waits until no write is
// in flight.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	var starts []func()
	for key, e := range s.entries {
		if e.timer == nil {
			continue
		}
		s.stopTimerLocked(e)
		e.gen++
		req := &request{produce: e.produce}
		e.produce = nil
		if s.enqueueLocked(key, e, req) {
			k := key
			starts = append(starts, func() { go s.run(k, req) })
		}
	}
	idle := s.idle
	s.mu.Unlock()

	for _, start := range starts {
		start()
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every timer and drops queued writes. In-flight writes are
// cancelled through their context.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var dropped []*request
	for key, e := range s.entries {
		s.stopTimerLocked(e)
		if e.next != nil {
			dropped = append(dropped, e.next)
			e.next = nil
		}
		if !e.inFlight {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	s.cancel()
	for _, r := range dropped {
		r.resolve(ErrCanceled)
	}
}

func (s *Scheduler) entryLocked(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// stopTimerLocked stops the armed timer of e, if any, and reports whether
// there was one.
func (s *Scheduler) stopTimerLocked(e *entry) bool {
	if e.timer == nil {
		return false
	}
	stopAndDrainTimer(e.timer)
	close(e.stop)
	e.timer = nil
	e.stop = nil
	return true
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent goroutine leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// enqueueLocked either claims the write lane of key, in which case the
// caller must start run, or folds req into the follow-up write.
func (s *Scheduler) enqueueLocked(key string, e *entry, req *request) bool {
	if !e.inFlight {
		e.inFlight = true
		s.active++
		if s.active == 1 {
			s.idle = make(chan struct{})
		}
		return true
	}
	if e.next != nil {
		req.absorb(e.next)
		s.metrics.RecordCoalesced(key)
	}
	e.next = req
	return false
}

func (s *Scheduler) waitTimer(key string, gen uint64, t clockwork.Timer, stop chan struct{}) {
	select {
	case <-t.Chan():
		s.fire(key, gen)
	case <-stop:
	case <-s.ctx.Done():
		stopAndDrainTimer(t)
	}
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen || e.timer == nil {
		s.mu.Unlock()
		log.Debug().Str("key", key).Msg("stale debounce timer ignored")
		return
	}
	e.timer = nil
	e.stop = nil
	req := &request{produce: e.produce}
	e.produce = nil
	start := s.enqueueLocked(key, e, req)
	s.mu.Unlock()

	if start {
		go s.run(key, req)
	}
}

// run performs req and then any follow-up writes queued for key while it
// was in flight.
func (s *Scheduler) run(key string, req *request) {
	for req != nil {
		value := req.value
		if req.produce != nil {
			p := req.produce()
			value = p.Value
			if p.Committed != nil {
				req.committed = append(req.committed, p.Committed)
			}
		}

		err := s.write(key, value)
		req.resolve(err)

		s.mu.Lock()
		e := s.entries[key]
		req = e.next
		e.next = nil
		if req == nil {
			e.inFlight = false
			if e.timer == nil {
				delete(s.entries, key)
			}
			s.active--
			if s.active == 0 {
				close(s.idle)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) write(key string, value any) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()

	start := s.clock.Now()
	err := s.writer.Set(ctx, store.Patch{key: value})
	duration := s.clock.Since(start)
	s.metrics.RecordWrite(key, err == nil, duration)

	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("store write failed")
		return err
	}
	log.Debug().
		Str("key", key).
		Dur("duration", duration).
		Msg("store write committed")
	return nil
}
