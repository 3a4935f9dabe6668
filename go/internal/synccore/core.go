// Package synccore is the composition root of the synchronization engine.
//
// A Core owns the record cache, the local edit buffer and the
// reconciliation engine for one client in one room. All of that state is
// guarded by a single mutex, so local edits and remote snapshots are
// applied one at a time. Store calls are never made while it is held.
package synccore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/cache"
	"github.com/fichas-one/fichas/go/internal/debuglog"
	"github.com/fichas-one/fichas/go/internal/identity"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/reconcile"
	"github.com/fichas-one/fichas/go/internal/scheduler"
	"github.com/fichas-one/fichas/go/internal/store"
)

var (
	ErrNotOwner        = errors.New("operation requires the master role")
	ErrSheetNotFound   = errors.New("sheet not found")
	ErrRollInProgress  = errors.New("a roll is already in progress")
	ErrNotStarted      = errors.New("sync core not started")
	ErrInvalidField    = errors.New("invalid field value")
	ErrMonsterNotFound = errors.New("monster not found")
	ErrInvalidMonster  = errors.New("invalid monster name")
	ErrStreamClosed    = errors.New("snapshot stream closed")
)

const DefaultRollDelay = 1500 * time.Millisecond

type Options struct {
	Clock        clockwork.Clock
	Debounce     time.Duration
	RollDelay    time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// DebugLog receives store failures for the master's debug view. A
	// ring with the default size is created when nil.
	DebugLog *debuglog.Ring
}

// Stats is a point-in-time view of the core's counters.
type Stats struct {
	Writes    scheduler.Stats `json:"writes"`
	Snapshots int64           `json:"snapshots"`
	Sheets    int             `json:"sheets"`
	Logs      int             `json:"logs"`
	Pending   int             `json:"pending_fields"`
}

type Core struct {
	store   store.Store
	ident   identity.Provider
	clock   clockwork.Clock
	opts    Options
	sched   *scheduler.Scheduler
	metrics *scheduler.CounterMetrics
	ring    *debuglog.Ring
	debug   zerolog.Logger

	mu      sync.Mutex
	started bool
	localID string
	role    models.Role
	ownKey  string
	cache   *cache.Cache
	engine  *reconcile.Engine
	// dirty maps own-sheet fields to the edit generation that last
	// touched them. A field leaves the map once a write carrying that
	// generation (or a later one) is acknowledged.
	dirty   map[string]uint64
	gen     uint64
	created bool
	watch   <-chan store.Snapshot

	rolling   atomic.Bool
	snapshots atomic.Int64
	changes   chan struct{}
}

// New creates a Core. Start must be called before use.
func New(s store.Store, ident identity.Provider, opts Options) *Core {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RollDelay < 0 {
		opts.RollDelay = 0
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = scheduler.DefaultWriteTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = scheduler.DefaultWriteTimeout
	}
	if opts.DebugLog == nil {
		opts.DebugLog = debuglog.New(debuglog.DefaultSize, zerolog.WarnLevel)
	}

	metrics := scheduler.NewCounterMetrics()
	c := &Core{
		store:   s,
		ident:   ident,
		clock:   opts.Clock,
		opts:    opts,
		metrics: metrics,
		ring:    opts.DebugLog,
		debug:   zerolog.New(opts.DebugLog).With().Timestamp().Logger(),
		cache:   cache.New(),
		dirty:   make(map[string]uint64),
		changes: make(chan struct{}, 1),
	}
	c.sched = scheduler.New(opts.Clock, s, scheduler.Config{
		Delay:        opts.Debounce,
		WriteTimeout: opts.WriteTimeout,
	}, metrics)
	return c
}

// Start resolves the local identity, seeds the cache from one full
// snapshot and subscribes to change notifications. ctx bounds the
// subscription.
func (c *Core) Start(ctx context.Context) error {
	id, err := c.ident.LocalID(ctx)
	if err != nil {
		return fmt.Errorf("resolve local id: %w", err)
	}
	role, err := c.ident.LocalRole(ctx)
	if err != nil {
		return fmt.Errorf("resolve local role: %w", err)
	}

	// Subscribe before reading so no change between the two is missed.
	watch, err := c.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch room: %w", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, c.opts.ReadTimeout)
	snap, err := c.store.GetAll(readCtx)
	cancel()
	if err != nil {
		c.debug.Error().Err(err).Msg("initial snapshot failed")
		return fmt.Errorf("fetch initial snapshot: %w", err)
	}

	c.mu.Lock()
	c.localID = id
	c.role = role
	c.ownKey = models.SheetKey(id)
	c.engine = reconcile.New(c.cache, c.ownKey)
	c.engine.OnSnapshot(snap, c.localStateLocked())
	_, c.created = snap[c.ownKey]
	c.watch = watch
	c.started = true
	sheets := len(c.cache.Keys(models.SheetPrefix))
	c.mu.Unlock()

	c.snapshots.Add(1)
	c.notify()

	log.Info().
		Str("player_id", id).
		Str("role", string(role)).
		Bool("own_sheet", c.created).
		Int("sheets", sheets).
		Msg("sync core started")
	return nil
}

// Run applies every snapshot from the store until ctx is done or the
// subscription ends.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	watch, started := c.watch, c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-watch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamClosed
			}
			c.apply(snap)
		}
	}
}

// Flush writes every pending debounced edit now and waits for all
// in-flight writes.
func (c *Core) Flush(ctx context.Context) error {
	return c.sched.Drain(ctx)
}

// Close stops the scheduler. Pending debounced edits are dropped; call
// Flush first to keep them.
func (c *Core) Close() {
	c.sched.Close()
}

func (c *Core) apply(snap store.Snapshot) {
	c.mu.Lock()
	res := c.engine.OnSnapshot(snap, c.localStateLocked())
	if _, ok := snap[c.ownKey]; ok {
		c.created = true
	}
	c.mu.Unlock()

	c.snapshots.Add(1)
	if res.Changed() {
		c.notify()
	}
}

func (c *Core) localStateLocked() reconcile.LocalState {
	protected := make(map[string]bool, len(c.dirty))
	for f := range c.dirty {
		protected[f] = true
	}
	return reconcile.LocalState{
		Protected:   protected,
		Unpersisted: len(c.dirty) > 0,
	}
}

func (c *Core) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Changes signals after the visible state changed. Signals are coalesced;
// read the state again after each one.
func (c *Core) Changes() <-chan struct{} {
	return c.changes
}

// LocalID returns the local client's ID.
func (c *Core) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Role returns the local client's role.
func (c *Core) Role() models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Sheet returns the sheet owned by ownerID. ok is false when the room has
// no such sheet yet.
func (c *Core) Sheet(ownerID string) (models.Sheet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.cache.Get(models.SheetKey(ownerID))
	if !ok {
		return models.Sheet{}, false
	}
	return models.SheetFromRecord(ownerID, rec), true
}

// Sheets returns every known sheet ordered by owner ID.
func (c *Core) Sheets() []models.Sheet {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.cache.Keys(models.SheetPrefix)
	out := make([]models.Sheet, 0, len(keys))
	for _, key := range keys {
		rec, _ := c.cache.Get(key)
		owner, _ := models.SheetOwner(key)
		out = append(out, models.SheetFromRecord(owner, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out
}

// LocalSheet returns the local client's editable sheet, with defaults if
// it has not been created yet.
func (c *Core) LocalSheet() models.Sheet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.SheetFromRecord(c.localID, c.ownRecordLocked())
}

// Roster returns the monster roster.
func (c *Core) Roster() []models.RosterEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Roster()
}

// Logs returns the roll log, newest first.
func (c *Core) Logs() []models.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Logs()
}

// DebugLog returns the recent store failures, oldest first.
func (c *Core) DebugLog() []debuglog.Entry {
	return c.ring.Entries()
}

// Stats returns the core's counters.
func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Writes:    c.metrics.Snapshot(),
		Snapshots: c.snapshots.Load(),
		Sheets:    len(c.cache.Keys(models.SheetPrefix)),
		Logs:      len(c.cache.LogKeys()),
		Pending:   len(c.dirty),
	}
}

func (c *Core) ownRecordLocked() models.Record {
	rec, ok := c.cache.Get(c.ownKey)
	if !ok {
		return models.DefaultSheet()
	}
	base := models.DefaultSheet()
	for k, v := range rec {
		base[k] = v
	}
	return base
}

func (c *Core) checkStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	return nil
}

func (c *Core) checkMaster() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	if !c.role.IsMaster() {
		return ErrNotOwner
	}
	return nil
}

// await waits for a scheduled write to resolve.
func await(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeFailed records a failed store call in the debug log.
func (c *Core) writeFailed(key string, err error) {
	c.debug.Error().Err(err).Str("key", key).Msg("store write failed")
}
