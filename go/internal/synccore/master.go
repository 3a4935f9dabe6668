package synccore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/codec"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/scheduler"
	"github.com/fichas-one/fichas/go/internal/store"
)

// ClearAllSheets deletes every known sheet in a single write. Pending
// writes for those sheets are dropped. The cache follows once the
// resulting snapshot arrives. If the write fails the local client's
// unsaved fields are protected and scheduled again.
func (c *Core) ClearAllSheets(ctx context.Context) error {
	if err := c.checkMaster(); err != nil {
		return err
	}

	c.mu.Lock()
	keys := c.cache.Keys(models.SheetPrefix)
	if len(keys) == 0 {
		c.mu.Unlock()
		return nil
	}
	saved := make(map[string]uint64, len(c.dirty))
	for k, gen := range c.dirty {
		saved[k] = gen
		delete(c.dirty, k)
	}
	c.mu.Unlock()

	patch := make(store.Patch, len(keys))
	for _, key := range keys {
		c.sched.Cancel(key)
		patch[key] = nil
	}

	if err := c.set(ctx, patch); err != nil {
		c.restorePending(saved)
		return fmt.Errorf("clear sheets: %w", err)
	}
	log.Info().Int("sheets", len(keys)).Msg("cleared all sheets")
	return nil
}

// restorePending puts back own-sheet fields dropped by a failed clear and
// schedules their write again. Fields edited meanwhile keep their newer
// generation.
func (c *Core) restorePending(saved map[string]uint64) {
	if len(saved) == 0 {
		return
	}
	c.mu.Lock()
	for k, gen := range saved {
		if _, ok := c.dirty[k]; !ok {
			c.dirty[k] = gen
		}
	}
	key := c.ownKey
	c.mu.Unlock()

	c.sched.ScheduleDebounced(key, c.produceOwnSheet)
}

// AdjustOwnedCounter sets the master-owned counter on ownerID's sheet. The
// whole cached record is written back with only the counter changed.
func (c *Core) AdjustOwnedCounter(ctx context.Context, ownerID string, value int) error {
	if err := c.checkMaster(); err != nil {
		return err
	}

	key := models.SheetKey(ownerID)
	c.mu.Lock()
	rec, ok := c.cache.Get(key)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSheetNotFound, ownerID)
	}
	rec[models.FieldAcoes] = codec.NonNegative(value)
	c.cache.UpsertLocal(key, rec)
	c.engine.Forget(key)
	c.mu.Unlock()
	c.notify()

	done := c.sched.FlushImmediate(key, scheduler.Payload{
		Value: codec.EncodeSheet(rec),
		Committed: func(err error) {
			if err != nil {
				c.writeFailed(key, err)
			}
		},
	})
	if err := await(ctx, done); err != nil {
		return fmt.Errorf("adjust %s: %w", key, err)
	}
	log.Info().Str("key", key).Int("acoes", codec.NonNegative(value)).Msg("adjusted counter")
	return nil
}

// ClearHistory deletes every known log record in a single write.
func (c *Core) ClearHistory(ctx context.Context) error {
	if err := c.checkMaster(); err != nil {
		return err
	}

	c.mu.Lock()
	keys := c.cache.LogKeys()
	c.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}

	patch := make(store.Patch, len(keys))
	for _, key := range keys {
		patch[key] = nil
	}
	if err := c.set(ctx, patch); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	log.Info().Int("logs", len(keys)).Msg("cleared roll history")
	return nil
}

// set issues a multi-key write directly. Multi-key writes bypass the
// per-key scheduler so they reach the store as one call.
func (c *Core) set(ctx context.Context, patch store.Patch) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	start := c.clock.Now()
	err := c.store.Set(ctx, patch)
	for _, key := range patch.Keys() {
		c.metrics.RecordWrite(key, err == nil, c.clock.Since(start))
	}
	if err != nil {
		log.Error().Err(err).Int("keys", len(patch)).Msg("store write failed")
		c.debug.Error().Err(err).Int("keys", len(patch)).Msg("store write failed")
		return err
	}
	return nil
}
