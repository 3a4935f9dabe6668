package synccore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/codec"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/scheduler"
)

// SubmitLocalEdit applies field changes to the local sheet and schedules
// a debounced write of the whole sheet. Master-only fields are ignored.
// Nothing is applied if any value is invalid.
func (c *Core) SubmitLocalEdit(fields map[string]any) error {
	if err := c.checkStarted(); err != nil {
		return err
	}

	normalized := make(map[string]any, len(fields))
	for name, raw := range fields {
		if models.MasterOnlyFields[name] {
			log.Debug().Str("field", name).Msg("ignoring master-only field in local edit")
			continue
		}
		v, ok := codec.NormalizeField(name, raw)
		if !ok {
			return fmt.Errorf("%w: %s=%v", ErrInvalidField, name, raw)
		}
		normalized[name] = v
	}
	if len(normalized) == 0 {
		return nil
	}

	c.mu.Lock()
	rec := c.ownRecordLocked()
	c.gen++
	for name, v := range normalized {
		rec[name] = v
		c.dirty[name] = c.gen
	}
	c.cache.UpsertLocal(c.ownKey, rec)
	c.engine.Forget(c.ownKey)
	key := c.ownKey
	c.mu.Unlock()

	c.notify()
	c.sched.ScheduleDebounced(key, c.produceOwnSheet)
	return nil
}

// produceOwnSheet captures the current local sheet for a write.
func (c *Core) produceOwnSheet() scheduler.Payload {
	c.mu.Lock()
	rec := c.ownRecordLocked()
	gen := c.gen
	c.mu.Unlock()

	return scheduler.Payload{
		Value:     codec.EncodeSheet(rec),
		Committed: c.ownSheetCommitted(gen),
	}
}

// ownSheetCommitted releases the self-echo protection of every field the
// write carried. Fields of a failed write stay protected until a later
// write succeeds.
func (c *Core) ownSheetCommitted(gen uint64) func(error) {
	return func(err error) {
		c.mu.Lock()
		key := c.ownKey
		if err == nil {
			for name, g := range c.dirty {
				if g <= gen {
					delete(c.dirty, name)
				}
			}
			c.created = true
		}
		c.mu.Unlock()

		if err != nil {
			c.writeFailed(key, err)
		}
	}
}

// RollResult is the outcome of one dice roll.
type RollResult struct {
	// Result is shown as the sheet's last result and pushed to its history.
	Result string
	// Message is the roll log text. Defaults to Result.
	Message string
	// Autor is the log author. Defaults to the sheet name, then the local ID.
	Autor string
}

// SubmitRollResult records a roll on the local sheet, writes the sheet
// immediately and appends a new log record. The log entry reaches the
// local view through the next snapshot, like everyone else's.
func (c *Core) SubmitRollResult(ctx context.Context, roll RollResult) error {
	if err := c.checkStarted(); err != nil {
		return err
	}

	c.mu.Lock()
	rec := c.ownRecordLocked()
	history := codec.DecodeList(rec[models.FieldHistorico])
	history = append([]string{roll.Result}, history...)
	if len(history) > models.MaxHistory {
		history = history[:models.MaxHistory]
	}
	rec[models.FieldUltimoResultado] = roll.Result
	rec[models.FieldHistorico] = history

	c.gen++
	c.dirty[models.FieldUltimoResultado] = c.gen
	c.dirty[models.FieldHistorico] = c.gen
	c.cache.UpsertLocal(c.ownKey, rec)
	c.engine.Forget(c.ownKey)

	now := c.clock.Now()
	entry := models.LogEntry{
		Key:       models.NewLogKey(now),
		Msg:       roll.Message,
		Autor:     roll.Autor,
		Timestamp: now.UnixMilli(),
	}
	if entry.Msg == "" {
		entry.Msg = roll.Result
	}
	if entry.Autor == "" {
		entry.Autor, _ = rec[models.FieldNome].(string)
	}
	if entry.Autor == "" {
		entry.Autor = c.localID
	}

	key := c.ownKey
	sheetPayload := scheduler.Payload{
		Value:     codec.EncodeSheet(rec),
		Committed: c.ownSheetCommitted(c.gen),
	}
	c.mu.Unlock()
	c.notify()

	sheetDone := c.sched.FlushImmediate(key, sheetPayload)
	logDone := c.sched.FlushImmediate(entry.Key, scheduler.Payload{
		Value: entry.Wire(),
		Committed: func(err error) {
			if err != nil {
				c.writeFailed(entry.Key, err)
			}
		},
	})

	// Once queued the writes are waited out even if ctx is cancelled, so a
	// roll stays in progress until both have resolved. WriteTimeout bounds
	// the wait.
	waitCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := await(waitCtx, sheetDone); err != nil {
		errs = append(errs, fmt.Errorf("write sheet: %w", err))
	}
	if err := await(waitCtx, logDone); err != nil {
		errs = append(errs, fmt.Errorf("write log: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Str("log_key", entry.Key).
			Str("result", roll.Result).
			Msg("roll not fully persisted")
		return err
	}
	log.Info().
		Str("key", key).
		Str("log_key", entry.Key).
		Str("result", roll.Result).
		Msg("roll submitted")
	return nil
}

// Roll runs one dice roll: it waits RollDelay, then calls compute and
// submits its result. Only one roll runs at a time; the guard is released
// once the roll's writes resolve. Cancelling ctx during the delay aborts
// the roll; once the writes are queued Roll waits for them regardless.
func (c *Core) Roll(ctx context.Context, compute func() RollResult) (RollResult, error) {
	if err := c.checkStarted(); err != nil {
		return RollResult{}, err
	}
	if !c.rolling.CompareAndSwap(false, true) {
		return RollResult{}, ErrRollInProgress
	}
	defer c.rolling.Store(false)

	if c.opts.RollDelay > 0 {
		select {
		case <-c.clock.After(c.opts.RollDelay):
		case <-ctx.Done():
			return RollResult{}, ctx.Err()
		}
	}

	result := compute()
	return result, c.SubmitRollResult(ctx, result)
}

// Rolling reports whether a roll is in progress.
func (c *Core) Rolling() bool {
	return c.rolling.Load()
}

// PendingFields returns the own-sheet fields not yet acknowledged by the
// store, sorted.
func (c *Core) PendingFields() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.dirty))
	for name := range c.dirty {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
