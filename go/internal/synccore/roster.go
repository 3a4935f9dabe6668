package synccore

import (
	"context"
	"fmt"
	"strings"

	"github.com/fichas-one/fichas/go/internal/codec"
	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/scheduler"
)

// AddMonster appends a monster to the roster.
func (c *Core) AddMonster(ctx context.Context, name string, value int) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, codec.ListDelimiter) {
		return fmt.Errorf("%w: %q", ErrInvalidMonster, name)
	}
	return c.updateRoster(ctx, func(r []models.RosterEntry) ([]models.RosterEntry, error) {
		return append(r, models.RosterEntry{Name: name, Value: codec.NonNegative(value)}), nil
	})
}

// SetMonsterValue changes the value of the monster at index.
func (c *Core) SetMonsterValue(ctx context.Context, index, value int) error {
	return c.updateRoster(ctx, func(r []models.RosterEntry) ([]models.RosterEntry, error) {
		if index < 0 || index >= len(r) {
			return nil, fmt.Errorf("%w: index %d", ErrMonsterNotFound, index)
		}
		r[index].Value = codec.NonNegative(value)
		return r, nil
	})
}

// RemoveMonster drops the monster at index.
func (c *Core) RemoveMonster(ctx context.Context, index int) error {
	return c.updateRoster(ctx, func(r []models.RosterEntry) ([]models.RosterEntry, error) {
		if index < 0 || index >= len(r) {
			return nil, fmt.Errorf("%w: index %d", ErrMonsterNotFound, index)
		}
		return append(r[:index], r[index+1:]...), nil
	})
}

// ClearRoster resets the roster. The key is kept, holding an empty value.
func (c *Core) ClearRoster(ctx context.Context) error {
	return c.updateRoster(ctx, func([]models.RosterEntry) ([]models.RosterEntry, error) {
		return []models.RosterEntry{}, nil
	})
}

// updateRoster applies fn to the cached roster and writes the result
// immediately. The whole roster is replaced, so the last writer wins.
func (c *Core) updateRoster(ctx context.Context, fn func([]models.RosterEntry) ([]models.RosterEntry, error)) error {
	if err := c.checkStarted(); err != nil {
		return err
	}

	c.mu.Lock()
	next, err := fn(c.cache.Roster())
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cache.ReplaceRoster(next)
	c.engine.Forget(models.RosterKey)
	c.mu.Unlock()
	c.notify()

	done := c.sched.FlushImmediate(models.RosterKey, scheduler.Payload{
		Value: codec.EncodeRoster(next),
		Committed: func(err error) {
			if err != nil {
				c.writeFailed(models.RosterKey, err)
			}
		},
	})
	if err := await(ctx, done); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	return nil
}
