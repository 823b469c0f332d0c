package records

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// CycleService manages cycles, identified per user by their start date.
type CycleService struct {
	*base
}

// Save creates or updates a cycle and returns its id.
func (s *CycleService) Save(ctx context.Context, c *schema.Cycle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var id string
	err := s.c.Batch(func(tx *cache.Tx) error {
		saved, err := s.saveIn(tx, c.Clone())
		if err != nil {
			return err
		}
		id = saved.ID
		return nil
	})
	return id, err
}

func (s *CycleService) saveIn(tx *cache.Tx, c *schema.Cycle) (*schema.Cycle, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cycle: %w", err)
	}
	key := resolveExisting(tx, schema.TableCycles, c.ID)
	isNew := key == ""
	if isNew {
		key = schema.NewTemporaryID()
	}
	c.ID = key
	c.Synced = false
	c.UpdatedAt = s.stamp()
	if err := s.write(tx, c, isNew); err != nil {
		return nil, err
	}
	return c, nil
}

// Update overwrites an existing cycle.
func (s *CycleService) Update(ctx context.Context, c *schema.Cycle) error {
	if _, err := s.GetByID(c.ID); err != nil {
		return err
	}
	_, err := s.Save(ctx, c)
	return err
}

// Delete removes a cycle and queues its remote deletion.
func (s *CycleService) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, schema.TableCycles, id)
}

// GetByID returns the cycle with id.
func (s *CycleService) GetByID(id string) (*schema.Cycle, error) {
	c, ok := cache.Resolve[*schema.Cycle](s.c, schema.TableCycles, id)
	if !ok {
		return nil, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// GetByStartDate returns the user's cycle starting on start.
func (s *CycleService) GetByStartDate(userID string, start schema.Date) (*schema.Cycle, error) {
	cs := cache.Query(s.c, schema.TableCycles, func(c *schema.Cycle) bool {
		return c.UserID == userID && c.StartDate == start
	}, newestCycleFirst)
	if len(cs) == 0 {
		return nil, fmt.Errorf("cycle of %s starting %s: %w", userID, start, ErrNotFound)
	}
	return cs[0], nil
}

// GetAll returns the user's cycles, most recent start first.
func (s *CycleService) GetAll(userID string) []*schema.Cycle {
	return cache.Query(s.c, schema.TableCycles, func(c *schema.Cycle) bool {
		return c.UserID == userID
	}, newestCycleFirst)
}

// OpenCycles returns the user's cycles without an end date, most recent
// start first. Normally there is at most one; edits from two devices can
// leave more.
func (s *CycleService) OpenCycles(userID string) []*schema.Cycle {
	return cache.Query(s.c, schema.TableCycles, func(c *schema.Cycle) bool {
		return c.UserID == userID && c.IsOpen()
	}, newestCycleFirst)
}

// MarkDelay records that the period predicted for predictedStart is late by
// delayDays. The cycle starting on predictedStart is created if needed.
func (s *CycleService) MarkDelay(ctx context.Context, userID string, predictedStart schema.Date, delayDays int) (*schema.Cycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if delayDays < 0 {
		return nil, fmt.Errorf("delay must be >= 0 (got %d)", delayDays)
	}
	var out *schema.Cycle
	err := s.c.Batch(func(tx *cache.Tx) error {
		c := cycleStarting(tx, userID, predictedStart)
		if c == nil {
			c = &schema.Cycle{UserID: userID, StartDate: predictedStart}
		}
		c.Delay = delayDays
		saved, err := s.saveIn(tx, c)
		out = saved
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// MarkPeriodEnd sets end on the user's most recent open cycle. Without an
// open cycle a new closed cycle is created from start; if start is nil too
// it fails with ErrNoOpenCycle.
func (s *CycleService) MarkPeriodEnd(ctx context.Context, userID string, end schema.Date, start *schema.Date) (*schema.Cycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *schema.Cycle
	err := s.c.Batch(func(tx *cache.Tx) error {
		open := openCyclesIn(tx, userID)
		var c *schema.Cycle
		switch {
		case len(open) > 0:
			if len(open) > 1 {
				s.logger.Warn("multiple open cycles, closing the most recent",
					"user", userID, "open", len(open), "start", open[0].StartDate)
			}
			c = open[0]
		case start != nil:
			c = &schema.Cycle{UserID: userID, StartDate: *start}
		default:
			return ErrNoOpenCycle
		}
		c.EndDate = schema.DatePtr(end)
		saved, err := s.saveIn(tx, c)
		out = saved
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// ConfirmPeriodStart opens a cycle starting on start, or returns the
// existing one.
func (s *CycleService) ConfirmPeriodStart(ctx context.Context, userID string, start schema.Date) (*schema.Cycle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *schema.Cycle
	err := s.c.Batch(func(tx *cache.Tx) error {
		if c := cycleStarting(tx, userID, start); c != nil {
			out = c
			return nil
		}
		saved, err := s.saveIn(tx, &schema.Cycle{UserID: userID, StartDate: start})
		out = saved
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

func newestCycleFirst(a, b *schema.Cycle) int {
	if n := strings.Compare(string(b.StartDate), string(a.StartDate)); n != 0 {
		return n
	}
	return b.UpdatedAt.Compare(a.UpdatedAt)
}

func cycleStarting(tx *cache.Tx, userID string, start schema.Date) *schema.Cycle {
	cs := cache.TxQuery(tx, schema.TableCycles, func(c *schema.Cycle) bool {
		return c.UserID == userID && c.StartDate == start
	})
	if len(cs) == 0 {
		return nil
	}
	sortCycles(cs)
	return cs[0]
}

func openCyclesIn(tx *cache.Tx, userID string) []*schema.Cycle {
	cs := cache.TxQuery(tx, schema.TableCycles, func(c *schema.Cycle) bool {
		return c.UserID == userID && c.IsOpen()
	})
	sortCycles(cs)
	return cs
}

func sortCycles(cs []*schema.Cycle) {
	slices.SortFunc(cs, newestCycleFirst)
}
