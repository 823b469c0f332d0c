package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// DailyLogService manages daily logs. A user has at most one log per date.
type DailyLogService struct {
	*base
}

// Save creates or updates a log and returns its id. Saving for a date that
// already has a log updates that log in place and keeps its id.
func (s *DailyLogService) Save(ctx context.Context, l *schema.DailyLog) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l = l.Clone()
	l.SetDefaults()
	if err := l.Validate(); err != nil {
		return "", fmt.Errorf("invalid daily log: %w", err)
	}

	err := s.c.Batch(func(tx *cache.Tx) error {
		key := resolveExisting(tx, schema.TableDailyLogs, l.ID)
		sameDate := logOn(tx, l.UserID, l.Date)
		switch {
		case key == "" && sameDate != nil:
			key = sameDate.ID
		case key != "" && sameDate != nil && sameDate.ID != key:
			return fmt.Errorf("daily log for %s on %s already exists (%s)", l.UserID, l.Date, sameDate.ID)
		}
		isNew := key == ""
		if isNew {
			key = schema.NewTemporaryID()
		}
		l.ID = key
		l.Synced = false
		l.UpdatedAt = s.stamp()
		return s.write(tx, l, isNew)
	})
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

// Update overwrites an existing log.
func (s *DailyLogService) Update(ctx context.Context, l *schema.DailyLog) error {
	if _, err := s.GetByID(l.ID); err != nil {
		return err
	}
	_, err := s.Save(ctx, l)
	return err
}

// Delete removes a log and queues its remote deletion.
func (s *DailyLogService) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, schema.TableDailyLogs, id)
}

// GetByID returns the log with id.
func (s *DailyLogService) GetByID(id string) (*schema.DailyLog, error) {
	l, ok := cache.Resolve[*schema.DailyLog](s.c, schema.TableDailyLogs, id)
	if !ok {
		return nil, fmt.Errorf("daily log %s: %w", id, ErrNotFound)
	}
	return l, nil
}

// GetByDate returns the user's log for date.
func (s *DailyLogService) GetByDate(userID string, date schema.Date) (*schema.DailyLog, error) {
	ls := cache.Query(s.c, schema.TableDailyLogs, func(l *schema.DailyLog) bool {
		return l.UserID == userID && l.Date == date
	}, nil)
	if len(ls) == 0 {
		return nil, fmt.Errorf("daily log of %s on %s: %w", userID, date, ErrNotFound)
	}
	return ls[0], nil
}

// GetAll returns the user's logs, newest date first.
func (s *DailyLogService) GetAll(userID string) []*schema.DailyLog {
	return s.GetRange(userID, "", "")
}

// GetRange returns the user's logs dated within [from, to], newest first.
// An empty bound is open.
func (s *DailyLogService) GetRange(userID string, from, to schema.Date) []*schema.DailyLog {
	return cache.Query(s.c, schema.TableDailyLogs, func(l *schema.DailyLog) bool {
		if l.UserID != userID {
			return false
		}
		if !from.IsZero() && l.Date.Before(from) {
			return false
		}
		return to.IsZero() || !to.Before(l.Date)
	}, newestLogFirst)
}

func newestLogFirst(a, b *schema.DailyLog) int {
	return strings.Compare(string(b.Date), string(a.Date))
}

func logOn(tx *cache.Tx, userID string, date schema.Date) *schema.DailyLog {
	ls := cache.TxQuery(tx, schema.TableDailyLogs, func(l *schema.DailyLog) bool {
		return l.UserID == userID && l.Date == date
	})
	if len(ls) == 0 {
		return nil
	}
	return ls[0]
}
