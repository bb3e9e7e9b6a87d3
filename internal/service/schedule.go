package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"irrigation_controller/internal/models"

	"github.com/robfig/cron/v3"
)

// DefaultEscalationThreshold is the number of consecutive connect failures
// after which the device stops retrying and waits for the daily alarm.
const DefaultEscalationThreshold = 5

// Scheduler picks the next wake: the daily alarm, or a short retry after a
// failed connect.
type Scheduler struct {
	daily      cron.Schedule
	retryAfter time.Duration
	threshold  int
}

func NewScheduler(dailyExpr string, retryAfter time.Duration, threshold int) (*Scheduler, error) {
	sched, err := cron.ParseStandard(dailyExpr)
	if err != nil {
		return nil, fmt.Errorf("parse daily schedule %q: %w", dailyExpr, err)
	}
	if retryAfter <= 0 {
		return nil, errors.New("retry interval must be positive")
	}
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return &Scheduler{daily: sched, retryAfter: retryAfter, threshold: threshold}, nil
}

// Daily returns the next daily alarm after now. Expressions without CRON_TZ
// are evaluated in UTC.
func (s *Scheduler) Daily(now time.Time) models.WakeSchedule {
	return models.WakeSchedule{Kind: models.WakeDaily, At: s.daily.Next(now.UTC())}
}

// Retry returns a relative wake retryAfter from now.
func (s *Scheduler) Retry(now time.Time) models.WakeSchedule {
	return models.WakeSchedule{Kind: models.WakeRetry, At: now.Add(s.retryAfter), After: s.retryAfter}
}

// EscalateOrRetry records one more connect failure. Below the threshold the
// count is kept and a short retry is scheduled. At the threshold the count is
// reset and the daily alarm is used. The counter is written once, with the
// final value. It returns the chosen schedule and the persisted count.
func (s *Scheduler) EscalateOrRetry(ctx context.Context, c *PersistedCounter, now time.Time) (models.WakeSchedule, int, error) {
	n := incSaturating(c.Read(ctx))
	if n >= s.threshold {
		if err := c.Store(ctx, 0); err != nil {
			return s.Daily(now), n, err
		}
		return s.Daily(now), 0, nil
	}
	if err := c.Write(ctx, n); err != nil {
		// An unstorable count falls back to the daily alarm.
		return s.Daily(now), n, err
	}
	return s.Retry(now), n, nil
}
