package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"irrigation_controller/internal/models"
	"irrigation_controller/internal/repository"
)

// CycleLogService reads the wake-cycle history.
type CycleLogService struct {
	cycles repository.CycleRepo
}

func NewCycleLogService(cycles repository.CycleRepo) *CycleLogService {
	return &CycleLogService{cycles: cycles}
}

var (
	errInvalidTimeRange = fmt.Errorf("%w: invalid time range: From must be <= To", ErrBadFilter)
	errUnknownEventType = fmt.Errorf("%w: unknown cycle type", ErrBadFilter)
)

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the cycle type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}

	eventType := normalizeEventType(f.Type)
	return from, to, eventType, nil
}

func (s *CycleLogService) List(ctx context.Context, f LogFilter) ([]models.CycleEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	if typ != "" && !knownEventType(typ) {
		return nil, errUnknownEventType
	}
	return s.cycles.List(ctx, from, to, typ)
}

func knownEventType(t string) bool {
	switch t {
	case models.EventCycle, models.EventConnectFailed, models.EventError:
		return true
	}
	return false
}
