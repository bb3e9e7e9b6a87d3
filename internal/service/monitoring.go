package service

import (
	"context"
	"time"

	"irrigation_controller/internal/models"
	"irrigation_controller/internal/repository"
)

type MonitoringService struct {
	counter *PersistedCounter
	cycles  repository.CycleRepo
	now     func() time.Time
}

func NewMonitoringService(counter *PersistedCounter, cycles repository.CycleRepo) *MonitoringService {
	return &MonitoringService{counter: counter, cycles: cycles, now: time.Now}
}

// GetState returns the persisted connect-failure count and the latest cycle.
// LastCycle is nil before the first cycle has been logged.
func (s *MonitoringService) GetState(ctx context.Context) (models.DeviceState, error) {
	last, err := s.cycles.Latest(ctx)
	if err != nil {
		return models.DeviceState{}, err
	}
	if last != nil {
		last.OccurredAt = toUTC(last.OccurredAt)
	}
	return models.DeviceState{
		ConnectFailures: s.counter.Read(ctx),
		LastCycle:       last,
		UpdatedAt:       s.now().UTC(),
	}, nil
}

// ResetConnectFailures clears the persisted count, as a power-on reset would.
func (s *MonitoringService) ResetConnectFailures(ctx context.Context) error {
	return s.counter.Reset(ctx)
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
