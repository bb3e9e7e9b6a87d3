package service

import (
	"context"

	"irrigation_controller/internal/models"
	"irrigation_controller/internal/repository"
)

type Authorization interface {
	GenerateToken(operator string) (string, error)
	ParseToken(accessToken string) (string, error)
}

// Monitoring exposes the persisted device state.
type Monitoring interface {
	GetState(ctx context.Context) (models.DeviceState, error)
	ResetConnectFailures(ctx context.Context) error
}

// CycleLog exposes the append-only wake-cycle history with filtering.
type CycleLog interface {
	List(ctx context.Context, f LogFilter) ([]models.CycleEvent, error)
}

//
// Root Service aggregates the sub-services the diagnostics API needs.
//

type Service struct {
	Monitoring
	CycleLog
	Authorization
}

// NewService wires the repository layer into the diagnostics services.
func NewService(repos *repository.Repository, auth Authorization) *Service {
	counter := NewPersistedCounter(repos.Scratch, SlotConnectFailures)
	return &Service{
		Monitoring:    NewMonitoringService(counter, repos.CycleRepo),
		CycleLog:      NewCycleLogService(repos.CycleRepo),
		Authorization: auth,
	}
}
