package repository

import (
	"context"
	"database/sql"
	"time"

	"irrigation_controller/internal/models"
)

// Scratch is the small byte-addressed region that survives deep sleep and is
// only wiped by a power-on reset.
type Scratch interface {
	ReadSlot(ctx context.Context, slot uint8) (byte, error)
	WriteSlot(ctx context.Context, slot uint8, v byte) error
	Clear(ctx context.Context) error
}

// CycleRepo is the append-only wake-cycle log.
type CycleRepo interface {
	Append(ctx context.Context, e models.CycleEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.CycleEvent, error)
	Latest(ctx context.Context) (*models.CycleEvent, error)
}

type Repository struct {
	Scratch   Scratch
	CycleRepo CycleRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Scratch:   NewScratchSQLite(db),
		CycleRepo: NewCycleSQLite(db),
	}
}
