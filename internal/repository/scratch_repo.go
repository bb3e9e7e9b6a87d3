package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ScratchSQLite keeps scratch slots in a single table. The database file plays
// the part of the RTC memory: it outlives the process between wake cycles.
type ScratchSQLite struct {
	db *sql.DB
}

func NewScratchSQLite(db *sql.DB) *ScratchSQLite {
	return &ScratchSQLite{db: db}
}

var _ Scratch = (*ScratchSQLite)(nil)

const (
	upsertScratchSQL = `
		INSERT INTO scratch (slot, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	selectScratchSQL = `SELECT value FROM scratch WHERE slot=?`

	clearScratchSQL = `DELETE FROM scratch`
)

// ReadSlot returns the slot value, or 0 when the slot was never written.
func (r *ScratchSQLite) ReadSlot(ctx context.Context, slot uint8) (byte, error) {
	var v int
	if err := r.db.QueryRowContext(ctx, selectScratchSQL, int(slot)).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return byte(v), nil
}

// WriteSlot stores v in slot.
func (r *ScratchSQLite) WriteSlot(ctx context.Context, slot uint8, v byte) error {
	_, err := r.db.ExecContext(ctx, upsertScratchSQL, int(slot), int(v), time.Now().UTC())
	return err
}

// Clear wipes every slot, as a power-on reset does.
func (r *ScratchSQLite) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, clearScratchSQL)
	return err
}
