package service

import (
	"context"
	"fmt"
	"math"

	"irrigation_controller/internal/repository"
)

// SlotConnectFailures is the scratch slot holding the consecutive connect
// failure count.
const SlotConnectFailures uint8 = 0

// PersistedCounter is a small counter kept in one scratch slot, so it survives
// deep sleep. A power-on reset clears it.
type PersistedCounter struct {
	scratch repository.Scratch
	slot    uint8
}

func NewPersistedCounter(scratch repository.Scratch, slot uint8) *PersistedCounter {
	return &PersistedCounter{scratch: scratch, slot: slot}
}

// Read returns the stored value, or 0 when it was never written or cannot be
// read.
func (c *PersistedCounter) Read(ctx context.Context) int {
	v, err := c.scratch.ReadSlot(ctx, c.slot)
	if err != nil {
		return 0
	}
	return int(v)
}

// Write stores n, which must fit in a byte.
func (c *PersistedCounter) Write(ctx context.Context, n int) error {
	if n < 0 || n > math.MaxUint8 {
		return fmt.Errorf("counter value %d out of range", n)
	}
	if err := c.scratch.WriteSlot(ctx, c.slot, byte(n)); err != nil {
		return fmt.Errorf("write scratch slot %d: %w", c.slot, err)
	}
	return nil
}

// Store writes n unless the slot already holds it.
func (c *PersistedCounter) Store(ctx context.Context, n int) error {
	if c.Read(ctx) == n {
		return nil
	}
	return c.Write(ctx, n)
}

// Increment adds one and returns the new value. The count saturates at 255.
func (c *PersistedCounter) Increment(ctx context.Context) (int, error) {
	n := incSaturating(c.Read(ctx))
	if err := c.Write(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Reset zeroes the counter. A counter already at zero is not rewritten.
func (c *PersistedCounter) Reset(ctx context.Context) error {
	return c.Store(ctx, 0)
}

func incSaturating(n int) int {
	if n < math.MaxUint8 {
		n++
	}
	return n
}
