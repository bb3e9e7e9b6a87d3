package service

import (
	"context"
	"io"
	"time"

	"irrigation_controller/internal/models"
	"irrigation_controller/internal/stream"
)

// Network brings the uplink up and down. Connect reports success within its
// own polling timeout.
type Network interface {
	Connect(ctx context.Context) bool
	Disconnect()
}

// Fetcher issues a GET and hands back the body as fixed-size chunks. The
// closer must be closed by the caller once the body has been consumed.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string, chunkSize int) (int, *stream.ChunkReader, io.Closer, error)
}

// Relay pulses one coil of the latching relay for the given time.
type Relay interface {
	SetLine(line models.Line, pulse time.Duration) error
}

type Battery interface {
	ReadVoltage() (float64, error)
}

type Clock interface {
	Now() time.Time
}

// Alarm arms the next wake before the device sleeps.
type Alarm interface {
	Arm(s models.WakeSchedule) error
}

// Watchdog resets the device unless fed. Suspend disarms it for a sleep and
// the next Feed re-arms it. Disable is used when the no-sleep jumper is set.
type Watchdog interface {
	Feed()
	Suspend() error
	Disable() error
}

// Telemetry uploads the ordered cycle fields and returns the HTTP status.
type Telemetry interface {
	Upload(ctx context.Context, fields []string) (int, error)
}

// Sleeper blocks until the armed wake time (deep sleep on the device).
type Sleeper interface {
	Sleep(ctx context.Context, until time.Time) error
}

// WakeSource reports the wake reason and the state of the no-sleep jumper.
type WakeSource interface {
	Reason() models.WakeReason
	SleepEnabled() bool
}

// Metrics records the outcome of a cycle.
type Metrics interface {
	Record(r models.CycleReport) error
}
