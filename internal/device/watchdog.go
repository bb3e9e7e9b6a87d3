package device

import (
	"io"
	"os"
	"sync"

	"irrigation_controller/internal/logger"
)

// magicClose disarms a Linux watchdog when written just before closing it.
const magicClose = "V"

// DevWatchdog feeds a /dev/watchdog style device. The device is opened, and
// so armed, on the first feed. Failures are logged; a watchdog that cannot be
// fed will reset the device, which is the point.
type DevWatchdog struct {
	path string
	log  *logger.Logger
	open func(string) (io.WriteCloser, error)

	mu       sync.Mutex
	f        io.WriteCloser
	disabled bool
}

func NewDevWatchdog(path string, log *logger.Logger) *DevWatchdog {
	return &DevWatchdog{
		path: path,
		log:  logger.OrNop(log),
		open: func(p string) (io.WriteCloser, error) { return os.OpenFile(p, os.O_WRONLY, 0) },
	}
}

func (w *DevWatchdog) Feed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disabled {
		return
	}
	if w.f == nil {
		f, err := w.open(w.path)
		if err != nil {
			w.log.Warnw("watchdog_open_failed", "device", w.path, "err", err)
			return
		}
		w.f = f
	}
	if _, err := w.f.Write([]byte{0}); err != nil {
		w.log.Warnw("watchdog_feed_failed", "device", w.path, "err", err)
	}
}

// Disable stops feeding and disarms the device. Later feeds are ignored.
func (w *DevWatchdog) Disable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disabled = true
	return w.release()
}

// Suspend disarms the device for a sleep. The next Feed opens it again, which
// re-arms it.
func (w *DevWatchdog) Suspend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.release()
}

func (w *DevWatchdog) release() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if _, err := io.WriteString(f, magicClose); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// NopWatchdog is used when no watchdog device is configured.
type NopWatchdog struct{}

func (NopWatchdog) Feed()          {}
func (NopWatchdog) Disable() error { return nil }
func (NopWatchdog) Suspend() error { return nil }
