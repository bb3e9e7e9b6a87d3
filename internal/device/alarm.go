package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/models"
)

// DefaultBootIDPath changes on every boot of a Linux host.
const DefaultBootIDPath = "/proc/sys/kernel/random/boot_id"

type armedAlarm struct {
	models.WakeSchedule
	BootID string `json:"boot_id"`
}

// FileAlarm stands in for the RTC alarm: the next wake is written to a file
// together with the current boot id. An alarm armed before a reboot does not
// count as an alarm wake.
type FileAlarm struct {
	path       string
	bootIDPath string
}

func NewFileAlarm(path, bootIDPath string) *FileAlarm {
	if bootIDPath == "" {
		bootIDPath = DefaultBootIDPath
	}
	return &FileAlarm{path: path, bootIDPath: bootIDPath}
}

// Arm replaces any previously armed wake.
func (a *FileAlarm) Arm(s models.WakeSchedule) error {
	b, err := json.Marshal(armedAlarm{WakeSchedule: s, BootID: a.bootID()})
	if err != nil {
		return err
	}
	tmp := a.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("alarm: %w", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("alarm: %w", err)
	}
	return os.Rename(tmp, a.path)
}

// Armed returns the stored wake, or nil when none was armed.
func (a *FileAlarm) Armed() (*models.WakeSchedule, error) {
	st, err := a.load()
	if err != nil || st == nil {
		return nil, err
	}
	return &st.WakeSchedule, nil
}

// ArmedThisBoot reports whether an alarm was armed since the last boot.
func (a *FileAlarm) ArmedThisBoot() bool {
	st, err := a.load()
	if err != nil || st == nil {
		return false
	}
	return st.BootID != "" && st.BootID == a.bootID()
}

func (a *FileAlarm) load() (*armedAlarm, error) {
	b, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st armedAlarm
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("alarm: decode %s: %w", a.path, err)
	}
	return &st, nil
}

func (a *FileAlarm) bootID() string {
	b, err := os.ReadFile(a.bootIDPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// WakeButton ends a sleep early. Arm is called as the sleep starts; Pressed
// is polled until the wake time.
type WakeButton interface {
	Arm()
	Pressed() bool
}

// DefaultButtonPoll is how often a sleeping HostSleeper checks the button.
const DefaultButtonPoll = 50 * time.Millisecond

// HostSleeper blocks until the wake time or a button press; the host stays
// powered.
type HostSleeper struct {
	timer  backoff.TimerSleeper
	now    func() time.Time
	button WakeButton
	poll   time.Duration
}

// NewHostSleeper returns a sleeper woken by the alarm and, when button is not
// nil, by a press.
func NewHostSleeper(button WakeButton) *HostSleeper {
	return &HostSleeper{now: time.Now, button: button, poll: DefaultButtonPoll}
}

func (s *HostSleeper) Sleep(ctx context.Context, until time.Time) error {
	d := until.Sub(s.now())
	if s.button == nil || d <= 0 {
		return s.timer.Sleep(ctx, d)
	}
	s.button.Arm()

	timer := time.NewTimer(d)
	defer timer.Stop()
	tick := time.NewTicker(s.poll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-tick.C:
			if s.button.Pressed() {
				return nil
			}
		}
	}
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
