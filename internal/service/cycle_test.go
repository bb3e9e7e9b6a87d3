package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/models"
)

var cycleNow = time.Date(2025, 3, 10, 5, 0, 30, 0, time.UTC)

type loopHarness struct {
	wake     fakeWake
	battery  fakeBattery
	network  *fakeNetwork
	rainfall *fakeRainfall
	relay    *fakeRelay
	reporter *fakeReporter
	scratch  *memScratch
	cycles   *fakeCycleRepo
	alarm    *fakeAlarm
	sleeper  *fakeSleeper
	watchdog *fakeWatchdog
	metrics  *fakeMetrics
	backoff  *recordingSleeper
	opts     LoopOptions
}

func newLoopHarness() *loopHarness {
	watchdog := &fakeWatchdog{}
	return &loopHarness{
		wake:     fakeWake{reason: models.WakeAlarm, sleepEnabled: true},
		battery:  fakeBattery{volts: 3.914},
		network:  &fakeNetwork{up: true},
		rainfall: &fakeRainfall{},
		relay:    &fakeRelay{},
		reporter: &fakeReporter{},
		scratch:  newMemScratch(),
		cycles:   &fakeCycleRepo{},
		alarm:    &fakeAlarm{},
		sleeper:  &fakeSleeper{watchdog: watchdog},
		watchdog: watchdog,
		metrics:  &fakeMetrics{},
		opts: LoopOptions{
			Thresholds:    DefaultThresholds(),
			ConnectPolicy: backoff.Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2},
		},
	}
}

func (h *loopHarness) run(t *testing.T) models.CycleReport {
	t.Helper()
	exec, rec := newTestExecutor(h.watchdog)
	h.backoff = rec
	sched, err := NewScheduler("0 5 * * *", time.Minute, DefaultEscalationThreshold)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	loop, err := NewControlLoop(LoopDeps{
		Wake:      h.wake,
		Clock:     fixedClock{t: cycleNow},
		Battery:   h.battery,
		Network:   h.network,
		Rainfall:  h.rainfall,
		Relay:     h.relay,
		Reporter:  h.reporter,
		Scratch:   h.scratch,
		Counter:   NewPersistedCounter(h.scratch, SlotConnectFailures),
		Scheduler: sched,
		Cycles:    h.cycles,
		Alarm:     h.alarm,
		Sleeper:   h.sleeper,
		Watchdog:  h.watchdog,
		Exec:      exec,
		Metrics:   h.metrics,
	}, h.opts)
	if err != nil {
		t.Fatalf("NewControlLoop: %v", err)
	}
	return loop.Run(context.Background())
}

// assertSleptUntilArmed checks the invariant every cycle ends with: exactly
// one alarm armed, one log entry, and a sleep until the armed time.
func (h *loopHarness) assertSleptUntilArmed(t *testing.T, rep models.CycleReport) {
	t.Helper()
	if len(h.alarm.armed) != 1 {
		t.Fatalf("alarms armed = %d; want 1", len(h.alarm.armed))
	}
	if h.alarm.armed[0] != rep.Next {
		t.Fatalf("armed %+v; report says %+v", h.alarm.armed[0], rep.Next)
	}
	if !rep.Slept || len(h.sleeper.until) != 1 || !h.sleeper.until[0].Equal(rep.Next.At) {
		t.Fatalf("slept until %v; want %v", h.sleeper.until, rep.Next.At)
	}
	if len(h.cycles.appended) != 1 {
		t.Fatalf("cycle log entries = %d; want 1", len(h.cycles.appended))
	}
	if len(h.metrics.reports) != 1 {
		t.Fatalf("metrics records = %d; want 1", len(h.metrics.reports))
	}
}

var nextDaily = time.Date(2025, 3, 11, 5, 0, 0, 0, time.UTC)

func TestControlLoop_NoRainWatersAndReports(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.rainfall.reading = models.RainfallReading{LastHour: 0, Today: 1, ForecastToday: 2, ForecastTomorrow: 0}
	rep := h.run(t)

	if len(h.relay.calls) != 1 || h.relay.calls[0].line != models.LineOn || h.relay.calls[0].pulse != DefaultPulse {
		t.Fatalf("relay calls = %+v; want one LineOn pulse", h.relay.calls)
	}
	want := []string{"0", "1", "2", "0", "3.91", "1"}
	if len(h.reporter.fields) != 1 || strings.Join(h.reporter.fields[0], ",") != strings.Join(want, ",") {
		t.Fatalf("reported %v; want %v", h.reporter.fields, want)
	}
	if !rep.Connected || !rep.Reported || rep.RainDetected || len(rep.Errors) != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Next.Kind != models.WakeDaily || !rep.Next.At.Equal(nextDaily) {
		t.Fatalf("next = %+v; want daily at %v", rep.Next, nextDaily)
	}
	if h.network.disconnects != 1 {
		t.Fatalf("disconnects = %d; want 1", h.network.disconnects)
	}
	ev := h.cycles.appended[0]
	if ev.Type != models.EventCycle || ev.EventID != rep.CycleID || ev.Description != "no rain, watering on" {
		t.Fatalf("logged event %+v", ev)
	}
	if h.watchdog.disabled != 0 {
		t.Fatalf("watchdog must stay armed when sleeping")
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_RainTurnsWateringOff(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.rainfall.reading = models.RainfallReading{Today: 4}
	rep := h.run(t)

	if len(h.relay.calls) != 1 || h.relay.calls[0].line != models.LineOff {
		t.Fatalf("relay calls = %+v; want LineOff", h.relay.calls)
	}
	if got := h.reporter.fields[0][5]; got != "0" {
		t.Fatalf("systemOn field = %q; want 0", got)
	}
	if !rep.RainDetected || rep.Actuated == nil || *rep.Actuated != models.LineOff {
		t.Fatalf("unexpected report %+v", rep)
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_ConnectFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.network.up = false
	rep := h.run(t)

	if h.network.connects != 3 {
		t.Fatalf("connect attempts = %d; want 3", h.network.connects)
	}
	if h.rainfall.calls != 0 || len(h.relay.calls) != 0 || len(h.reporter.fields) != 0 {
		t.Fatalf("nothing may run after a failed connect")
	}
	if rep.ConnectFailures != 1 || h.scratch.slots[SlotConnectFailures] != 1 {
		t.Fatalf("connect failures = %d (slot %d); want 1", rep.ConnectFailures, h.scratch.slots[SlotConnectFailures])
	}
	if rep.Next.Kind != models.WakeRetry || !rep.Next.At.Equal(cycleNow.Add(time.Minute)) {
		t.Fatalf("next = %+v; want retry in a minute", rep.Next)
	}
	if ev := h.cycles.appended[0]; ev.Type != models.EventConnectFailed {
		t.Fatalf("event type = %s", ev.Type)
	}
	if h.network.disconnects != 1 {
		t.Fatalf("radio must be switched off after a failed connect")
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_FifthConnectFailureEscalates(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.network.up = false
	h.scratch.slots[SlotConnectFailures] = 4
	rep := h.run(t)

	if rep.ConnectFailures != 0 || h.scratch.slots[SlotConnectFailures] != 0 {
		t.Fatalf("counter not reset on escalation: %d", h.scratch.slots[SlotConnectFailures])
	}
	if rep.Next.Kind != models.WakeDaily || !rep.Next.At.Equal(nextDaily) {
		t.Fatalf("next = %+v; want daily", rep.Next)
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_SuccessfulConnectResetsCounter(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.scratch.slots[SlotConnectFailures] = 3
	h.run(t)

	if h.scratch.slots[SlotConnectFailures] != 0 {
		t.Fatalf("counter = %d; want 0", h.scratch.slots[SlotConnectFailures])
	}
	if h.scratch.writes != 1 {
		t.Fatalf("scratch writes = %d; want 1", h.scratch.writes)
	}
}

func TestControlLoop_ScratchWrittenAtMostOncePerCycle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		up     bool
		stored byte
		writes int
	}{
		{name: "connected with no failures", up: true, stored: 0, writes: 0},
		{name: "connected after failures", up: true, stored: 2, writes: 1},
		{name: "first failure", up: false, stored: 0, writes: 1},
		{name: "escalating failure", up: false, stored: DefaultEscalationThreshold - 1, writes: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newLoopHarness()
			h.network.up = tc.up
			h.scratch.slots[SlotConnectFailures] = tc.stored
			h.run(t)

			if h.scratch.writes != tc.writes {
				t.Fatalf("scratch writes = %d; want %d", h.scratch.writes, tc.writes)
			}
		})
	}
}

func TestControlLoop_ReadingFailureSkipsActuation(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.rainfall.err = errs.Exhausted("read_forecast", 5, errs.Shortfall("read_forecast", 1, 2))
	rep := h.run(t)

	if len(h.relay.calls) != 0 {
		t.Fatalf("relay must keep its last state, got %+v", h.relay.calls)
	}
	if len(h.reporter.fields) != 0 {
		t.Fatalf("nothing to report without readings")
	}
	if rep.Reading != nil || rep.Actuated != nil || len(rep.Errors) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if ev := h.cycles.appended[0]; ev.Type != models.EventError {
		t.Fatalf("event type = %s; want ERROR", ev.Type)
	}
	if rep.Next.Kind != models.WakeDaily {
		t.Fatalf("next = %+v; want daily", rep.Next)
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_RelayErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.relay.err = errors.New("gpio busy")
	rep := h.run(t)

	if len(h.relay.calls) != 1 {
		t.Fatalf("relay calls = %d; want 1", len(h.relay.calls))
	}
	if len(h.reporter.fields) != 0 {
		t.Fatalf("report must not follow a failed actuation")
	}
	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "actuation_failure") {
		t.Fatalf("errors = %v", rep.Errors)
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_TelemetryFailureStillSleeps(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.reporter.err = errs.Exhausted("upload_telemetry", 5, errs.Status("upload_telemetry", 500))
	rep := h.run(t)

	if rep.Reported || rep.Actuated == nil {
		t.Fatalf("unexpected report %+v", rep)
	}
	if ev := h.cycles.appended[0]; ev.Type != models.EventError {
		t.Fatalf("event type = %s; want ERROR", ev.Type)
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.rainfall.panics = true
	rep := h.run(t)

	if len(rep.Errors) != 1 || !strings.Contains(rep.Errors[0], "scanner exploded") {
		t.Fatalf("errors = %v", rep.Errors)
	}
	if rep.Next.Kind != models.WakeDaily {
		t.Fatalf("next = %+v; want daily", rep.Next)
	}
	if h.network.disconnects != 1 {
		t.Fatalf("deferred disconnect must run on panic")
	}
	h.assertSleptUntilArmed(t, rep)
}

func TestControlLoop_NoSleepJumper(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.wake.sleepEnabled = false
	rep := h.run(t)

	if h.watchdog.disabled != 1 {
		t.Fatalf("watchdog disabled %d times; want 1", h.watchdog.disabled)
	}
	if rep.Slept || len(h.sleeper.until) != 0 {
		t.Fatalf("must not sleep with the jumper set")
	}
	if len(h.alarm.armed) != 1 || h.alarm.armed[0] != rep.Next {
		t.Fatalf("alarm still armed for the next wake, got %+v", h.alarm.armed)
	}
}

func TestControlLoop_NoSleepOption(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.opts.NoSleep = true
	h.run(t)

	if len(h.sleeper.until) != 0 || h.watchdog.disabled != 1 {
		t.Fatalf("NoSleep must behave like the jumper")
	}
}

func TestControlLoop_PowerOnClearsScratch(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.wake.reason = models.WakePowerOn
	h.scratch.slots[SlotConnectFailures] = 200
	h.network.up = false
	rep := h.run(t)

	if h.scratch.clears != 1 {
		t.Fatalf("scratch cleared %d times; want 1", h.scratch.clears)
	}
	// Garbage from before power-on must not count.
	if rep.ConnectFailures != 1 {
		t.Fatalf("connect failures = %d; want 1", rep.ConnectFailures)
	}
}

func TestControlLoop_AlarmWakeKeepsScratch(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.network.up = false
	h.scratch.slots[SlotConnectFailures] = 2
	rep := h.run(t)

	if h.scratch.clears != 0 || rep.ConnectFailures != 3 {
		t.Fatalf("clears = %d, failures = %d; want 0, 3", h.scratch.clears, rep.ConnectFailures)
	}
}

func TestControlLoop_WatchdogFedDuringRetries(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.network.up = false
	h.run(t)

	// One feed on wake and one per connect attempt.
	if h.watchdog.feeds != 4 {
		t.Fatalf("feeds = %d; want 4", h.watchdog.feeds)
	}
	if len(h.backoff.delays) != 2 || h.backoff.delays[0] != 2*time.Second || h.backoff.delays[1] != 4*time.Second {
		t.Fatalf("connect delays = %v", h.backoff.delays)
	}
}

func TestControlLoop_WatchdogDisarmedForSleep(t *testing.T) {
	t.Parallel()

	for _, up := range []bool{true, false} {
		h := newLoopHarness()
		h.network.up = up
		rep := h.run(t)

		if len(h.sleeper.armedAtSleep) != 1 || h.sleeper.armedAtSleep[0] {
			t.Fatalf("network up=%v: watchdog armed on entering sleep (%v)", up, h.sleeper.armedAtSleep)
		}
		if h.watchdog.suspended != 1 || h.watchdog.disabled != 0 {
			t.Fatalf("network up=%v: suspended %d, disabled %d; want 1, 0", up, h.watchdog.suspended, h.watchdog.disabled)
		}
		if !rep.Slept {
			t.Fatalf("network up=%v: cycle did not sleep", up)
		}
	}
}

func TestControlLoop_NoSleepLeavesWatchdogDisabled(t *testing.T) {
	t.Parallel()

	h := newLoopHarness()
	h.wake.sleepEnabled = false
	h.run(t)

	if h.watchdog.armed || h.watchdog.suspended != 0 {
		t.Fatalf("watchdog armed=%v suspended=%d after a no-sleep cycle", h.watchdog.armed, h.watchdog.suspended)
	}
}

func TestNewControlLoop_MissingCollaborator(t *testing.T) {
	t.Parallel()

	if _, err := NewControlLoop(LoopDeps{}, LoopOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
