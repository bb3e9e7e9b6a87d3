package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/logger"
	"irrigation_controller/internal/models"
	"irrigation_controller/internal/repository"

	"github.com/google/uuid"
)

const (
	opConnect = "network_connect"
	opActuate = "actuate_relay"

	DefaultPulse = 10 * time.Millisecond
)

var errNoLink = errors.New("link not up before timeout")

// RainfallSource produces the readings of one cycle.
type RainfallSource interface {
	Acquire(ctx context.Context, now time.Time) (models.RainfallReading, error)
}

// TelemetryReporter uploads the cycle fields.
type TelemetryReporter interface {
	Report(ctx context.Context, fields []string) error
}

// LoopDeps are the collaborators of one wake cycle. Metrics and Log may be nil.
type LoopDeps struct {
	Wake      WakeSource
	Clock     Clock
	Battery   Battery
	Network   Network
	Rainfall  RainfallSource
	Relay     Relay
	Reporter  TelemetryReporter
	Scratch   repository.Scratch
	Counter   *PersistedCounter
	Scheduler *Scheduler
	Cycles    repository.CycleRepo
	Alarm     Alarm
	Sleeper   Sleeper
	Watchdog  Watchdog
	Exec      *backoff.Executor
	Metrics   Metrics
	Log       *logger.Logger
}

type LoopOptions struct {
	Thresholds    Thresholds
	ConnectPolicy backoff.Policy
	Pulse         time.Duration
	// NoSleep forces the behaviour of the no-sleep jumper.
	NoSleep bool
}

// ControlLoop runs one wake cycle end to end:
//
//	wake, battery, connect, {readings, decide, actuate, report | escalate or retry},
//	log, schedule next wake, sleep.
//
// It never returns early: whatever fails, an alarm is armed and the device
// goes back to sleep.
type ControlLoop struct {
	d    LoopDeps
	opts LoopOptions
	log  *logger.Logger
}

func NewControlLoop(d LoopDeps, opts LoopOptions) (*ControlLoop, error) {
	switch {
	case d.Wake == nil, d.Clock == nil, d.Battery == nil, d.Network == nil,
		d.Rainfall == nil, d.Relay == nil, d.Reporter == nil, d.Scratch == nil,
		d.Counter == nil, d.Scheduler == nil, d.Cycles == nil, d.Alarm == nil,
		d.Sleeper == nil, d.Watchdog == nil, d.Exec == nil:
		return nil, errors.New("control loop: missing collaborator")
	}
	if opts.Pulse <= 0 {
		opts.Pulse = DefaultPulse
	}
	return &ControlLoop{d: d, opts: opts, log: logger.OrNop(d.Log)}, nil
}

// Run executes a single cycle and returns its report. When sleep is enabled it
// blocks in the Sleeper until the armed wake time.
func (l *ControlLoop) Run(ctx context.Context) models.CycleReport {
	started := l.d.Clock.Now()
	rep := models.CycleReport{
		CycleID:    uuid.NewString(),
		StartedAt:  started,
		WakeReason: l.d.Wake.Reason(),
	}
	sleepEnabled := l.d.Wake.SleepEnabled() && !l.opts.NoSleep
	l.log.Infow("cycle_awake", "cycle_id", rep.CycleID, "wake_reason", rep.WakeReason, "sleep_enabled", sleepEnabled)
	l.d.Watchdog.Feed()

	if rep.WakeReason == models.WakePowerOn {
		if err := l.d.Scratch.Clear(ctx); err != nil {
			l.fail(&rep, fmt.Errorf("clear scratch: %w", err))
		}
	}
	if !sleepEnabled {
		if err := l.d.Watchdog.Disable(); err != nil {
			l.fail(&rep, fmt.Errorf("disable watchdog: %w", err))
		}
	}

	next := l.guarded(ctx, started, &rep)
	if next == nil {
		daily := l.d.Scheduler.Daily(started)
		next = &daily
	}
	rep.Next = *next
	rep.Duration = l.d.Clock.Now().Sub(started)

	l.persist(ctx, rep)
	if l.d.Metrics != nil {
		if err := l.d.Metrics.Record(rep); err != nil {
			l.log.Warnw("metrics_write_failed", "err", err)
		}
	}

	if err := l.d.Alarm.Arm(rep.Next); err != nil {
		l.log.Errorw("alarm_arm_failed", "err", err, "next_wake", rep.Next.At)
	}
	if !sleepEnabled {
		l.log.Infow("cycle_done", "cycle_id", rep.CycleID, "next_wake", rep.Next.At, "sleeping", false)
		return rep
	}
	l.log.Infow("sleeping", "cycle_id", rep.CycleID, "next_wake", rep.Next.At, "kind", rep.Next.Kind)
	_ = l.log.Sync()
	if err := l.d.Watchdog.Suspend(); err != nil {
		l.log.Warnw("watchdog_suspend_failed", "err", err)
	}
	rep.Slept = true
	if err := l.d.Sleeper.Sleep(ctx, rep.Next.At); err != nil {
		l.log.Warnw("sleep_interrupted", "err", err)
	}
	return rep
}

// guarded runs the fallible middle of the cycle. A panic is logged like any
// other failure. A nil schedule means the daily alarm.
func (l *ControlLoop) guarded(ctx context.Context, now time.Time, rep *models.CycleReport) (next *models.WakeSchedule) {
	defer func() {
		if p := recover(); p != nil {
			l.fail(rep, fmt.Errorf("panic: %v", p))
			next = nil
		}
	}()
	return l.cycle(ctx, now, rep)
}

func (l *ControlLoop) cycle(ctx context.Context, now time.Time, rep *models.CycleReport) *models.WakeSchedule {
	volts, err := l.d.Battery.ReadVoltage()
	if err != nil {
		l.fail(rep, fmt.Errorf("read battery: %w", err))
	}
	rep.BatteryVolts = volts
	l.log.Infow("battery_sampled", "volts", volts)

	err = l.d.Exec.Execute(ctx, opConnect, l.opts.ConnectPolicy, func(ctx context.Context) error {
		if !l.d.Network.Connect(ctx) {
			return errs.Network(opConnect, errNoLink)
		}
		return nil
	})
	defer func() {
		l.d.Network.Disconnect()
		l.log.Infow("network_disconnected")
	}()

	if err != nil {
		sched, n, cerr := l.d.Scheduler.EscalateOrRetry(ctx, l.d.Counter, now)
		rep.ConnectFailures = n
		if cerr != nil {
			l.fail(rep, fmt.Errorf("update connect failures: %w", cerr))
		}
		l.log.Warnw("connect_failed", "err", err, "connect_failures", n, "next_wake", sched.At, "kind", sched.Kind)
		return &sched
	}
	rep.Connected = true
	l.log.Infow("network_connected")
	if err := l.d.Counter.Reset(ctx); err != nil {
		l.fail(rep, fmt.Errorf("reset connect failures: %w", err))
	}

	reading, err := l.d.Rainfall.Acquire(ctx, now)
	if err != nil {
		// No readings: the relay keeps its last state.
		l.fail(rep, err)
		l.log.Warnw("decision_skipped", "reason", "readings unavailable")
		return nil
	}
	rep.Reading = &reading

	rain := Decide(reading, l.opts.Thresholds)
	rep.RainDetected = rain
	line := models.LineOn
	if rain {
		line = models.LineOff
	}
	l.log.Infow("decision", "rain", rain, "reading", reading.String(), "line", line.String())

	if err := l.d.Relay.SetLine(line, l.opts.Pulse); err != nil {
		l.fail(rep, errs.Actuation(opActuate, err))
		return nil
	}
	rep.Actuated = &line

	if err := l.d.Reporter.Report(ctx, TelemetryFields(reading, volts, !rain)); err != nil {
		l.fail(rep, err)
		return nil
	}
	rep.Reported = true
	return nil
}

func (l *ControlLoop) fail(rep *models.CycleReport, err error) {
	rep.Errors = append(rep.Errors, err.Error())
	l.log.Errorw("cycle_error", "cycle_id", rep.CycleID, "kind", errs.KindOf(err).String(), "err", err)
}

func (l *ControlLoop) persist(ctx context.Context, rep models.CycleReport) {
	ev := models.CycleEvent{
		EventID:     rep.CycleID,
		OccurredAt:  rep.StartedAt,
		Type:        eventType(rep),
		Description: describe(rep),
		Metadata:    rep,
	}
	if err := l.d.Cycles.Append(ctx, ev); err != nil {
		l.log.Errorw("cycle_log_failed", "cycle_id", rep.CycleID, "err", err)
	}
}

func eventType(rep models.CycleReport) string {
	switch {
	case !rep.Connected:
		return models.EventConnectFailed
	case len(rep.Errors) > 0:
		return models.EventError
	default:
		return models.EventCycle
	}
}

func describe(rep models.CycleReport) string {
	switch {
	case !rep.Connected:
		return fmt.Sprintf("connect failed (%d consecutive), next wake %s", rep.ConnectFailures, rep.Next.Kind)
	case rep.Actuated == nil:
		return fmt.Sprintf("no actuation: %d error(s)", len(rep.Errors))
	case *rep.Actuated == models.LineOff:
		return "rain detected, watering off"
	default:
		return "no rain, watering on"
	}
}
