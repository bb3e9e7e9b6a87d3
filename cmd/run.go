package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/device"
	"irrigation_controller/internal/fetch"
	"irrigation_controller/internal/metrics"
	"irrigation_controller/internal/service"

	"github.com/spf13/cobra"
)

// runCycles wires the device and runs wake cycles. A cycle that ends in a
// sleep is followed by the next one when the sleep returns. With the no-sleep
// jumper fitted a single cycle runs and the command exits.
func runCycles(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeGPIO, err := device.OpenGPIO()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeGPIO(); err != nil {
			a.log.Warnw("gpio_close_failed", "err", err)
		}
	}()

	loop, release, err := buildLoop(a)
	if err != nil {
		return err
	}
	defer release()

	for {
		rep := loop.Run(ctx)
		if ctx.Err() != nil {
			a.log.Infow("stopping", "last_cycle", rep.CycleID)
			return nil
		}
		if !rep.Slept {
			return nil
		}
	}
}

const httpTimeout = 30 * time.Second

// buildLoop wires the control loop. release disarms the watchdog and stops
// edge detection on the wake pin.
func buildLoop(a *app) (*service.ControlLoop, func(), error) {
	cfg := a.cfg

	var watchdog service.Watchdog = device.NopWatchdog{}
	if cfg.Watchdog.Device != "" {
		watchdog = device.NewDevWatchdog(cfg.Watchdog.Device, a.log)
	}
	exec := backoff.NewExecutor(a.log, watchdog)

	alarm := device.NewFileAlarm(cfg.Alarm.Path, cfg.Alarm.BootIDPath)
	battery, err := device.NewSysfsBattery(cfg.Battery.Path, cfg.Battery.Samples, cfg.Battery.ADCFactor, cfg.Battery.R1, cfg.Battery.R2)
	if err != nil {
		return nil, nil, err
	}

	client := &http.Client{Timeout: httpTimeout}
	weather, err := service.NewWeatherService(fetch.NewHTTPFetcher(client), exec, a.log, service.WeatherOptions{
		ObservationURL:       cfg.Weather.ObservationEndpoint(),
		ForecastURL:          cfg.Weather.ForecastURL,
		UserAgent:            cfg.Weather.UserAgent,
		ObservationChunkSize: cfg.Weather.ObservationChunkSize,
		ForecastChunkSize:    cfg.Weather.ForecastChunkSize,
		Location:             cfg.Location(),
		Policy:               cfg.Retry.Fetch.Policy(),
	})
	if err != nil {
		return nil, nil, err
	}

	scheduler, err := service.NewScheduler(cfg.Schedule.Daily, cfg.Schedule.RetryAfter, cfg.Schedule.EscalationThreshold)
	if err != nil {
		return nil, nil, err
	}

	telemetry := fetch.NewThingSpeak(client, cfg.Telemetry.URL, cfg.Telemetry.APIKey)
	pins := device.NewPins(cfg.Pins.Wake, cfg.Pins.NoSleep, alarm)
	loop, err := service.NewControlLoop(service.LoopDeps{
		Wake:      pins,
		Clock:     device.SystemClock{},
		Battery:   battery,
		Network:   device.NewDialNetwork(cfg.Network.CheckAddr, cfg.Network.ConnectTimeout, cfg.Network.PollInterval, a.log),
		Rainfall:  weather,
		Relay:     device.NewGPIORelay(cfg.Relay.OnPin, cfg.Relay.OffPin),
		Reporter:  service.NewReporter(telemetry, exec, cfg.Retry.Telemetry.Policy()),
		Scratch:   a.repos.Scratch,
		Counter:   service.NewPersistedCounter(a.repos.Scratch, service.SlotConnectFailures),
		Scheduler: scheduler,
		Cycles:    a.repos.CycleRepo,
		Alarm:     alarm,
		Sleeper:   device.NewHostSleeper(pins),
		Watchdog:  watchdog,
		Exec:      exec,
		Metrics:   metrics.NewTextfile(cfg.Metrics.TextfilePath),
		Log:       a.log,
	}, service.LoopOptions{
		Thresholds:    service.Thresholds(cfg.Thresholds),
		ConnectPolicy: cfg.Retry.Connect.Policy(),
		Pulse:         cfg.Relay.Pulse,
		NoSleep:       noSleepFlag,
	})
	if err != nil {
		pins.Release()
		return nil, nil, fmt.Errorf("build control loop: %w", err)
	}
	release := func() {
		pins.Release()
		if err := watchdog.Disable(); err != nil {
			a.log.Warnw("watchdog_disable_failed", "err", err)
		}
	}
	return loop, release, nil
}
