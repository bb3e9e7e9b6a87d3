// Package metrics exports the outcome of each wake cycle as a node-exporter
// textfile. The device has no long-running process to scrape.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"irrigation_controller/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irrigation"

// Textfile holds the cycle gauges in a private registry and rewrites the file
// after every Record.
type Textfile struct {
	path     string
	registry *prometheus.Registry

	batteryVolts    prometheus.Gauge
	rainfallMM      *prometheus.GaugeVec
	rainDetected    prometheus.Gauge
	wateringOn      prometheus.Gauge
	connected       prometheus.Gauge
	reported        prometheus.Gauge
	connectFailures prometheus.Gauge
	duration        prometheus.Gauge
	lastCycle       prometheus.Gauge
	nextWake        *prometheus.GaugeVec
	cycles          *prometheus.CounterVec
}

// NewTextfile registers the gauges. Record is a no-op when path is empty.
func NewTextfile(path string) *Textfile {
	t := &Textfile{
		path:     path,
		registry: prometheus.NewRegistry(),
		batteryVolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_volts",
			Help: "Battery voltage measured at wake",
		}),
		rainfallMM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rainfall_mm",
			Help: "Rainfall reading of the last cycle in whole millimetres",
		}, []string{"window"}),
		rainDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rain_detected",
			Help: "1 when the last decision found rain",
		}),
		wateringOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watering_on",
			Help: "Last relay line driven (1 on, 0 off, -1 not actuated)",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 when the last cycle got an uplink",
		}),
		reported: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "telemetry_reported",
			Help: "1 when the last cycle uploaded its telemetry",
		}),
		connectFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connect_failures",
			Help: "Consecutive connect failures persisted across sleeps",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help: "Awake time of the last cycle",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_cycle_timestamp_seconds",
			Help: "Start of the last cycle, unix time",
		}),
		nextWake: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "next_wake_timestamp_seconds",
			Help: "Armed wake time, unix time",
		}, []string{"kind"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Cycles run by this process",
		}, []string{"wake_reason"}),
	}
	t.registry.MustRegister(
		t.batteryVolts, t.rainfallMM, t.rainDetected, t.wateringOn, t.connected,
		t.reported, t.connectFailures, t.duration, t.lastCycle, t.nextWake, t.cycles,
	)
	return t
}

// Record updates the gauges from r and rewrites the textfile.
func (t *Textfile) Record(r models.CycleReport) error {
	t.batteryVolts.Set(r.BatteryVolts)
	if r.Reading != nil {
		t.rainfallMM.WithLabelValues("last_hour").Set(float64(r.Reading.LastHour))
		t.rainfallMM.WithLabelValues("today").Set(float64(r.Reading.Today))
		t.rainfallMM.WithLabelValues("forecast_today").Set(float64(r.Reading.ForecastToday))
		t.rainfallMM.WithLabelValues("forecast_tomorrow").Set(float64(r.Reading.ForecastTomorrow))
	} else {
		t.rainfallMM.Reset()
	}
	t.rainDetected.Set(boolToFloat(r.RainDetected))
	switch {
	case r.Actuated == nil:
		t.wateringOn.Set(-1)
	case *r.Actuated == models.LineOn:
		t.wateringOn.Set(1)
	default:
		t.wateringOn.Set(0)
	}
	t.connected.Set(boolToFloat(r.Connected))
	t.reported.Set(boolToFloat(r.Reported))
	t.connectFailures.Set(float64(r.ConnectFailures))
	t.duration.Set(r.Duration.Seconds())
	t.lastCycle.Set(float64(r.StartedAt.Unix()))
	t.nextWake.Reset()
	t.nextWake.WithLabelValues(string(r.Next.Kind)).Set(float64(r.Next.At.Unix()))
	t.cycles.WithLabelValues(string(r.WakeReason)).Inc()

	if t.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	// WriteToTextfile renames a temporary file into place.
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// Gatherer exposes the registry, e.g. for the diagnostics API.
func (t *Textfile) Gatherer() prometheus.Gatherer { return t.registry }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
