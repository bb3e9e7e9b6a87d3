package models

import (
	"fmt"
	"time"
)

// RainfallReading holds the rainfall figures of one wake cycle in whole
// millimetres. It is never persisted.
type RainfallReading struct {
	LastHour         int `json:"last_hour_mm"`
	Today            int `json:"today_mm"`
	ForecastToday    int `json:"forecast_today_mm"`
	ForecastTomorrow int `json:"forecast_tomorrow_mm"`
}

func (r RainfallReading) String() string {
	return fmt.Sprintf("last hour %dmm, today %dmm, forecast today %dmm, tomorrow %dmm",
		r.LastHour, r.Today, r.ForecastToday, r.ForecastTomorrow)
}

// WakeKind selects how a WakeSchedule is interpreted.
type WakeKind string

const (
	WakeDaily WakeKind = "daily" // fixed alarm from the daily schedule
	WakeRetry WakeKind = "retry" // relative "try again in a few minutes"
)

// WakeSchedule is the alarm armed before sleeping.
type WakeSchedule struct {
	Kind WakeKind  `json:"kind"`
	At   time.Time `json:"at"`
	// After is the relative delay of a retry wake.
	After time.Duration `json:"after,omitempty"`
}

// DeviceState is the diagnostic snapshot served over the API.
type DeviceState struct {
	ConnectFailures int         `json:"connect_failures"`
	LastCycle       *CycleEvent `json:"last_cycle,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Line selects one coil of the latching relay.
type Line int

const (
	LineOn  Line = iota // enables watering
	LineOff             // disables watering
)

func (l Line) String() string {
	if l == LineOff {
		return "off"
	}
	return "on"
}

// WakeReason tells why the device is awake.
type WakeReason string

const (
	WakeAlarm   WakeReason = "alarm"
	WakePin     WakeReason = "pin"
	WakePowerOn WakeReason = "power_on"
)

// CycleReport summarizes one wake cycle for the log and the metrics textfile.
type CycleReport struct {
	CycleID         string           `json:"cycle_id"`
	StartedAt       time.Time        `json:"started_at"`
	Duration        time.Duration    `json:"duration"`
	WakeReason      WakeReason       `json:"wake_reason"`
	BatteryVolts    float64          `json:"battery_volts"`
	Connected       bool             `json:"connected"`
	Reading         *RainfallReading `json:"reading,omitempty"`
	RainDetected    bool             `json:"rain_detected"`
	Actuated        *Line            `json:"actuated,omitempty"`
	Reported        bool             `json:"reported"`
	ConnectFailures int              `json:"connect_failures"`
	Next            WakeSchedule     `json:"next_wake"`
	Slept           bool             `json:"slept"`
	Errors          []string         `json:"errors,omitempty"`
}
