package service

import (
	"testing"
	"time"

	"irrigation_controller/internal/models"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	cases := []struct {
		name string
		in   models.RainfallReading
		want bool
	}{
		{name: "all zero", in: models.RainfallReading{}, want: false},
		{name: "today above threshold", in: models.RainfallReading{Today: 4}, want: true},
		{name: "today at threshold", in: models.RainfallReading{Today: 3}, want: false},
		{name: "raining now", in: models.RainfallReading{LastHour: 1}, want: true},
		{name: "heavy forecast today", in: models.RainfallReading{ForecastToday: 6}, want: true},
		{name: "forecast tomorrow at threshold", in: models.RainfallReading{ForecastTomorrow: 5}, want: false},
		{name: "forecast tomorrow above", in: models.RainfallReading{ForecastTomorrow: 6}, want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Decide(tc.in, th); got != tc.want {
				t.Fatalf("Decide(%+v) = %v; want %v", tc.in, got, tc.want)
			}
			// Pure: same input, same answer.
			if got := Decide(tc.in, th); got != tc.want {
				t.Fatalf("second Decide(%+v) = %v; want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler("not a cron", time.Minute, 5); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := NewScheduler("0 5 * * *", 0, 5); err == nil {
		t.Fatalf("expected error for zero retry interval")
	}
	s, err := NewScheduler("0 5 * * *", time.Minute, 0)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if s.threshold != DefaultEscalationThreshold {
		t.Fatalf("threshold = %d; want default", s.threshold)
	}
}

func TestScheduler_DailyIsUTCUnlessZoned(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t)
	nz := time.FixedZone("NZDT", 13*3600)
	// 2025-01-01 17:00 NZDT is 04:00 UTC, one hour before the alarm.
	now := time.Date(2025, 1, 1, 17, 0, 0, 0, nz)
	got := s.Daily(now)
	want := time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC)
	if !got.At.Equal(want) {
		t.Fatalf("Daily = %v; want %v", got.At, want)
	}

	zoned, err := NewScheduler("CRON_TZ=Etc/GMT-13 0 5 * * *", time.Minute, 5)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	got = zoned.Daily(now)
	want = time.Date(2025, 1, 2, 5, 0, 0, 0, nz)
	if !got.At.Equal(want) {
		t.Fatalf("zoned Daily = %v; want %v", got.At, want)
	}
}
