package service

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/models"
)

type fakeTelemetry struct {
	statuses []int
	err      error
	calls    int
	got      []string
}

func (f *fakeTelemetry) Upload(ctx context.Context, fields []string) (int, error) {
	f.calls++
	f.got = fields
	if f.err != nil {
		return 0, f.err
	}
	i := min(f.calls-1, len(f.statuses)-1)
	return f.statuses[i], nil
}

func TestTelemetryFields(t *testing.T) {
	t.Parallel()

	r := models.RainfallReading{LastHour: 1, Today: 12, ForecastToday: 3, ForecastTomorrow: 0}
	got := TelemetryFields(r, 4.0512, false)
	want := []string{"1", "12", "3", "0", "4.05", "0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TelemetryFields = %v; want %v", got, want)
	}
	if on := TelemetryFields(r, 3.3, true)[5]; on != "1" {
		t.Fatalf("systemOn = %q; want 1", on)
	}
}

func TestReporter_RetriesUntilOK(t *testing.T) {
	t.Parallel()

	tel := &fakeTelemetry{statuses: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusOK}}
	exec, sleeper := newTestExecutor(nil)
	r := NewReporter(tel, exec, backoff.Policy{MaxAttempts: 5, InitialDelay: time.Second})

	fields := []string{"0", "0", "0", "0", "3.90", "1"}
	if err := r.Report(context.Background(), fields); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if tel.calls != 3 || !reflect.DeepEqual(tel.got, fields) {
		t.Fatalf("calls = %d, fields = %v", tel.calls, tel.got)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("delays = %v; want two pauses", sleeper.delays)
	}
}

func TestReporter_Exhausted(t *testing.T) {
	t.Parallel()

	tel := &fakeTelemetry{err: errors.New("dial tcp: i/o timeout")}
	exec, _ := newTestExecutor(nil)
	r := NewReporter(tel, exec, backoff.Policy{MaxAttempts: 2})

	err := r.Report(context.Background(), nil)
	if !errors.Is(err, errs.ErrRetriesExhausted) || !errors.Is(err, errs.ErrNetwork) {
		t.Fatalf("expected exhausted network failure, got %v", err)
	}
	if tel.calls != 2 {
		t.Fatalf("calls = %d; want 2", tel.calls)
	}
}
