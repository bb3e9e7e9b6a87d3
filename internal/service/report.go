package service

import (
	"context"
	"net/http"
	"strconv"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/models"
)

const opTelemetry = "upload_telemetry"

// TelemetryFields orders the channel fields: rainfall last hour, today,
// forecast today, forecast tomorrow, battery volts, and 1 when watering is on.
func TelemetryFields(r models.RainfallReading, volts float64, systemOn bool) []string {
	on := "0"
	if systemOn {
		on = "1"
	}
	return []string{
		strconv.Itoa(r.LastHour),
		strconv.Itoa(r.Today),
		strconv.Itoa(r.ForecastToday),
		strconv.Itoa(r.ForecastTomorrow),
		strconv.FormatFloat(volts, 'f', 2, 64),
		on,
	}
}

// Reporter uploads the cycle telemetry under its own retry budget.
type Reporter struct {
	telemetry Telemetry
	exec      *backoff.Executor
	policy    backoff.Policy
}

func NewReporter(t Telemetry, exec *backoff.Executor, p backoff.Policy) *Reporter {
	return &Reporter{telemetry: t, exec: exec, policy: p}
}

func (r *Reporter) Report(ctx context.Context, fields []string) error {
	return r.exec.Execute(ctx, opTelemetry, r.policy, func(ctx context.Context) error {
		status, err := r.telemetry.Upload(ctx, fields)
		if err != nil {
			return errs.Network(opTelemetry, err)
		}
		if status != http.StatusOK {
			return errs.Status(opTelemetry, status)
		}
		return nil
	})
}
