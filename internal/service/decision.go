package service

import "irrigation_controller/internal/models"

// Thresholds are the millimetre values each reading field must exceed for rain
// to count as occurring or imminent.
type Thresholds struct {
	LastHour         int
	Today            int
	ForecastToday    int
	ForecastTomorrow int
}

// DefaultThresholds matches configs/config.yml.
func DefaultThresholds() Thresholds {
	return Thresholds{LastHour: 0, Today: 3, ForecastToday: 5, ForecastTomorrow: 5}
}

// Decide reports whether rain is occurring or imminent: true as soon as one
// field is strictly above its threshold.
func Decide(r models.RainfallReading, t Thresholds) bool {
	return r.LastHour > t.LastHour ||
		r.Today > t.Today ||
		r.ForecastToday > t.ForecastToday ||
		r.ForecastTomorrow > t.ForecastTomorrow
}
