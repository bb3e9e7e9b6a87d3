package service

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/errs"
	"irrigation_controller/internal/logger"
	"irrigation_controller/internal/models"
	"irrigation_controller/internal/stream"
)

const (
	opObservation = "read_observation"
	opForecast    = "read_forecast"

	fieldMM   = "mm"
	fieldTime = "time"

	observationRecords = 2
)

// Observation feed: the last-hour and today totals, in that order.
func observationStages() []stream.Stage {
	return []stream.Stage{
		{Field: fieldMM, Pattern: regexp.MustCompile(`precip_\w+_metric":" ?(-?([0-9]*[.])?[0-9]+)"`)},
	}
}

// Hourly forecast timeseries: one record per period that has a one-hour
// precipitation amount.
func forecastStages() []stream.Stage {
	return []stream.Stage{
		{Pattern: regexp.MustCompile(`timeseries|\},\{`)},
		{Field: fieldTime, Pattern: regexp.MustCompile(`time":"(\d{4}-\d\d-\d\dT\d\d:\d\d:\d\dZ)"`)},
		{Pattern: regexp.MustCompile(`next_1_hours`)},
		{Field: fieldMM, Pattern: regexp.MustCompile(`precipitation_amount":(\d+\.\d)`)},
	}
}

type WeatherOptions struct {
	ObservationURL       string
	ForecastURL          string
	UserAgent            string
	ObservationChunkSize int
	ForecastChunkSize    int
	Location             *time.Location
	Policy               backoff.Policy
}

// WeatherService reads observed and forecast rainfall. Each fetch runs under
// its own retry budget.
type WeatherService struct {
	fetcher     Fetcher
	exec        *backoff.Executor
	log         *logger.Logger
	opts        WeatherOptions
	observation *stream.Scanner
	forecast    *stream.Scanner
}

func NewWeatherService(fetcher Fetcher, exec *backoff.Executor, log *logger.Logger, opts WeatherOptions) (*WeatherService, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	obs, err := stream.NewScanner(opts.ObservationChunkSize, observationStages())
	if err != nil {
		return nil, fmt.Errorf("observation scanner: %w", err)
	}
	fc, err := stream.NewScanner(opts.ForecastChunkSize, forecastStages(), stream.WithLeadRestart())
	if err != nil {
		return nil, fmt.Errorf("forecast scanner: %w", err)
	}
	return &WeatherService{
		fetcher:     fetcher,
		exec:        exec,
		log:         logger.OrNop(log),
		opts:        opts,
		observation: obs,
		forecast:    fc,
	}, nil
}

// Acquire fills a RainfallReading from both feeds. now decides which local
// dates count as today and tomorrow.
func (s *WeatherService) Acquire(ctx context.Context, now time.Time) (models.RainfallReading, error) {
	var r models.RainfallReading

	obs, err := backoff.Retry(ctx, s.exec, opObservation, s.opts.Policy, s.readObservation)
	if err != nil {
		return r, err
	}
	r.LastHour, r.Today = obs[0], obs[1]

	fc, err := backoff.Retry(ctx, s.exec, opForecast, s.opts.Policy, func(ctx context.Context) ([2]int, error) {
		return s.readForecast(ctx, now)
	})
	if err != nil {
		return r, err
	}
	r.ForecastToday, r.ForecastTomorrow = fc[0], fc[1]

	s.log.Infow("rainfall_acquired",
		"last_hour_mm", r.LastHour,
		"today_mm", r.Today,
		"forecast_today_mm", r.ForecastToday,
		"forecast_tomorrow_mm", r.ForecastTomorrow,
	)
	return r, nil
}

func (s *WeatherService) get(ctx context.Context, op, url string, chunkSize int, okStatus ...int) (*stream.ChunkReader, func(), error) {
	headers := map[string]string{}
	if s.opts.UserAgent != "" {
		headers["User-Agent"] = s.opts.UserAgent
	}
	s.log.Infow("request", "op", op, "url", url)
	status, body, closer, err := s.fetcher.Get(ctx, url, headers, chunkSize)
	if err != nil {
		return nil, nil, errs.Network(op, err)
	}
	release := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	s.log.Infow("response", "op", op, "status", status)
	for _, code := range okStatus {
		if status == code {
			return body, release, nil
		}
	}
	release()
	return nil, nil, errs.Status(op, status)
}

func (s *WeatherService) readObservation(ctx context.Context) ([2]int, error) {
	var out [2]int
	body, release, err := s.get(ctx, opObservation, s.opts.ObservationURL, s.observation.ChunkSize(), http.StatusOK)
	if err != nil {
		return out, err
	}
	defer release()

	var values []string
	for rec := range s.observation.Scan(body.Chunks()) {
		v, _ := rec.Get(fieldMM)
		values = append(values, v)
		if len(values) == observationRecords {
			break
		}
	}
	if len(values) != observationRecords {
		if err := body.Err(); err != nil {
			return out, errs.Network(opObservation, fmt.Errorf("read body: %w", err))
		}
		return out, errs.Shortfall(opObservation, len(values), observationRecords)
	}
	for i, v := range values {
		mm, err := parseMillimetres(v)
		if err != nil {
			return out, errs.Invalid(opObservation, err)
		}
		out[i] = mm
	}
	return out, nil
}

// readForecast sums the hourly amounts of today and tomorrow (local dates) and
// stops at the first period past tomorrow.
func (s *WeatherService) readForecast(ctx context.Context, now time.Time) ([2]int, error) {
	var out [2]int
	// met.no answers 203 for deprecated but still served products.
	body, release, err := s.get(ctx, opForecast, s.opts.ForecastURL, s.forecast.ChunkSize(), http.StatusOK, http.StatusNonAuthoritativeInfo)
	if err != nil {
		return out, err
	}
	defer release()

	loc := s.opts.Location
	today := dateOf(now.In(loc))
	tomorrow := today.AddDate(0, 0, 1)

	var (
		sums    [2]float64
		seen    [2]bool
		horizon bool
	)
scan:
	for rec := range s.forecast.Scan(body.Chunks()) {
		ts, _ := rec.Get(fieldTime)
		mm, _ := rec.Get(fieldMM)
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return out, errs.Invalid(opForecast, fmt.Errorf("period time %q: %w", ts, err))
		}
		amount, err := strconv.ParseFloat(mm, 64)
		if err != nil {
			return out, errs.Invalid(opForecast, fmt.Errorf("amount %q: %w", mm, err))
		}
		day := dateOf(at.In(loc))
		switch {
		case day.After(tomorrow):
			horizon = true
			break scan
		case day.Equal(tomorrow):
			sums[1] += amount
			seen[1] = true
		case day.Equal(today):
			sums[0] += amount
			seen[0] = true
		}
	}
	// A body cut short before the horizon would under-count tomorrow.
	if !horizon {
		if err := body.Err(); err != nil {
			return out, errs.Network(opForecast, fmt.Errorf("read body: %w", err))
		}
	}
	if !seen[0] || !seen[1] {
		got := 0
		for _, ok := range seen {
			if ok {
				got++
			}
		}
		return out, errs.Shortfall(opForecast, got, len(seen))
	}
	out[0] = int(math.Round(sums[0]))
	out[1] = int(math.Round(sums[1]))
	return out, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// parseMillimetres rounds a decimal reading to whole millimetres. Negative
// values are sensor placeholders and are rejected.
func parseMillimetres(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative value %q", s)
	}
	return int(math.Round(v)), nil
}
