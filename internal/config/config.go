// Package config loads the controller settings from configs/config.yml,
// IRRIGATION_* environment overrides and a .env file holding the secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"irrigation_controller/internal/backoff"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "IRRIGATION"

// Secrets read from the environment (or .env).
const (
	envWeatherAPIKey    = "WEATHER_API_KEY"
	envThingSpeakAPIKey = "THINGSPEAK_API_KEY"
	envAPISigningKey    = "API_SIGNING_KEY"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Port       string           `mapstructure:"port"`
	Weather    WeatherConfig    `mapstructure:"weather"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Pins       PinsConfig       `mapstructure:"pins"`
	Battery    BatteryConfig    `mapstructure:"battery"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog"`
	Alarm      AlarmConfig      `mapstructure:"alarm"`
	Network    NetworkConfig    `mapstructure:"network"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type WeatherConfig struct {
	ObservationURL       string `mapstructure:"observation_url"`
	ForecastURL          string `mapstructure:"forecast_url"`
	UserAgent            string `mapstructure:"user_agent"`
	ObservationChunkSize int    `mapstructure:"observation_chunk_size"`
	ForecastChunkSize    int    `mapstructure:"forecast_chunk_size"`
	Timezone             string `mapstructure:"timezone"`
	APIKey               string `mapstructure:"-"`
}

// ObservationEndpoint returns the observation URL with the API key filled in.
func (w WeatherConfig) ObservationEndpoint() string {
	return strings.ReplaceAll(w.ObservationURL, "{api_key}", w.APIKey)
}

type TelemetryConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"-"`
}

// PolicyConfig mirrors backoff.Policy.
type PolicyConfig struct {
	Attempts     int           `mapstructure:"attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

func (p PolicyConfig) Policy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts:  p.Attempts,
		InitialDelay: p.InitialDelay,
		Multiplier:   p.Multiplier,
		MaxDelay:     p.MaxDelay,
	}
}

type RetryConfig struct {
	Connect   PolicyConfig `mapstructure:"connect"`
	Fetch     PolicyConfig `mapstructure:"fetch"`
	Telemetry PolicyConfig `mapstructure:"telemetry"`
}

// ThresholdsConfig holds the millimetre values a reading must exceed to count
// as rain.
type ThresholdsConfig struct {
	LastHour         int `mapstructure:"last_hour"`
	Today            int `mapstructure:"today"`
	ForecastToday    int `mapstructure:"forecast_today"`
	ForecastTomorrow int `mapstructure:"forecast_tomorrow"`
}

type ScheduleConfig struct {
	// Daily is a standard five-field cron expression, evaluated in UTC unless
	// it carries a CRON_TZ= prefix.
	Daily               string        `mapstructure:"daily"`
	RetryAfter          time.Duration `mapstructure:"retry_after"`
	EscalationThreshold int           `mapstructure:"escalation_threshold"`
}

type RelayConfig struct {
	OnPin  int           `mapstructure:"on_pin"`
	OffPin int           `mapstructure:"off_pin"`
	Pulse  time.Duration `mapstructure:"pulse"`
}

type PinsConfig struct {
	Wake    int `mapstructure:"wake"`
	NoSleep int `mapstructure:"no_sleep"`
}

type BatteryConfig struct {
	Path      string  `mapstructure:"path"`
	Samples   int     `mapstructure:"samples"`
	ADCFactor float64 `mapstructure:"adc_factor"`
	R1        float64 `mapstructure:"r1"`
	R2        float64 `mapstructure:"r2"`
}

type WatchdogConfig struct {
	Device string `mapstructure:"device"`
}

// AlarmConfig locates the file the next wake is armed in.
type AlarmConfig struct {
	Path       string `mapstructure:"path"`
	BootIDPath string `mapstructure:"boot_id_path"`
}

type NetworkConfig struct {
	CheckAddr      string        `mapstructure:"check_addr"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

type AuthConfig struct {
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	SigningKey string        `mapstructure:"-"`
}

var errNoSigningKey = errors.New(envAPISigningKey + " is required")

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "system.log")
	v.SetDefault("db.path", "irrigation.db")
	v.SetDefault("port", "8080")

	v.SetDefault("weather.observation_url", "http://api.wunderground.com/api/{api_key}/conditions/q/pws:IAUCKLAN123.json")
	v.SetDefault("weather.forecast_url", "https://api.met.no/weatherapi/locationforecast/2.0/compact?lat=-36.85&lon=174.76")
	v.SetDefault("weather.user_agent", "irrigation-controller/1.0")
	v.SetDefault("weather.observation_chunk_size", 256)
	v.SetDefault("weather.forecast_chunk_size", 1000)
	v.SetDefault("weather.timezone", "Pacific/Auckland")

	v.SetDefault("telemetry.url", "https://api.thingspeak.com/update")

	v.SetDefault("retry.connect.attempts", 3)
	v.SetDefault("retry.connect.initial_delay", 2*time.Second)
	v.SetDefault("retry.connect.multiplier", 2.0)
	v.SetDefault("retry.fetch.attempts", 5)
	v.SetDefault("retry.fetch.initial_delay", 2*time.Second)
	v.SetDefault("retry.fetch.multiplier", 2.0)
	v.SetDefault("retry.telemetry.attempts", 5)
	v.SetDefault("retry.telemetry.initial_delay", 2*time.Second)
	v.SetDefault("retry.telemetry.multiplier", 2.0)

	v.SetDefault("thresholds.last_hour", 0)
	v.SetDefault("thresholds.today", 3)
	v.SetDefault("thresholds.forecast_today", 5)
	v.SetDefault("thresholds.forecast_tomorrow", 5)

	v.SetDefault("schedule.daily", "0 5 * * *")
	v.SetDefault("schedule.retry_after", time.Minute)
	v.SetDefault("schedule.escalation_threshold", 5)

	v.SetDefault("relay.on_pin", 23)
	v.SetDefault("relay.off_pin", 24)
	v.SetDefault("relay.pulse", 10*time.Millisecond)

	v.SetDefault("pins.wake", 4)
	v.SetDefault("pins.no_sleep", 26)

	v.SetDefault("battery.path", "/sys/bus/iio/devices/iio:device0/in_voltage0_raw")
	v.SetDefault("battery.samples", 100)
	v.SetDefault("battery.adc_factor", 1.08)
	v.SetDefault("battery.r1", 10070000.0)
	v.SetDefault("battery.r2", 3329000.0)

	v.SetDefault("watchdog.device", "/dev/watchdog")

	v.SetDefault("alarm.path", "alarm.json")
	v.SetDefault("alarm.boot_id_path", "/proc/sys/kernel/random/boot_id")

	v.SetDefault("network.check_addr", "api.met.no:443")
	v.SetDefault("network.connect_timeout", 20*time.Second)
	v.SetDefault("network.poll_interval", 500*time.Millisecond)

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("auth.token_ttl", 12*time.Hour)
}

// Load reads configs/config.yml from dir (when present), applies
// IRRIGATION_* overrides and loads the secrets. A missing config file is not
// an error: every setting has a default.
func Load(dir string) (*Config, error) {
	_ = godotenv.Load(".env") // ignore missing file

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Weather.APIKey = strings.TrimSpace(os.Getenv(envWeatherAPIKey))
	cfg.Telemetry.APIKey = strings.TrimSpace(os.Getenv(envThingSpeakAPIKey))
	cfg.Auth.SigningKey = strings.TrimSpace(os.Getenv(envAPISigningKey))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Weather.ForecastChunkSize <= 0 || c.Weather.ObservationChunkSize <= 0 {
		return errors.New("weather chunk sizes must be positive")
	}
	if c.Schedule.EscalationThreshold <= 0 {
		return errors.New("schedule.escalation_threshold must be positive")
	}
	if c.Battery.R2 <= 0 {
		return errors.New("battery.r2 must be positive")
	}
	if _, err := time.LoadLocation(c.Weather.Timezone); err != nil {
		return fmt.Errorf("weather.timezone: %w", err)
	}
	return nil
}

// RequireSigningKey fails when the API signing key is not configured. Only the
// diagnostics API and the token command need it.
func (c *Config) RequireSigningKey() error {
	if c.Auth.SigningKey == "" {
		return errNoSigningKey
	}
	return nil
}

// Location returns the timezone forecast dates are bucketed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Weather.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
