package config

import (
	"context"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"log"
	"time"
)

const (
	FilterModeActive = "active"
	FilterModeRecent = "recent"
)

type ParcelApiConfig struct {
	Endpoint            string        `env:"PARCEL_API_ENDPOINT, default=https://api.parcel.app/external/deliveries/" validate:"required,url"`
	ApiKey              string        `env:"PARCEL_API_KEY" validate:"required"`
	EntryName           string        `env:"PARCEL_ENTRY_NAME, default=Parcel Package Tracking"`
	FilterMode          string        `env:"PARCEL_FILTER_MODE, default=active" validate:"oneof=active recent"`
	DualFetch           bool          `env:"PARCEL_DUAL_FETCH, default=true"`
	ScanIntervalMinutes int           `env:"PARCEL_SCAN_INTERVAL, default=30" validate:"min=15,max=180"`
	RequestTimeout      time.Duration `env:"PARCEL_REQUEST_TIMEOUT, default=10s" validate:"gt=0"`
	CycleTimeout        time.Duration `env:"PARCEL_CYCLE_TIMEOUT, default=30s" validate:"gt=0"`
}

// ScanInterval is the configured refresh interval as a duration.
func (c ParcelApiConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

// FilterModes lists the views fetched every cycle, the configured mode first.
func (c ParcelApiConfig) FilterModes() []string {
	if !c.DualFetch {
		return []string{c.FilterMode}
	}
	if c.FilterMode == FilterModeRecent {
		return []string{FilterModeRecent, FilterModeActive}
	}
	return []string{FilterModeActive, FilterModeRecent}
}

type Config struct {
	DSN                string `env:"DATABASE_DSN"`
	LogsDirectory      string `env:"LOGS_DIRECTORY"`
	LogLevel           string `env:"LOG_LEVEL, default=info" validate:"oneof=debug info warn error"`
	HTTPAddr           string `env:"HTTP_ADDR, default=:8080" validate:"required"`
	SchedulerTick      string `env:"SCHEDULER_TICK, default=@every 1m" validate:"required"`
	SetupRetrySchedule string `env:"SETUP_RETRY_SCHEDULE, default=@every 5m" validate:"required"`
	ParcelApi          ParcelApiConfig
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	return Load(context.Background(), envconfig.OsLookuper())
}

// Load builds a validated Config from the given lookuper.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}
