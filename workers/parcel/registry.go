package parcel

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"parcel-tracking-service/config"
	"parcel-tracking-service/workers/parcel/client"
	"parcel-tracking-service/workers/parcel/coordinator"
	"parcel-tracking-service/workers/parcel/models"
	"parcel-tracking-service/workers/parcel/sensors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	EntryStateLoaded     = "loaded"
	EntryStateSetupRetry = "setup_retry"

	uniqueIDLength       = 8
	defaultRetrySchedule = "@every 5m"
)

var (
	ErrEntryNotFound     = errors.New("entry not found")
	ErrAlreadyConfigured = errors.New("parcel account already configured")
)

// Entry is one configured Parcel account.
type Entry struct {
	ID       string
	UniqueID string
	Name     string
	Config   config.ParcelApiConfig
}

// NewEntry derives the entry identity from its config. Two entries with the
// same API key prefix are the same account.
func NewEntry(cfg config.ParcelApiConfig) Entry {
	uniqueID := cfg.ApiKey
	if len(uniqueID) > uniqueIDLength {
		uniqueID = uniqueID[:uniqueIDLength]
	}

	return Entry{
		ID:       uuid.NewString(),
		UniqueID: uniqueID,
		Name:     cfg.EntryName,
		Config:   cfg,
	}
}

// EntryStatus is the externally visible state of an entry.
type EntryStatus struct {
	ID                  string            `json:"id"`
	UniqueID            string            `json:"unique_id"`
	Name                string            `json:"name"`
	State               string            `json:"state"`
	Phase               coordinator.Phase `json:"phase,omitempty"`
	LastUpdateSuccess   bool              `json:"last_update_success"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Deliveries          int               `json:"deliveries"`
	LastSuccess         *time.Time        `json:"last_success,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	SetupAttempts       int               `json:"setup_attempts,omitempty"`
}

type integration struct {
	entry       Entry
	coordinator *coordinator.Coordinator
	sensors     *sensors.Platform
}

type pendingEntry struct {
	entry      Entry
	attempts   int
	lastErr    error
	activating atomic.Bool
}

type RegistryOption func(*Registry)

func WithHistory(history coordinator.HistoryRecorder) RegistryOption {
	return func(r *Registry) {
		r.history = history
	}
}

// WithSchedulerTick sets how often coordinators are polled for readiness.
func WithSchedulerTick(spec string) RegistryOption {
	return func(r *Registry) {
		r.tick = spec
	}
}

// WithRetrySchedule sets how often failed setups are retried.
func WithRetrySchedule(spec string) RegistryOption {
	return func(r *Registry) {
		if spec != "" {
			r.retrySchedule = spec
		}
	}
}

// Registry owns every configured entry. Entries whose first refresh failed
// stay pending and are retried on the retry schedule.
type Registry struct {
	scheduler     coordinator.Scheduler
	history       coordinator.HistoryRecorder
	logger        *zap.Logger
	tick          string
	retrySchedule string

	mu       sync.RWMutex
	running  map[string]*integration
	pending  map[string]*pendingEntry
	retrying atomic.Bool
}

func NewRegistry(scheduler coordinator.Scheduler, logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		scheduler:     scheduler,
		logger:        logger.Named("registry"),
		retrySchedule: defaultRetrySchedule,
		running:       make(map[string]*integration),
		pending:       make(map[string]*pendingEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add sets up an entry. When the first refresh fails the entry is kept for a
// later retry and the *coordinator.SetupError is returned.
func (r *Registry) Add(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	if r.configuredLocked(entry.UniqueID) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, entry.UniqueID)
	}
	pending := &pendingEntry{entry: entry}
	r.pending[entry.ID] = pending
	r.mu.Unlock()

	return r.activate(ctx, pending)
}

func (r *Registry) configuredLocked(uniqueID string) bool {
	for _, in := range r.running {
		if in.entry.UniqueID == uniqueID {
			return true
		}
	}
	for _, p := range r.pending {
		if p.entry.UniqueID == uniqueID {
			return true
		}
	}
	return false
}

func (r *Registry) activate(ctx context.Context, pending *pendingEntry) error {
	if !pending.activating.CompareAndSwap(false, true) {
		return nil
	}
	defer pending.activating.Store(false)

	entry := pending.entry
	logger := r.logger.With(zap.String("entry", entry.ID), zap.String("name", entry.Name))

	in, err := r.setup(ctx, entry)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, stillPending := r.pending[entry.ID]; !stillPending {
		// Unloaded while setting up.
		if in != nil {
			in.sensors.Close()
			in.coordinator.Close()
		}
		return ErrEntryNotFound
	}

	if err != nil {
		pending.attempts++
		pending.lastErr = err

		if !errors.Is(err, coordinator.ErrNotReady) {
			delete(r.pending, entry.ID)
			logger.Error("Failed to set up entry", zap.Error(err))
			return err
		}

		logger.Warn("Entry not ready, will retry",
			zap.Int("attempts", pending.attempts),
			zap.String("retry_schedule", r.retrySchedule),
			zap.Error(err),
		)
		return err
	}

	delete(r.pending, entry.ID)
	r.running[entry.ID] = in

	logger.Info("Entry loaded",
		zap.Int("sensors", len(in.sensors.Sensors())),
		zap.Strings("filter_modes", entry.Config.FilterModes()),
		zap.Duration("interval", entry.Config.ScanInterval()),
	)
	return nil
}

func (r *Registry) setup(ctx context.Context, entry Entry) (*integration, error) {
	api := client.NewClient(entry.Config, r.logger.Named("client").With(zap.String("entry", entry.ID)))

	modes := make([]models.FilterMode, 0, 2)
	for _, m := range entry.Config.FilterModes() {
		modes = append(modes, models.FilterMode(m))
	}

	fetcher := coordinator.FetcherFunc(func(ctx context.Context) ([]models.DeliveryRecord, error) {
		return api.FetchAll(ctx, modes...)
	})

	opts := []coordinator.Option{
		coordinator.WithCycleTimeout(entry.Config.CycleTimeout),
		coordinator.WithTick(r.tick),
	}
	if r.history != nil {
		opts = append(opts, coordinator.WithHistory(r.history))
	}

	c := coordinator.NewCoordinator(entry.ID, fetcher, r.scheduler, r.logger, opts...)

	if err := c.FirstRefresh(ctx); err != nil {
		c.Close()
		return nil, err
	}

	platform := sensors.NewPlatform(entry.ID, r.logger)
	platform.Start(c)

	if err := c.Start(entry.Config.ScanInterval()); err != nil {
		platform.Close()
		c.Close()
		return nil, err
	}

	return &integration{entry: entry, coordinator: c, sensors: platform}, nil
}

func (r *Registry) Schedule() string {
	return r.retrySchedule
}

func (r *Registry) Ready(time.Time) bool {
	if r.retrying.Load() {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending) > 0
}

// Execute retries the setup of every pending entry.
func (r *Registry) Execute() {
	if !r.retrying.CompareAndSwap(false, true) {
		return
	}
	defer r.retrying.Store(false)

	r.mu.RLock()
	pending := make([]*pendingEntry, 0, len(r.pending))
	for _, p := range r.pending {
		pending = append(pending, p)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range pending {
		wg.Add(1)
		go func(p *pendingEntry) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), setupTimeout(p.entry.Config))
			defer cancel()

			_ = r.activate(ctx, p)
		}(p)
	}

	wg.Wait()
}

func setupTimeout(cfg config.ParcelApiConfig) time.Duration {
	if cfg.CycleTimeout > 0 {
		return cfg.CycleTimeout + 5*time.Second
	}
	return time.Minute
}

// Unload tears an entry down. Pending entries are dropped.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	in, running := r.running[id]
	_, pending := r.pending[id]
	delete(r.running, id)
	delete(r.pending, id)
	r.mu.Unlock()

	if !running && !pending {
		return ErrEntryNotFound
	}

	if running {
		in.sensors.Close()
		in.coordinator.Close()
	}

	r.logger.Info("Entry unloaded", zap.String("entry", id))
	return nil
}

func (r *Registry) Entries() []EntryStatus {
	r.mu.RLock()
	out := make([]EntryStatus, 0, len(r.running)+len(r.pending))

	for _, in := range r.running {
		snap := in.coordinator.Snapshot()
		status := EntryStatus{
			ID:                  in.entry.ID,
			UniqueID:            in.entry.UniqueID,
			Name:                in.entry.Name,
			State:               EntryStateLoaded,
			Phase:               snap.Phase,
			LastUpdateSuccess:   snap.LastUpdateSuccess,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			Deliveries:          len(snap.Deliveries),
		}
		if !snap.LastSuccess.IsZero() {
			lastSuccess := snap.LastSuccess
			status.LastSuccess = &lastSuccess
		}
		if snap.LastError != nil {
			status.LastError = snap.LastError.Error()
		}
		out = append(out, status)
	}

	for _, p := range r.pending {
		status := EntryStatus{
			ID:            p.entry.ID,
			UniqueID:      p.entry.UniqueID,
			Name:          p.entry.Name,
			State:         EntryStateSetupRetry,
			Phase:         coordinator.PhaseFailedReady,
			SetupAttempts: p.attempts,
		}
		if p.lastErr != nil {
			status.LastError = p.lastErr.Error()
		}
		out = append(out, status)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b EntryStatus) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) lookup(id string) (*integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if in, ok := r.running[id]; ok {
		return in, nil
	}
	if _, ok := r.pending[id]; ok {
		return nil, fmt.Errorf("entry %s: %w", id, coordinator.ErrNotReady)
	}
	return nil, fmt.Errorf("entry %s: %w", id, ErrEntryNotFound)
}

func (r *Registry) Sensors(id string) ([]sensors.Sensor, error) {
	in, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return in.sensors.Sensors(), nil
}

func (r *Registry) Device(id string) (sensors.DeviceInfo, error) {
	in, err := r.lookup(id)
	if err != nil {
		return sensors.DeviceInfo{}, err
	}
	return in.sensors.Device(), nil
}

// Refresh requests an out-of-band cycle for one entry. It joins a cycle
// already in flight.
func (r *Registry) Refresh(ctx context.Context, id string) (coordinator.Result, error) {
	in, err := r.lookup(id)
	if err != nil {
		return coordinator.Result{}, err
	}
	return in.coordinator.RequestRefresh(ctx), nil
}

// RefreshAll refreshes every loaded entry concurrently.
func (r *Registry) RefreshAll(ctx context.Context) map[string]coordinator.Result {
	r.mu.RLock()
	running := make([]*integration, 0, len(r.running))
	for _, in := range r.running {
		running = append(running, in)
	}
	r.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]coordinator.Result, len(running))

	var wg sync.WaitGroup
	for _, in := range running {
		wg.Add(1)
		go func(in *integration) {
			defer wg.Done()
			res := in.coordinator.RequestRefresh(ctx)

			mu.Lock()
			results[in.entry.ID] = res
			mu.Unlock()
		}(in)
	}

	wg.Wait()
	return results
}

// Close unloads every entry.
func (r *Registry) Close() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.running)+len(r.pending))
	for id := range r.running {
		ids = append(ids, id)
	}
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Unload(id)
	}
}
