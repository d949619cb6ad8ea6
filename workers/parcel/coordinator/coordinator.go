// Package coordinator owns the refresh cycle of one configuration entry: it
// schedules fetches, coalesces concurrent refresh requests into one, caches
// the last successful result and fans every completed cycle out to listeners.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"parcel-tracking-service/core"
	"parcel-tracking-service/metrics"
	"parcel-tracking-service/workers/parcel/client"
	"parcel-tracking-service/workers/parcel/models"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCycleTimeout = 30 * time.Second
	defaultTick         = "@every 1m"
	historyWriteTimeout = 5 * time.Second
	refreshKey          = "refresh"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseFetching        Phase = "fetching"
	PhaseUpdated         Phase = "updated"
	PhaseFailedTransient Phase = "failed_transient"
	PhaseFailedReady     Phase = "failed_ready"
)

// Fetcher performs one complete fetch of the remote data.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.DeliveryRecord, error)
}

type FetcherFunc func(ctx context.Context) ([]models.DeliveryRecord, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]models.DeliveryRecord, error) {
	return f(ctx)
}

// Scheduler runs registered workers on their schedule until the returned
// remove func is called. core.Orchestrator satisfies it.
type Scheduler interface {
	Register(worker core.Worker) (func(), error)
}

// HistoryRecorder stores one row per completed cycle.
type HistoryRecorder interface {
	RecordCycle(ctx context.Context, cycle models.RefreshCycle) error
}

// Result is the outcome of one cycle. Err is nil on success.
type Result struct {
	Deliveries []models.DeliveryRecord
	Err        error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Snapshot is a read-only copy of the coordinator state. Deliveries always
// come from the last successful cycle.
type Snapshot struct {
	Deliveries          []models.DeliveryRecord
	HasData             bool
	LastUpdateSuccess   bool
	LastError           error
	Phase               Phase
	ConsecutiveFailures int
	LastAttempt         time.Time
	LastSuccess         time.Time
	Cycle               uint64
}

func (s Snapshot) clone() Snapshot {
	s.Deliveries = models.CloneDeliveries(s.Deliveries)
	return s
}

// Listener is called after every completed cycle, success or failure.
type Listener func(Snapshot)

type subscription struct {
	listener Listener
	active   atomic.Bool
}

type Option func(*Coordinator)

func WithHistory(history HistoryRecorder) Option {
	return func(c *Coordinator) {
		c.history = history
	}
}

// WithCycleTimeout bounds a whole cycle, all requests included.
func WithCycleTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.cycleTimeout = d
		}
	}
}

// WithTick sets the cron spec the scheduler polls Ready at.
func WithTick(spec string) Option {
	return func(c *Coordinator) {
		if spec != "" {
			c.tick = spec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

type Coordinator struct {
	entryID      string
	fetcher      Fetcher
	scheduler    Scheduler
	history      HistoryRecorder
	logger       *zap.Logger
	now          func() time.Time
	cycleTimeout time.Duration
	tick         string

	group singleflight.Group

	mu            sync.RWMutex
	state         Snapshot
	interval      time.Duration
	inFlight      bool
	lastCompleted time.Time
	closed        bool
	unschedule    func()
	listeners     map[uint64]*subscription
	nextListener  uint64
}

func NewCoordinator(entryID string, fetcher Fetcher, scheduler Scheduler, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		entryID:      entryID,
		fetcher:      fetcher,
		scheduler:    scheduler,
		logger:       logger.Named("coordinator").With(zap.String("entry", entryID)),
		now:          time.Now,
		cycleTimeout: defaultCycleTimeout,
		tick:         defaultTick,
		state:        Snapshot{Phase: PhaseIdle},
		listeners:    make(map[uint64]*subscription),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Coordinator) EntryID() string {
	return c.entryID
}

// Start schedules periodic refreshes. The next cycle runs once interval has
// elapsed since the previous one completed. Calling Start again only changes
// the interval.
func (c *Coordinator) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid refresh interval %s", interval)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.interval = interval
	registered := c.unschedule != nil
	c.mu.Unlock()

	if registered {
		return nil
	}

	remove, err := c.scheduler.Register(c)
	if err != nil {
		return fmt.Errorf("failed to schedule entry %s: %w", c.entryID, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		remove()
		return ErrClosed
	}
	c.unschedule = remove
	c.mu.Unlock()

	c.logger.Info("Scheduled refresh", zap.Duration("interval", interval))
	return nil
}

func (c *Coordinator) Schedule() string {
	return c.tick
}

func (c *Coordinator) Ready(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed || c.inFlight || c.interval <= 0 {
		return false
	}
	return c.lastCompleted.IsZero() || !now.Before(c.lastCompleted.Add(c.interval))
}

func (c *Coordinator) Execute() {
	c.RequestRefresh(context.Background())
}

// RequestRefresh runs a cycle, or joins the one in flight. Every caller of a
// shared cycle gets the same result. When ctx ends first the caller stops
// waiting but the cycle still completes for everyone else.
func (c *Coordinator) RequestRefresh(ctx context.Context) Result {
	c.mu.RLock()
	closed, joining := c.closed, c.inFlight
	c.mu.RUnlock()

	if closed {
		return Result{Err: ErrClosed}
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.runCycle(), nil
	})
	if joining {
		metrics.RefreshCoalescedTotal.WithLabelValues(c.entryID).Inc()
	}

	select {
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case r := <-ch:
		res := r.Val.(Result)
		return Result{Deliveries: models.CloneDeliveries(res.Deliveries), Err: res.Err}
	}
}

// FirstRefresh runs the setup cycle and blocks until it completes. It returns
// a *SetupError when the cycle failed and there is no cached data to serve.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	res := c.RequestRefresh(ctx)
	if res.OK() {
		return nil
	}
	if errors.Is(res.Err, ErrClosed) {
		return res.Err
	}

	c.mu.RLock()
	hasData := c.state.HasData
	c.mu.RUnlock()

	if hasData {
		return nil
	}
	return &SetupError{Entry: c.entryID, Err: res.Err}
}

func (c *Coordinator) runCycle() Result {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{Err: ErrClosed}
	}
	c.inFlight = true
	c.state.Phase = PhaseFetching
	started := c.now()
	c.state.LastAttempt = started
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cycleTimeout)
	deliveries, err := c.fetcher.Fetch(ctx)
	cancel()

	if err == nil && deliveries == nil {
		deliveries = []models.DeliveryRecord{}
	}

	finished := c.now()

	c.mu.Lock()
	c.inFlight = false
	c.lastCompleted = finished

	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("Discarding cycle result of closed coordinator")
		return Result{Err: ErrClosed}
	}

	c.state.Cycle++
	if err == nil {
		c.state.Deliveries = deliveries
		c.state.HasData = true
		c.state.LastUpdateSuccess = true
		c.state.LastError = nil
		c.state.ConsecutiveFailures = 0
		c.state.LastSuccess = finished
		c.state.Phase = PhaseUpdated
	} else {
		c.state.LastUpdateSuccess = false
		c.state.LastError = err
		c.state.ConsecutiveFailures++
		c.state.Phase = PhaseFailedTransient
		if !c.state.HasData {
			c.state.Phase = PhaseFailedReady
		}
	}

	snapshot := c.state
	listeners := make([]*subscription, 0, len(c.listeners))
	for _, sub := range c.listeners {
		listeners = append(listeners, sub)
	}
	c.mu.Unlock()

	c.record(snapshot, started, finished, err)

	for _, sub := range listeners {
		if !sub.active.Load() {
			continue
		}
		sub.listener(snapshot.clone())
	}

	if err != nil {
		return Result{Err: err}
	}
	return Result{Deliveries: deliveries}
}

func (c *Coordinator) record(snapshot Snapshot, started, finished time.Time, err error) {
	result := errorKind(err)

	metrics.RefreshCyclesTotal.WithLabelValues(c.entryID, result).Inc()
	metrics.RefreshDuration.WithLabelValues(c.entryID).Observe(finished.Sub(started).Seconds())
	metrics.ConsecutiveFailures.WithLabelValues(c.entryID).Set(float64(snapshot.ConsecutiveFailures))

	if err == nil {
		metrics.TrackedDeliveries.WithLabelValues(c.entryID).Set(float64(len(snapshot.Deliveries)))
		metrics.LastSuccessTimestamp.WithLabelValues(c.entryID).Set(float64(finished.Unix()))

		c.logger.Info("Refreshed deliveries",
			zap.Uint64("cycle", snapshot.Cycle),
			zap.Int("count", len(snapshot.Deliveries)),
			zap.Duration("took", finished.Sub(started)),
		)
	} else {
		c.logger.Warn("Refresh failed",
			zap.Uint64("cycle", snapshot.Cycle),
			zap.String("result", result),
			zap.Int("consecutive_failures", snapshot.ConsecutiveFailures),
			zap.Bool("serving_stale", snapshot.HasData),
			zap.Error(err),
		)
	}

	if c.history == nil {
		return
	}

	row := models.RefreshCycle{
		EntryID:    c.entryID,
		Cycle:      snapshot.Cycle,
		StartedAt:  started,
		FinishedAt: finished,
		Success:    err == nil,
		Result:     result,
	}
	if err == nil {
		row.DeliveryCount = len(snapshot.Deliveries)
	} else {
		row.ErrorMessage = truncate(err.Error(), 512)
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := c.history.RecordCycle(ctx, row); err != nil {
		c.logger.Error("Failed to record refresh cycle", zap.Error(err))
	}
}

// Subscribe registers listener for every completed cycle. The returned func
// removes it; after it returns the listener is never called again.
func (c *Coordinator) Subscribe(listener Listener) func() {
	sub := &subscription{listener: listener}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	sub.active.Store(true)
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close stops scheduling and invalidates every listener. A cycle still in
// flight completes but its result is dropped.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, sub := range c.listeners {
		sub.active.Store(false)
		delete(c.listeners, id)
	}
	unschedule := c.unschedule
	c.unschedule = nil
	c.mu.Unlock()

	if unschedule != nil {
		unschedule()
	}
	metrics.DeleteEntry(c.entryID)

	c.logger.Info("Coordinator closed")
}

// Data returns a copy of the deliveries of the last successful cycle, or an
// empty slice before the first success.
func (c *Coordinator) Data() []models.DeliveryRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.Deliveries == nil {
		return []models.DeliveryRecord{}
	}
	return models.CloneDeliveries(c.state.Deliveries)
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LastUpdateSuccess
}

func errorKind(err error) string {
	var apiErr *client.APIError
	var transportErr *client.TransportError

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.As(err, &transportErr), errors.Is(err, context.DeadlineExceeded):
		return "transport_error"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
