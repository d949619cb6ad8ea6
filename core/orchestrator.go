package core

import (
	"context"
	"fmt"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"time"
)

type Orchestrator struct {
	workers []Worker
	cron    *cron.Cron
	logger  *zap.Logger
}

func NewOrchestrator(logger *zap.Logger, workers []Worker) *Orchestrator {
	cl := cronLogger{logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &Orchestrator{workers: workers, cron: c, logger: logger}
}

// Start registers the initial workers and starts the scheduler. The scheduler
// stops when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) (*cron.Cron, error) {
	for _, worker := range o.workers {
		if _, err := o.Register(worker); err != nil {
			return o.cron, err
		}
	}

	o.cron.Start()

	go func() {
		<-ctx.Done()
		<-o.cron.Stop().Done()
	}()

	return o.cron, nil
}

// Register adds a worker to a scheduler, started or not, and returns a func
// that removes it again.
func (o *Orchestrator) Register(worker Worker) (func(), error) {
	id, err := o.cron.AddFunc(worker.Schedule(), func() {
		if worker.Ready(time.Now()) {
			worker.Execute()
		}
	})

	if err != nil {
		o.logger.Error("Error adding cron job",
			zap.String("schedule", worker.Schedule()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("schedule %q: %w", worker.Schedule(), err)
	}

	return func() { o.cron.Remove(id) }, nil
}

// Stop stops scheduling new runs. The returned context is done once running
// jobs have finished.
func (o *Orchestrator) Stop() context.Context {
	return o.cron.Stop()
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

// Info messages from cron are per-tick noise, so they go to debug.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
