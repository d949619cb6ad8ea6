package core

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync/atomic"
	"testing"
	"time"
)

type stubWorker struct {
	schedule string
	ready    atomic.Bool
	runs     atomic.Int32
}

func newStubWorker(schedule string, ready bool) *stubWorker {
	w := &stubWorker{schedule: schedule}
	w.ready.Store(ready)
	return w
}

func (w *stubWorker) Schedule() string { return w.schedule }
func (w *stubWorker) Ready(time.Time) bool { return w.ready.Load() }
func (w *stubWorker) Execute() { w.runs.Add(1) }

func TestOrchestrator_RunsReadyWorkers(t *testing.T) {
	t.Parallel()

	ready := newStubWorker("@every 1s", true)
	busy := newStubWorker("@every 1s", false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := NewOrchestrator(zap.NewNop(), []Worker{ready, busy})
	_, err := o.Start(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ready.runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.Zero(t, busy.runs.Load())
}

func TestOrchestrator_RegisterAfterStartAndRemove(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := NewOrchestrator(zap.NewNop(), nil)
	_, err := o.Start(ctx)
	require.NoError(t, err)

	w := newStubWorker("@every 1s", true)
	remove, err := o.Register(w)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	remove()
	// A tick may already be in progress when the entry is removed.
	time.Sleep(100 * time.Millisecond)
	after := w.runs.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, w.runs.Load())
}

func TestOrchestrator_InvalidSchedule(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(zap.NewNop(), nil)
	_, err := o.Register(newStubWorker("not a schedule", true))
	assert.Error(t, err)

	o = NewOrchestrator(zap.NewNop(), []Worker{newStubWorker("bogus", true)})
	_, err = o.Start(context.Background())
	assert.Error(t, err)
}
