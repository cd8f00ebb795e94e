package internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/internal/services/feed/feedtest"
)

// scriptedRunner fails the first `failures` runs (panicking when panics is
// set), then blocks until cancelled.
type scriptedRunner struct {
	name     string
	failures int32
	panics   bool
	runs     atomic.Int32
}

func (r *scriptedRunner) Name() string { return r.name }

func (r *scriptedRunner) Run(ctx context.Context) error {
	if r.runs.Add(1) <= r.failures {
		if r.panics {
			panic("boom")
		}
		return errors.New("broken")
	}
	<-ctx.Done()
	return nil
}

func TestSupervise_RestartsOnlyFailedRunner(t *testing.T) {
	tests := []struct {
		name   string
		panics bool
	}{
		{name: "error", panics: false},
		{name: "panic", panics: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			failing := &scriptedRunner{name: "failing", failures: 2, panics: tt.panics}
			healthy := &scriptedRunner{name: "healthy"}
			var restarts atomic.Int32

			var wg sync.WaitGroup
			for _, r := range []*scriptedRunner{failing, healthy} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					supervise(ctx, r, time.Millisecond, zap.NewNop(), func() {
						if r == failing {
							restarts.Add(1)
						}
					})
				}()
			}

			require.Eventually(t, func() bool { return failing.runs.Load() == 3 }, waitTimeout, time.Millisecond)
			assert.Equal(t, int32(1), healthy.runs.Load())
			assert.Equal(t, int32(2), restarts.Load())

			cancel()
			wg.Wait()
		})
	}
}

func TestSupervise_StopsOnCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedRunner{name: "failing", failures: 100}

	done := make(chan struct{})
	go func() {
		supervise(ctx, r, time.Hour, zap.NewNop(), nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, waitTimeout, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("supervise did not stop")
	}
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestSupervisor_RunAndStatuses(t *testing.T) {
	first := feedtest.NewServer()
	defer first.Close()
	second := feedtest.NewServer()
	defer second.Close()

	accA := testAccount(first.Endpoint())
	accA.Name = "a"
	accB := testAccount(second.Endpoint())
	accB.Name = "b"

	pipelines := []*Pipeline{
		NewPipeline(accA, WithExchangeFactory(fixedExchange(&fakeExchange{}))),
		NewPipeline(accB, WithExchangeFactory(fixedExchange(&fakeExchange{}))),
	}
	sup := NewSupervisor(pipelines, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	_, err := first.WaitSubscribed(waitTimeout)
	require.NoError(t, err)
	_, err = second.WaitSubscribed(waitTimeout)
	require.NoError(t, err)

	statuses := sup.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "a", statuses[0].Account)
	assert.Equal(t, "b", statuses[1].Account)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("supervisor did not stop")
	}
}
