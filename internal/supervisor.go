package internal

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a long running unit the supervisor restarts. *Pipeline implements it.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor runs one pipeline per account and restarts a pipeline that
// returned or panicked while the context is live. Restarts are per account,
// the other pipelines keep running.
type Supervisor struct {
	pipelines    []*Pipeline
	restartDelay time.Duration
	logger       *zap.Logger
}

func NewSupervisor(pipelines []*Pipeline, restartDelay time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{pipelines: pipelines, restartDelay: restartDelay, logger: logger}
}

// Statuses returns the status of every pipeline in configuration order.
func (s *Supervisor) Statuses() []Status {
	out := make([]Status, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Status())
	}
	return out
}

// Run blocks until ctx is cancelled and every pipeline has stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.pipelines {
		g.Go(func() error {
			supervise(ctx, p, s.restartDelay, s.logger, p.restarted)
			return nil
		})
		s.logger.Info("started", zap.String("account", p.Name()))
	}
	return g.Wait()
}

// supervise runs r until ctx is done, restarting it after delay whenever it
// returns or panics.
func supervise(ctx context.Context, r Runner, delay time.Duration, logger *zap.Logger, onRestart func()) {
	logger = logger.With(zap.String("account", r.Name()))

	for {
		err := runSafe(ctx, r)
		if ctx.Err() != nil {
			return
		}

		logger.Error(fmt.Sprintf("pipeline stopped, restart after %s", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if onRestart != nil {
			onRestart()
		}
		logger.Info("restarting pipeline")
	}
}

func runSafe(ctx context.Context, r Runner) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v\n%s", v, debug.Stack())
		}
	}()
	return r.Run(ctx)
}
