package internal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sigrelay/config"
	"github.com/vadiminshakov/sigrelay/internal/domain"
	"github.com/vadiminshakov/sigrelay/internal/events"
	"github.com/vadiminshakov/sigrelay/internal/services/executor"
	"github.com/vadiminshakov/sigrelay/internal/services/feed"
	"github.com/vadiminshakov/sigrelay/pkg/retrier"
)

// Monitor receives connection level metrics. *metrics.Metrics implements it.
type Monitor interface {
	SetConnectionState(account string, s domain.ConnectionState)
	IncReconnect(account string)
	IncRestart(account string)
}

type nopMonitor struct{}

func (nopMonitor) SetConnectionState(string, domain.ConnectionState) {}
func (nopMonitor) IncReconnect(string)                               {}
func (nopMonitor) IncRestart(string)                                 {}

// Status is a point-in-time view of one pipeline.
type Status struct {
	Account     string                  `json:"account"`
	Exchange    string                  `json:"exchange"`
	Endpoint    string                  `json:"endpoint"`
	DryRun      bool                    `json:"dry_run"`
	State       string                  `json:"state"`
	Processed   uint64                  `json:"processed"`
	Failed      uint64                  `json:"failed"`
	Restarts    uint64                  `json:"restarts"`
	LastEventAt time.Time               `json:"last_event_at,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
	LastBalance *domain.BalanceSnapshot `json:"last_balance,omitempty"`
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

func WithSink(s events.Sink) PipelineOption {
	return func(p *Pipeline) { p.sink = s }
}

func WithMonitor(m Monitor) PipelineOption {
	return func(p *Pipeline) { p.monitor = m }
}

// WithExchangeFactory replaces NewExchange, tests use it to inject fakes.
func WithExchangeFactory(f ExchangeFactory) PipelineOption {
	return func(p *Pipeline) { p.newExchange = f }
}

// WithFeedOptions appends options passed to every feed dial.
func WithFeedOptions(opts ...feed.Option) PipelineOption {
	return func(p *Pipeline) { p.feedOpts = append(p.feedOpts, opts...) }
}

// Pipeline relays one account: it keeps a feed subscription alive and
// executes every received signal on the account's exchange, in arrival
// order. It never stops on its own, only ctx cancellation ends Run.
type Pipeline struct {
	account     config.Account
	logger      *zap.Logger
	sink        events.Sink
	monitor     Monitor
	newExchange ExchangeFactory
	feedOpts    []feed.Option

	mu     sync.RWMutex
	status Status
}

func NewPipeline(acc config.Account, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		account:     acc,
		logger:      zap.NewNop(),
		sink:        events.Discard,
		monitor:     nopMonitor{},
		newExchange: NewExchange,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(
		zap.String("account", acc.Name),
		zap.String("exchange", acc.Exchange.Name),
		zap.String("endpoint", acc.EndpointHost()),
	)
	p.status = Status{
		Account:  acc.Name,
		Exchange: acc.Exchange.Name,
		Endpoint: acc.EndpointHost(),
		DryRun:   acc.DryRun,
		State:    domain.StateDisconnected.String(),
	}

	return p
}

// Name returns the account name.
func (p *Pipeline) Name() string {
	return p.account.Name
}

// Status returns a copy of the current status.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Run relays signals until ctx is cancelled. Exchange setup failures and
// unexpected stream errors restart the whole pipeline after a backoff;
// stream errors only redial.
func (p *Pipeline) Run(ctx context.Context) error {
	backoff := retrier.NewBackoff(
		retrier.WithInitialInterval(p.account.Reconnect.Initial),
		retrier.WithMaxInterval(p.account.Reconnect.Max),
		retrier.WithMultiplier(p.account.Reconnect.Multiplier),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		exchange, err := p.newExchange(ctx, p.account, p.logger)
		if err != nil {
			p.logger.Error("failed to create exchange, restarting pipeline", zap.Error(err))
			p.setError(err)
			if backoff.Wait(ctx) != nil {
				return nil
			}
			continue
		}

		exec := executor.New(p.account, exchange, p.sink, p.logger)
		err = p.stream(ctx, exec, backoff)
		if ctx.Err() != nil {
			return nil
		}

		p.logger.Error("pipeline failed, restarting", zap.Error(err))
		p.setError(err)
		if backoff.Wait(ctx) != nil {
			return nil
		}
	}
}

// stream keeps the feed connected. It returns only on cancellation or on an
// error that is not a *domain.StreamError or *domain.ConnectError.
func (p *Pipeline) stream(ctx context.Context, exec *executor.Executor, backoff *retrier.Backoff) error {
	opts := append([]feed.Option{
		feed.WithKeepAlive(p.account.KeepAlive),
		feed.WithLogger(p.logger),
		feed.WithStateObserver(p.observe),
	}, p.feedOpts...)

	for {
		conn, err := feed.Dial(ctx, p.account.Endpoint, p.account.Token, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("feed connect failed, retrying", zap.Error(err))
			p.setError(err)
			p.monitor.IncReconnect(p.account.Name)
			if err := backoff.Wait(ctx); err != nil {
				return err
			}
			continue
		}

		p.logger.Info("subscribed to signal feed")
		backoff.Reset()

		err = p.session(ctx, conn, exec)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var streamErr *domain.StreamError
		if !errors.As(err, &streamErr) {
			return errors.Wrap(err, "consume signals")
		}

		p.logger.Warn("feed stream broken, reconnecting", zap.Error(err))
		p.setError(err)
		p.monitor.IncReconnect(p.account.Name)
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

// session consumes conn until it fails. The connection is closed on every
// way out, including a panic raised by an exchange handle.
func (p *Pipeline) session(ctx context.Context, conn *feed.Conn, exec *executor.Executor) error {
	defer func() { _ = conn.Close() }()
	return p.consume(ctx, conn, exec)
}

func (p *Pipeline) consume(ctx context.Context, conn *feed.Conn, exec *executor.Executor) error {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		out, err := exec.Execute(ctx, ev)
		p.processed(out, err)
		if err != nil {
			var terminal *domain.TerminalOrderError
			if errors.As(err, &terminal) {
				// already logged and reported, the next signal is independent
				continue
			}
			return err
		}
	}
}

func (p *Pipeline) processed(out executor.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.Processed++
	p.status.LastEventAt = time.Now().UTC()
	if out.Balance != nil {
		p.status.LastBalance = out.Balance
	}
	if err != nil {
		p.status.Failed++
		p.status.LastError = err.Error()
	}
}

func (p *Pipeline) observe(s domain.ConnectionState) {
	p.mu.Lock()
	p.status.State = s.String()
	p.mu.Unlock()

	p.monitor.SetConnectionState(p.account.Name, s)
	p.logger.Debug("feed state changed", zap.Stringer("state", s))
}

func (p *Pipeline) setError(err error) {
	p.mu.Lock()
	p.status.LastError = err.Error()
	p.mu.Unlock()
}

func (p *Pipeline) restarted() {
	p.mu.Lock()
	p.status.Restarts++
	p.mu.Unlock()

	p.monitor.IncRestart(p.account.Name)
}
