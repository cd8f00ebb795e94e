// Command sigrelay relays trading signals from bot websocket feeds to
// exchange accounts.
//
// Usage:
//
//	sigrelay --config config.yaml
//	sigrelay --setup (interactive wizard, writes the --config file)
//
// Exchange credentials left empty in the config are read from
// <EXCHANGE>_API_KEY and <EXCHANGE>_API_SECRET.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/sigrelay/config"
	"github.com/vadiminshakov/sigrelay/internal"
	"github.com/vadiminshakov/sigrelay/internal/events"
	"github.com/vadiminshakov/sigrelay/internal/metrics"
	"github.com/vadiminshakov/sigrelay/internal/services/report"
	"github.com/vadiminshakov/sigrelay/internal/setup"
	"github.com/vadiminshakov/sigrelay/internal/storage/journal"
	"github.com/vadiminshakov/sigrelay/internal/web"
)

const broadcastBuffer = 64

func main() {
	opts := config.ParseFlags()

	if opts.Setup {
		if err := setup.RunTUI(opts.ConfigPath); err != nil {
			log.Fatal(err)
		}
	}

	conf, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	accounts, errs := conf.Validate()
	for _, err := range errs {
		logger.Error("account skipped", zap.Error(err))
	}
	if len(accounts) == 0 {
		logger.Fatal("no valid accounts configured", zap.String("config", opts.ConfigPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	broadcaster := events.NewBroadcaster(broadcastBuffer)
	sinks := events.Fanout{report.NewLog(logger), m, broadcaster}

	if conf.Report.Console {
		sinks = append(sinks, report.NewConsole(os.Stdout))
	}

	var store *journal.WALStore
	if conf.Report.JournalDir != "" {
		store, err = journal.NewWALStore(conf.Report.JournalDir)
		if err != nil {
			logger.Fatal("failed to open journal", zap.Error(err))
		}
		defer store.Close()
		sinks = append(sinks, report.NewJournal(store, logger))
	}

	if conf.Report.RedisAddr != "" {
		client, err := report.DialRedis(ctx, conf.Report.RedisAddr)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		sinks = append(sinks, report.NewRedis(client, conf.Report.RedisChannel, logger))
	}

	pipelines := make([]*internal.Pipeline, 0, len(accounts))
	for _, acc := range accounts {
		pipelines = append(pipelines, internal.NewPipeline(acc,
			internal.WithLogger(logger),
			internal.WithSink(sinks),
			internal.WithMonitor(m),
		))
		logger.Info("account configured",
			zap.String("account", acc.Name),
			zap.String("exchange", acc.Exchange.Name),
			zap.String("endpoint", acc.EndpointHost()),
			zap.Bool("dry_run", acc.DryRun))
	}
	supervisor := internal.NewSupervisor(pipelines, conf.RestartDelay, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Run(ctx)
	})

	if conf.Web.Addr != "" {
		webOpts := []web.Option{
			web.WithLogger(logger),
			web.WithMetrics(m.Handler()),
			web.WithTLS(conf.Web.TLSDomains, conf.Web.CertCache),
		}
		if store != nil {
			webOpts = append(webOpts, web.WithSnapshots(store))
		}
		server := web.NewServer(conf.Web.Addr, supervisor, broadcaster, webOpts...)
		g.Go(func() error {
			// relaying goes on without the status server
			if err := server.Start(ctx); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", zap.Error(err))
		return
	}
	logger.Info("relay stopped")
}

// newLogger builds a production JSON logger with UTC ISO8601 timestamps.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		zapcore.ISO8601TimeEncoder(t.UTC(), enc)
	}
	return cfg.Build()
}
