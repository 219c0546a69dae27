package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/leshachaplin/eventgate/app/waiter"
	"github.com/leshachaplin/eventgate/internal/buffer"
	"github.com/leshachaplin/eventgate/internal/config"
	"github.com/leshachaplin/eventgate/internal/flush"
	"github.com/leshachaplin/eventgate/internal/metrics"
	"github.com/leshachaplin/eventgate/internal/relay"
	appServer "github.com/leshachaplin/eventgate/internal/server/http"
	"github.com/leshachaplin/eventgate/internal/service"
	"github.com/leshachaplin/eventgate/internal/storage/event/clickhouse"
	"github.com/leshachaplin/eventgate/internal/storage/event/kafka"
	"github.com/leshachaplin/eventgate/internal/storage/event/postgres"
)

type LoadConfigFn func() (config.Config, error)

type App struct {
	cfg      config.Config
	logger   zerolog.Logger
	server   *appServer.Server
	waiter   waiter.Waiter
	ctx      context.Context
	cancelFn context.CancelFunc
}

func New(loadConfigFn LoadConfigFn) *App {
	ctx, cancelFn := context.WithCancel(context.Background())
	cfg, err := loadConfigFn()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := NewZeroLogger(Level(cfg.LogLevel))

	w := waiter.NewWaiter(ctx, cancelFn)

	return &App{
		cfg:      cfg,
		logger:   logger,
		waiter:   w,
		ctx:      ctx,
		cancelFn: cancelFn,
	}
}

func (a *App) Start() {
	defer a.cancelFn()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	var (
		sink   flush.Sink
		reads  service.Storage
		pinger appServer.Pinger
	)

	switch a.cfg.Storage.Backend {
	case config.BackendClickhouse:
		store, err := clickhouse.New(a.ctx, a.cfg.Storage.Clickhouse)
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup event storage.")
		}
		defer store.Close()
		if err = store.Migrate(a.ctx); err != nil {
			a.logger.Fatal().Err(err).Msg("Could not migrate event storage.")
		}
		sink, reads, pinger = store, store, store

	case config.BackendPostgres:
		store, err := postgres.New(a.ctx, a.cfg.Storage.Postgres)
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup event storage.")
		}
		defer store.Close()
		if err = store.Migrate(a.ctx); err != nil {
			a.logger.Fatal().Err(err).Msg("Could not migrate event storage.")
		}
		sink, reads, pinger = store, store, store

	case config.BackendKafka:
		producer, err := kafka.New(a.ctx, a.cfg.Storage.Kafka, a.logger.With().Str("component", "kafka sink").Logger())
		if err != nil {
			a.logger.Fatal().Err(err).Msg("Could not setup event sink.")
		}
		defer producer.Close()
		sink, pinger = producer, producer

		if a.cfg.Relay.Enabled {
			store, err := clickhouse.New(a.ctx, a.cfg.Storage.Clickhouse)
			if err != nil {
				a.logger.Fatal().Err(err).Msg("Could not setup relay storage.")
			}
			defer store.Close()
			if err = store.Migrate(a.ctx); err != nil {
				a.logger.Fatal().Err(err).Msg("Could not migrate relay storage.")
			}
			reads = store

			consumerErrorChan := make(chan error, 1)
			relayConsumer, err := relay.NewConsumer(a.cfg.Relay, consumerErrorChan)
			if err != nil {
				a.logger.Fatal().Err(err).Msg("Could not setup relay consumer.")
			}
			defer relayConsumer.Close()

			l := a.logger.With().Str("component", "relay").Logger()
			eventRelay := relay.New(a.ctx, a.cfg.Relay, relayConsumer, store, l)
			eventRelay.Start()
			a.waitForRelay(eventRelay, consumerErrorChan)
		}

	default:
		a.logger.Fatal().Str("backend", a.cfg.Storage.Backend).Msg("Unknown storage backend.")
	}

	executor := flush.NewExecutor(sink, m, a.logger)
	buf, err := buffer.New(a.cfg.Buffer, executor, a.logger.With().Str("component", "buffer").Logger())
	if err != nil {
		a.logger.Fatal().Err(err).Msg("Could not setup event buffer.")
	}
	metrics.RegisterBufferStats(reg, buf.Stats)

	ingestor := service.NewIngestor(buf, m, a.logger)
	handler := appServer.NewHandler(ingestor, reads, buf.Stats, pinger, a.cfg.Buffer.FlushInterval, a.logger)

	a.server = appServer.New(handler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	a.waitForServer(buf)

	if err = a.waiter.Wait(); err != nil {
		a.logger.Fatal().Err(err).Msg("App crash.")
	}
}

func (a *App) Stop() {
	a.cancelFn()
}

func (a *App) waitForServer(buf *buffer.Manager) {
	a.waiter.Add(func(ctx context.Context) error {
		defer a.logger.Debug().Msg("server has been shutdown")

		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			defer a.logger.Debug().Msg("public server exited")
			a.logger.Info().Str("addr", a.cfg.Addr).Msg("starting public server")
			err := a.server.ServePublic(a.cfg.Addr)
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		group.Go(func() error {
			<-gCtx.Done()
			a.logger.Debug().Msg("shutting down the server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			if err := a.server.ShutdownPublic(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("error while shutting down the server")
			}

			// The listener is down, nothing new can arrive; push what is
			// left to the store before the deferred closes run.
			drainCtx, drainCancel := context.WithTimeout(context.Background(), a.cfg.DrainTimeout)
			defer drainCancel()
			a.logger.Info().Int("queued", buf.Stats().QueueLength).Msg("draining event buffer")
			if err := buf.Drain(drainCtx); err != nil {
				a.logger.Error().Err(err).Msg("buffer drain incomplete, events lost")
				return nil
			}
			a.logger.Info().Msg("event buffer drained")
			return nil
		})

		return group.Wait()
	})
}

func (a *App) waitForRelay(eventRelay *relay.Relay, errChan <-chan error) {
	a.waiter.Add(func(ctx context.Context) error {
		group, gCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case err, ok := <-errChan:
					if !ok {
						return nil
					}
					a.logger.Error().Err(err).Msg("relay consumer error")
				}
			}
		})
		group.Go(func() error {
			<-gCtx.Done()
			eventRelay.GracefulStop()
			return nil
		})
		return group.Wait()
	})
}
