// Command feed-service is the composition root: it loads configuration,
// wires the validators, sequence generator, stream bus, repositories, and
// coordinator together behind the HTTP surface of internal/httpapi, and
// serves until an interrupt triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/auth"
	"github.com/orderingest/core/internal/config"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/feed"
	"github.com/orderingest/core/internal/httpapi"
	"github.com/orderingest/core/internal/observability"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
	"github.com/orderingest/core/internal/persist"
	"github.com/orderingest/core/internal/ratelimit"
	"github.com/orderingest/core/internal/sequence"
	"github.com/orderingest/core/internal/streambus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("feed-service: load config: %v", err)
	}

	obs, err := observability.New(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		LogLevel:       observability.LogLevel(cfg.Observability.LogLevel),
		LogFormat:      cfg.Observability.LogFormat,
		LogSink:        cfg.Observability.LogSink,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	})
	if err != nil {
		log.Fatalf("feed-service: init observability: %v", err)
	}
	logger := obs.Logger
	ctx := context.Background()

	logErr := func(code string, err error) {
		logger.Error(ctx, "feed-service: "+code, err)
	}

	sequences, err := sequence.New(cfg.Sequence.SnapshotPath,
		sequence.WithDebounce(cfg.Sequence.Debounce),
		sequence.WithErrorSink(func(_ apperr.Code, err error) { logErr("sequence persist failed", err) }),
	)
	if err != nil {
		log.Fatalf("feed-service: init sequence generator: %v", err)
	}

	orders, errs, closeRepos := buildRepositories(ctx, cfg, logErr)
	defer closeRepos()

	bus := buildBus(cfg, logErr)

	meter := obs.Metrics.Meter()
	var feedOpts []feed.Option
	if cfg.Repository.RejectDuplicateExternalID {
		feedOpts = append(feedOpts, feed.WithDuplicateRejection(orders))
	}
	coordinator := feed.New(sequences, bus, meter, feedOpts...)

	unsubOrders := bus.Subscribe(streambus.KindValidOrder, persist.OrderSink(orders))
	unsubErrors := bus.Subscribe(streambus.KindErrorOrder, persist.ErrorSink(errs))
	defer unsubOrders()
	defer unsubErrors()

	authGate := auth.NewGate(cfg.Auth.Enabled, cfg.Auth.MasterAPIKeyHash, partnerHashes(cfg.Auth.APIKeyHashes))
	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	server := httpapi.New(httpapi.Config{
		Addr:               cfg.Server.Host + ":" + cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		CORSAllowedOrigins: cfg.Security.CORSAllowedOrigins,
		Observability:      obs,
		Feed:               coordinator,
		Orders:             orders,
		Errors:             errs,
		Bus:                bus,
		AuthGate:           authGate,
		Limiter:            limiter,
	})
	server.Start()
	logger.Info(ctx, "feed-service listening", map[string]interface{}{"addr": cfg.Server.Host + ":" + cfg.Server.Port})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "feed-service shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logErr("http shutdown", err)
	}
	sequences.Flush()
	flushIfEmbedded(orders, errs)
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logErr("observability shutdown", err)
	}
	logger.Info(ctx, "feed-service stopped", nil)
}

// buildRepositories selects the embedded or Postgres backend per
// cfg.Repository.Backend and returns a closer that releases any held
// resources (a no-op for the embedded backend).
func buildRepositories(ctx context.Context, cfg *config.Config, logErr func(string, error)) (orderrepo.Repository, errorrepo.Repository, func()) {
	if cfg.Repository.Backend == "postgres" {
		pool := orderrepo.PoolConfig{
			MaxOpenConns:    cfg.Repository.MaxOpenConns,
			MaxIdleConns:    cfg.Repository.MaxIdleConns,
			ConnMaxLifetime: cfg.Repository.ConnMaxLifetime,
		}
		orders, err := orderrepo.NewPostgres(ctx, cfg.Repository.DatabaseURL, pool)
		if err != nil {
			log.Fatalf("feed-service: connect order postgres: %v", err)
		}
		errs, err := errorrepo.NewPostgres(ctx, cfg.Repository.DatabaseURL, errorrepo.PoolConfig{
			MaxOpenConns:    cfg.Repository.MaxOpenConns,
			MaxIdleConns:    cfg.Repository.MaxIdleConns,
			ConnMaxLifetime: cfg.Repository.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatalf("feed-service: connect error postgres: %v", err)
		}
		return orders, errs, func() {
			orders.Close()
			errs.Close()
		}
	}

	orders, err := orderrepo.NewEmbedded(
		orderrepo.WithSnapshotPath(cfg.Repository.OrdersSnapshotPath),
		orderrepo.WithSnapshotDebounce(cfg.Repository.SnapshotDebounce),
		orderrepo.WithErrorSink(func(_ apperr.Code, err error) { logErr("orders snapshot persist failed", err) }),
	)
	if err != nil {
		log.Fatalf("feed-service: init embedded order repository: %v", err)
	}
	errs, err := errorrepo.NewEmbedded(
		errorrepo.WithSnapshotPath(cfg.Repository.ErrorsSnapshotPath),
		errorrepo.WithSnapshotDebounce(cfg.Repository.SnapshotDebounce),
		errorrepo.WithTTL(cfg.Repository.ErrorRetentionTTL),
		errorrepo.WithErrorSink(func(_ apperr.Code, err error) { logErr("errors snapshot persist failed", err) }),
	)
	if err != nil {
		log.Fatalf("feed-service: init embedded error repository: %v", err)
	}
	return orders, errs, func() {}
}

// flushIfEmbedded forces a final synchronous snapshot write on shutdown;
// the Postgres backend has nothing to flush since every write is already
// durable.
func flushIfEmbedded(orders orderrepo.Repository, errs errorrepo.Repository) {
	if o, ok := orders.(*orderrepo.Embedded); ok {
		o.Flush()
	}
	if e, ok := errs.(*errorrepo.Embedded); ok {
		e.Flush()
	}
}

// buildBus always constructs the Local bus the persistence writers
// subscribe to; on the redis backend it additionally layers a Redis
// mirror on top via streambus.Composite, so ingestion keeps the
// synchronous in-process delivery contract while also publishing every
// event for external consumers.
func buildBus(cfg *config.Config, logErr func(string, error)) streambus.Bus {
	busLogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	local := streambus.NewLocal(
		streambus.WithLogger(busLogger),
		streambus.WithOnError(func(kind streambus.Kind, err any) {
			logErr(fmt.Sprintf("streambus subscriber error (%s)", kind), asError(err))
		}),
	)
	if cfg.StreamBus.Backend != "redis" {
		return local
	}

	opt, err := redis.ParseURL(cfg.StreamBus.RedisURL)
	if err != nil {
		log.Fatalf("feed-service: parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("feed-service: connect redis: %v", err)
	}
	mirror := streambus.NewRedis(client, busLogger)
	return streambus.NewComposite(local, mirror)
}

func asError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

// partnerHashes converts a partner-id-string-keyed map (as loaded from the
// PARTNER_API_KEY_HASHES environment variable) into one keyed by partner.ID,
// silently dropping entries for unknown partner ids.
func partnerHashes(raw map[string]string) map[partner.ID]string {
	out := make(map[partner.ID]string, len(raw))
	for k, v := range raw {
		if id, ok := partner.ParseID(k); ok {
			out[id] = v
		}
	}
	return out
}
