package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"github.com/md-rashed-zaman/vetclinic/libs/auth"
	"github.com/md-rashed-zaman/vetclinic/libs/db"
	"github.com/md-rashed-zaman/vetclinic/libs/grpcx"
	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/libs/kafkax"
	"github.com/md-rashed-zaman/vetclinic/libs/metrics"
	otelx "github.com/md-rashed-zaman/vetclinic/libs/otel"
	"github.com/md-rashed-zaman/vetclinic/libs/runtime"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/config"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/live"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/relay"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

// app holds every wired component of one process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store  storage.Store
	pool   *db.Pool
	rdb    *redis.Client
	writer *kafka.Writer

	engine    *booking.Engine
	hub       *live.Hub
	publisher *outbox.Publisher
	relay     *relay.Relay
	handler   http.Handler
	grpc      *grpc.Server
	health    *grpcserver.Health
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	switch cfg.Store {
	case config.StoreMemory:
		a.store = storage.NewMemory()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, AppName: cfg.ServiceName})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.pool = pool
		if cfg.AutoMigrate {
			applied, err := db.NewMigrator(pool, storage.Migrations()).Up(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", "count", len(applied))
		}
		a.store = storage.NewPostgres(pool)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.rdb = redis.NewClient(opts)
	}
	if cfg.KafkaBrokers != "" {
		a.writer = kafkax.NewWriter(cfg.KafkaBrokers)
	}

	aggOpts := []calendar.Option{}
	if a.rdb != nil {
		aggOpts = append(aggOpts, calendar.WithCache(calendar.NewRedisCache(a.rdb, "calendar"), cfg.CalendarCacheTTL))
	}
	agg := calendar.NewAggregator(a.store, logger, aggOpts...)
	a.hub = live.NewHub(logger, cfg.CORSOrigins)
	// Slot creation emits no event, so the hub hears it in-process either way.
	apiNotifier := booking.Notifiers{agg, a.hub}
	notifiers := apiNotifier
	if cfg.LiveRelay {
		notifiers = booking.Notifiers{agg}
		a.relay = relay.New(relay.NewReader(relay.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: relayGroup(cfg.ServiceName),
		}), a.hub, logger)
	}

	slotStore := slots.NewStore(a.store, a.store)
	selector := waitlist.NewSelector(a.store, a.store)
	a.engine = booking.NewEngine(a.store, slotStore, selector, logger, booking.WithNotifier(notifiers))

	var writer outbox.Writer
	if a.writer != nil {
		writer = a.writer
	}
	a.publisher = outbox.NewPublisher(a.store, writer, logger, outbox.PublisherConfig{
		PollEvery: cfg.OutboxPollInterval,
		BatchSize: cfg.OutboxBatchSize,
	})

	checks := a.readyChecks()
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", metrics.Handler())
	handlers.New(handlers.Deps{
		Engine:   a.engine,
		Slots:    slotStore,
		Waitlist: selector,
		Calendar: agg,
		Live:     a.hub,
		Notifier: apiNotifier,
		Logger:   logger,
	}).Register(mux)
	a.handler = a.wrap(metrics.Instrument(mux))

	a.grpc = grpcx.NewServer(logger)
	a.health = grpcserver.Register(a.grpc, logger, checks...)

	ok = true
	return a, nil
}

// relayGroup is unique per process so every replica reads the whole stream.
func relayGroup(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()
	}
	return service + "-live-" + host
}

func (a *app) readyChecks() []runtime.ReadyCheck {
	var checks []runtime.ReadyCheck
	if a.pool != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(a.pool)})
	}
	if a.rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}})
	}
	if a.cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(a.cfg.KafkaBrokers)})
	}
	return checks
}

// wrap applies the middleware stack, outermost first.
func (a *app) wrap(h http.Handler) http.Handler {
	var limit httpx.Middleware
	if a.rdb != nil {
		limit = httpx.NewRedisRateLimiter(a.rdb, a.cfg.RateLimitPerMin, time.Minute, "rl").
			WithKey(callerKey).
			Middleware(a.logger, true)
	} else {
		limit = httpx.NewRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst).WithKey(callerKey).Middleware()
	}
	rejectToken := func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
	}

	h = httpx.Chain(h,
		httpx.WithRequestID,
		httpx.WithAccessLog(a.logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: a.cfg.CORSOrigins, MaxAge: 10 * time.Minute}),
		auth.Middleware(a.cfg.JWTSecret, rejectToken),
		limit,
		httpx.WithBodyLimit(a.cfg.MaxBodyBytes),
		httpx.WithTimeout(a.cfg.RequestTimeout, handlers.LivePath),
	)
	return otelhttp.NewHandler(h, a.cfg.ServiceName)
}

// callerKey buckets signed-in users by subject and everyone else by address.
func callerKey(r *http.Request) string {
	if c := auth.ClaimsFromContext(r.Context()); c != nil && c.Subject != "" {
		return "user:" + c.Subject
	}
	return "ip:" + httpx.ClientKey(r)
}

func (a *app) close() {
	if a.writer != nil {
		_ = a.writer.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.publisher.Run(ctx)
	if a.relay != nil {
		go a.relay.Run(ctx)
	}
	go a.health.Watch(ctx, cfg.HealthInterval)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := a.grpc.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	defer a.grpc.GracefulStop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)
}
