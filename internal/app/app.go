package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/idempotency"
	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/internal/repository/memory"
	"github.com/xenking/kart-checkout/internal/seed"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// stockStore is the catalog and stock side of a storage backend.
type stockStore interface {
	product.Repository
	inventory.Store
}

// stores is the set of repositories the services run on.
type stores struct {
	products stockStore
	carts    cart.Repository
	orders   order.Repository
	payments payment.Repository
	users    auth.Directory
}

// Server is the assembled HTTP application.
type Server struct {
	Handler http.Handler
	Health  *health.Health

	closers []func()
}

// Close releases the connections opened by Build in reverse order.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Start begins background health checks and opens the readiness gate.
func (s *Server) Start(ctx context.Context) {
	s.Health.Start(ctx, 10*time.Second)
	s.Health.SetReady(true)
}

// Build creates storage, domain services and the HTTP handler for cfg.
// Callers must Close the returned Server.
func Build(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider) (_ *Server, rerr error) {
	srv := &Server{Health: health.New()}
	defer func() {
		if rerr != nil {
			srv.Close()
		}
	}()
	srv.Health.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))

	// Storage.
	var st stores
	switch cfg.Storage {
	case StorageMemory:
		db := memory.NewDB()
		data, err := loadSeed(cfg.SeedFile)
		if err != nil {
			return nil, errors.Wrap(err, "load seed")
		}
		if err := data.Apply(ctx, seed.Memory(db)); err != nil {
			return nil, errors.Wrap(err, "apply seed")
		}
		lg.Info("Seeded memory store", zap.Int("products", len(data.Products)), zap.Int("users", len(data.Users)))
		st = stores{db.Products(), db.Carts(), db.Orders(), db.Payments(), db.Users()}
	default:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		srv.closers = append(srv.closers, pool.Close)

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		srv.Health.AddReadinessCheck("postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))

		s := repository.NewStore(pool)
		st = stores{s.Products, s.Carts, s.Orders, s.Payments, s.Users}
	}

	// Idempotency keys.
	var idem idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		srv.closers = append(srv.closers, func() { _ = rdb.Close() })
		rs := idempotency.NewRedisStore(rdb, cfg.Redis.Prefix)
		srv.Health.AddReadinessCheck("redis", health.PingCheck(rs), health.WithTimeout(2*time.Second))
		idem = rs
	}

	// Domain events.
	var pub events.Publisher = events.LogPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka)
		srv.closers = append(srv.closers, func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		pub = kp
		lg.Info("Publishing events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Domain services.
	var dir auth.Directory
	if cfg.Auth.RevalidateRole {
		dir = st.users
	}
	guard := auth.NewGuard(dir)
	meter := mp.Meter("kart")

	ledger := inventory.NewLedger(st.products, cfg.Inventory, inventory.WithMeter(meter))
	cartService := cart.NewService(st.carts, st.products)
	orderService := order.NewService(st.orders, ledger, guard, pub)
	checkoutService := checkout.NewService(st.carts, st.products, ledger, st.orders, pub,
		checkout.WithTelemetry(tp, mp),
	)
	processor := payment.NewProcessor(st.payments, orderService, payment.NewSimulator(cfg.Payment), guard, pub,
		payment.WithMeter(meter),
	)

	// HTTP.
	h := handler.NewHandler(
		handler.Config{StoreName: cfg.StoreName},
		cartService,
		checkoutService,
		orderService,
		processor,
	)

	engine := gin.New()
	engine.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", idempotency.Header, httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Idempotent-Replayed", "Content-Disposition"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	)
	engine.GET("/livez", srv.Health.Live)
	engine.GET("/readyz", srv.Health.Ready)

	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience)
	h.Register(engine,
		handler.Authenticate(tokens),
		idempotency.Middleware(idem, cfg.IdempotencyTTL),
	)

	srv.Handler = otelhttp.NewHandler(engine, "kart-api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)
	return srv, nil
}

func loadSeed(path string) (*seed.Data, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.Load(path)
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	gin.SetMode(gin.ReleaseMode)
	srv, err := Build(ctx, lg, cfg, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.Close()
	srv.Start(ctx)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
