package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/database"
	"github.com/fluxbase-eu/pagepack/internal/middleware"
	"github.com/fluxbase-eu/pagepack/internal/observability"
	"github.com/fluxbase-eu/pagepack/internal/pubsub"
	"github.com/fluxbase-eu/pagepack/internal/ratelimit"
	"github.com/fluxbase-eu/pagepack/internal/scaling"
	"github.com/fluxbase-eu/pagepack/internal/scheduler"
	"github.com/fluxbase-eu/pagepack/internal/storage"
	"github.com/fluxbase-eu/pagepack/internal/usage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	app           *fiber.App
	config        *config.Config
	db            *database.Connection
	storage       *storage.Service
	tracer        *observability.Tracer
	metrics       *observability.Metrics
	limiterStore  ratelimit.Store
	usageHandler  *usage.Handler
	builder       *bundle.Builder
	pubsub        pubsub.PubSub
	sync          *BundleSync
	bundleHandler *BundleHandler
	scheduler     *scheduler.Scheduler
	elector       *scaling.LeaderElector
}

// NewServer wires every component. db may be nil when both the usage store
// and the rate limit backend live in memory.
func NewServer(cfg *config.Config, db *database.Connection) (*Server, error) {
	app := fiber.New(fiber.Config{
		ServerHeader:          "pagepack",
		AppName:               "pagepack",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          customErrorHandler,
	})

	s := &Server{app: app, config: cfg, db: db}

	tracer, err := observability.NewTracer(context.Background(), cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize OpenTelemetry tracer, tracing will be disabled")
	}
	s.tracer = tracer

	if cfg.Metrics.Enabled {
		s.metrics = observability.NewMetrics()
		if db != nil {
			db.SetMetrics(s.metrics)
		}
	}

	s.storage, err = storage.NewService(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var executor database.Executor
	if db != nil {
		executor = db
	}

	var store usage.Store
	switch cfg.Collector.Store {
	case "postgres":
		if executor == nil {
			return nil, errors.New("collector store 'postgres' requires a database connection")
		}
		store = usage.NewPostgresStore(executor)
	default:
		log.Warn().Msg("Using in-memory usage store, collected data is lost on restart")
		store = usage.NewMemoryStore()
	}

	s.limiterStore, err = ratelimit.NewStore(cfg.Scaling, executor)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limit store: %w", err)
	}

	normalizer := usage.NewNormalizer(cfg.Collector)

	collector := usage.NewCollector(store, normalizer)
	s.usageHandler = usage.NewHandler(collector, usage.ScriptOptions{
		CollectURL: cfg.Collector.Path,
		Delay:      cfg.Collector.SendDelay,
	})

	catalog := &bundle.Catalog{}
	if err := catalog.Refresh(context.Background(), s.storage.Provider, cfg.Bundle.BundlePath()); err != nil {
		log.Warn().Err(err).Msg("Failed to load previous bundle manifest")
	}
	s.builder, err = bundle.NewBuilder(cfg.Bundle, store, s.storage.Provider, normalizer, catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bundle builder: %w", err)
	}

	if s.metrics != nil {
		s.usageHandler.SetMetrics(s.metrics)
		s.builder.SetMetrics(s.metrics)
	}

	var pool *pgxpool.Pool
	if db != nil {
		pool = db.Pool()
	}
	s.pubsub, err = pubsub.NewPubSub(cfg.Scaling, pool, pubsub.BundlesChannel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pub/sub: %w", err)
	}
	s.sync = NewBundleSync(s.builder, s.pubsub, s.storage.Provider, cfg.Bundle.BundlePath())

	audit := middleware.NewAuditLogger(log.Logger)
	s.bundleHandler = NewBundleHandler(s.sync, cfg.Bundle, cfg.Server.StaticPrefix, audit)

	if cfg.Bundle.Schedule != "" {
		var leader scheduler.Leader
		if db != nil {
			s.elector = scaling.NewLeaderElector(db.Pool(), scaling.BundleBuildLockID, "bundle_build")
			leader = s.elector
		}
		s.scheduler, err = scheduler.New(cfg.Bundle.Schedule, s.sync, leader)
		if err != nil {
			return nil, err
		}
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())

	if s.tracer != nil && s.tracer.IsEnabled() {
		s.app.Use(middleware.TracingMiddleware(middleware.TracingConfig{
			Enabled:   true,
			SkipPaths: []string{"/health", s.config.Metrics.Path},
		}))
	}

	s.app.Use(middleware.StructuredLogger(middleware.StructuredLoggerConfig{
		SkipPaths:              []string{"/health", s.config.Metrics.Path},
		SkipSuccessfulRequests: !s.config.Debug,
		SlowRequestThreshold:   time.Second,
	}))

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}

	s.app.Use(middleware.SecurityHeaders())

	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	if s.metrics != nil {
		s.app.Get(s.config.Metrics.Path, s.metrics.Handler())
	}

	if s.config.Collector.Enabled {
		s.app.Get(s.config.Collector.ScriptPath, s.usageHandler.Script)
		s.app.Post(s.config.Collector.Path,
			middleware.SameOriginXHR(middleware.SameOriginConfig{
				TrustedOrigins: s.config.Server.TrustedOrigins,
				OnReject:       s.onCollectRejected,
			}),
			middleware.CollectorLimiter(s.limiterStore, s.config.Collector.RateLimit, s.config.Collector.RateWindow, s.onRateLimited),
			s.usageHandler.Collect,
		)
	}

	v1 := s.app.Group("/api/v1")
	v1.Get("/bundles", cors.New(cors.Config{
		AllowOrigins: s.config.Server.CORSOrigins,
		AllowMethods: "GET,HEAD,OPTIONS",
	}),
		middleware.ETag(),
		middleware.CacheControl(middleware.CacheControlConfig{MaxAge: 60, MustRevalidate: true}),
		s.bundleHandler.ListBundles,
	)

	admin := v1.Group("/admin", middleware.RequireInternal(), middleware.AdminLimiter(s.onRateLimitedAdmin))
	admin.Get("/bundles/manifest", s.bundleHandler.Manifest)
	admin.Get("/bundles/plan", s.bundleHandler.Plan)
	admin.Post("/bundles/build", s.bundleHandler.Build)
	admin.Delete("/bundles", s.bundleHandler.Clear)
	admin.Get("/usage", s.usageHandler.ListRecords)
	admin.Get("/usage/stats", s.usageHandler.Stats)
	admin.Delete("/usage", s.usageHandler.Reset)

	if s.storage.IsLocal() && s.config.Server.StaticPrefix != "" {
		s.app.Static(s.config.Server.StaticPrefix, s.storage.LocalPath(), fiber.Static{
			MaxAge: 3600,
		})
	}
}

func (s *Server) onCollectRejected(c *fiber.Ctx, reason string) {
	if s.metrics != nil {
		s.metrics.RecordCollectRequest("rejected")
	}
}

func (s *Server) onRateLimited(name string) {
	if s.metrics != nil {
		s.metrics.RecordRateLimitHit(name)
		s.metrics.RecordCollectRequest("rate_limited")
	}
}

func (s *Server) onRateLimitedAdmin(name string) {
	if s.metrics != nil {
		s.metrics.RecordRateLimitHit(name)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := fiber.Map{}
	healthy := true

	if s.db != nil {
		dbHealthy := s.db.Health(ctx) == nil
		if !dbHealthy {
			log.Error().Msg("Database health check failed")
		}
		services["database"] = dbHealthy
		healthy = healthy && dbHealthy
	}

	storageHealthy := true
	if err := s.storage.Provider.Health(ctx); err != nil {
		log.Error().Err(err).Msg("Storage health check failed")
		storageHealthy = false
	}
	services["storage"] = storageHealthy
	healthy = healthy && storageHealthy

	if manifest := s.builder.Catalog().Current(); manifest != nil {
		services["bundles"] = manifest.BuildID
	}

	status := "ok"
	httpStatus := fiber.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC(),
	})
}

// Start starts background work and then the HTTP listener
func (s *Server) Start() error {
	if err := s.sync.Start(); err != nil {
		return fmt.Errorf("failed to subscribe to bundle events: %w", err)
	}
	if s.elector != nil {
		s.elector.Start()
	}
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.elector != nil {
		s.elector.Stop()
	}

	log.Info().Msg("Shutting down HTTP server")
	err := s.app.ShutdownWithContext(ctx)

	s.sync.Stop()
	if cerr := s.pubsub.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to close pub/sub")
	}

	if s.limiterStore != nil {
		if cerr := s.limiterStore.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close rate limit store")
		}
	}
	if s.tracer != nil {
		if terr := s.tracer.Shutdown(ctx); terr != nil {
			log.Warn().Err(terr).Msg("Failed to shutdown OpenTelemetry tracer")
		}
	}

	return err
}

// App returns the underlying Fiber app instance for testing
func (s *Server) App() *fiber.App {
	return s.app
}

// Builder returns the bundle builder
func (s *Server) Builder() *bundle.Builder {
	return s.builder
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
