package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"tracelink-lab/internal/api"
	"tracelink-lab/internal/api/handlers"
	apimiddleware "tracelink-lab/internal/api/middleware"
	"tracelink-lab/internal/config"
	"tracelink-lab/internal/domain/services"
	"tracelink-lab/internal/grpc/health"
	"tracelink-lab/internal/infrastructure/cache"
	"tracelink-lab/internal/infrastructure/database"
	"tracelink-lab/internal/infrastructure/database/repository"
	"tracelink-lab/internal/infrastructure/graph"
	"tracelink-lab/internal/metrics"
	"tracelink-lab/internal/sources/searchapi"
	"tracelink-lab/internal/streaming"
	"tracelink-lab/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACELINK_CONFIG"), "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting TraceLink Lab")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.DefaultRegistry()

	// External search index, behind a circuit breaker when enabled
	var searcher services.RecordSearcher = searchapi.NewClient(cfg.SearchAPI, log)
	if cfg.SearchAPI.BreakerEnabled {
		searcher = searchapi.NewBreakerClient(searcher, cfg.SearchAPI, log)
	}
	searchService := services.NewSearchService(cfg, searcher, m, log)

	deps := handlers.Dependencies{
		Search:  searchService,
		Stats:   map[string]handlers.StatsSource{},
		Version: cfg.App.Version,
		Logger:  log,
	}
	checks := map[string]handlers.Check{}
	probes := map[string]health.Probe{}

	// Redis response cache and rate limiting
	var redisCache *cache.RedisCache
	var limiter apimiddleware.RateLimitStore
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		} else {
			defer redisCache.Close()
			searchService.SetCache(redisCache)
			limiter = redisCache
			deps.Cache = redisCache
			deps.Stats["redis"] = redisCache.Stats
			checks["redis"] = redisCache.Ping
			probes["redis"] = redisCache.Ping
		}
	}

	// PostgreSQL session audit
	if cfg.Database.Enabled {
		db, err := database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to PostgreSQL, continuing without session audit")
		} else {
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate database")
			}
			sessions := repository.NewSessionRepository(db.Pool())
			searchService.SetRecorder(sessions)
			deps.Sessions = sessions
			deps.Stats["postgres"] = db.Stats
			checks["postgres"] = db.Ping
			probes["postgres"] = db.Ping
		}
	}

	// Neo4j graph export
	if cfg.Neo4j.Enabled {
		neo4jClient, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Neo4j, graph export disabled")
		} else {
			defer neo4jClient.Close(context.Background())
			graphRepo := graph.NewGraphRepository(neo4jClient, log)
			searchService.SetExporter(graphRepo)
			deps.Entities = graphRepo
			deps.Stats["neo4j"] = func(ctx context.Context) (any, error) { return neo4jClient.Stats(ctx) }
			checks["neo4j"] = neo4jClient.Health
			probes["neo4j"] = neo4jClient.Health
			log.Info().Str("uri", cfg.Neo4j.URI).Msg("Neo4j graph export enabled")
		}
	}

	// Initialize streaming infrastructure
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing with local streaming only")
			natsPublisher = nil
		}
	}

	eventBus := streaming.NewEventBus(natsPublisher, log)
	defer eventBus.Close()
	log.Info().Bool("nats_enabled", natsPublisher != nil).Msg("event bus initialized")

	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)

	searchService.SetPublisher(streaming.NewEventBusPublisher(eventBus, wsHub))

	// Initialize handlers
	deps.Checks = checks
	deps.WSHub = wsHub
	deps.EventBus = eventBus
	h := handlers.NewHandlers(deps)

	router := api.NewRouter(*cfg, h, limiter, m, log)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC health server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcServer := grpc.NewServer()
	healthChecker := health.Register(grpcServer, probes, 0, log)
	go healthChecker.Run(ctx)

	go func() {
		log.Info().Str("addr", grpcListener.Addr().String()).Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop background loops after in-flight searches have drained
	cancel()

	log.Info().Msg("shutdown complete")
}
