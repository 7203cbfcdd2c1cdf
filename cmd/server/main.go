package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/turtacn/qrgate/internal/application"
	appservice "github.com/turtacn/qrgate/internal/application/service"
	"github.com/turtacn/qrgate/internal/config"
	domainservice "github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/internal/infrastructure/audit"
	"github.com/turtacn/qrgate/internal/infrastructure/cache"
	"github.com/turtacn/qrgate/internal/infrastructure/consumers"
	"github.com/turtacn/qrgate/internal/infrastructure/kms"
	"github.com/turtacn/qrgate/internal/infrastructure/monitoring"
	"github.com/turtacn/qrgate/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/qrgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/qrgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/qrgate/internal/infrastructure/render"
	"github.com/turtacn/qrgate/internal/infrastructure/storage"
	grpcserver "github.com/turtacn/qrgate/internal/interfaces/grpc"
	httpserver "github.com/turtacn/qrgate/internal/interfaces/http"
	"github.com/turtacn/qrgate/internal/interfaces/http/handlers"
	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/logger"
)

// localBucketIdle is how long an unused fallback limiter bucket is kept.
const localBucketIdle = 10 * time.Minute

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})
	if err != nil {
		log.Fatalf("Failed to create startup logger: %v", err)
	}

	// Load config
	loader := config.NewLoader(*configFile, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tracer", err)
	}

	// Initialize database
	db, err := postgres.NewDBConnection(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to database", err)
	}
	defer db.Close()

	// Initialize Redis
	redisConn, err := redis.NewRedisConnection(ctx, &cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err)
	}
	defer redisConn.Close()

	// Initialize infrastructure
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	rateLimiter, err := ratelimit.NewRedisRateLimiter(redisConn.GetClient(), cfg.RateLimit, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to create rate limiter", err)
	}
	loader.OnRateLimitChange(func(rl config.RateLimitConfig) {
		if err := rateLimiter.UpdateConfig(rl); err != nil {
			appLogger.Error(ctx, "Failed to apply rate limit reload", err)
		}
	})
	loader.Watch()

	sealer, err := kms.NewSealerFromConfig(ctx, &cfg.Vault, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to load master sealing key", err)
	}

	auditSinks := []domainservice.AuditService{audit.NewGormAuditService(db.DB())}
	if cfg.Kafka.Enabled {
		producer := audit.NewKafkaProducer(cfg.Kafka, appLogger)
		defer producer.Close()
		auditSinks = append(auditSinks, producer)
	}
	auditSvc := audit.NewMultiSink(appLogger, auditSinks...)

	assets, err := storage.NewAssetStore(&cfg.Assets, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to create asset store", err)
	}

	// Initialize repositories
	gyms := cache.NewGymDirectory(postgres.NewGymRepository(db.DB()), cfg.QR.GymCacheTTL, metrics)
	if cfg.Kafka.Enabled && cfg.Kafka.GymEventsTopic != "" {
		gymEvents := consumers.NewGymEventConsumer(cfg.Kafka, gyms, appLogger)
		defer gymEvents.Close()
		go gymEvents.Run(ctx)
	}
	keyRepo := postgres.NewQRKeyRepository(db.DB())
	tokenRepo := postgres.NewIssuedTokenRepository(db.DB())
	jobRepo := postgres.NewBatchJobRepository(db.DB())

	// Initialize application services
	keys := application.NewKeyStore(keyRepo, sealer, auditSvc, metrics,
		application.KeyStoreConfig{KeyMaxAge: cfg.QR.KeyMaxAge, GraceWindow: cfg.QR.TokenTTL}, appLogger)
	scheduler := application.NewRotationScheduler(keys, cfg.QR.RotationInterval, appLogger)
	if cfg.QR.SchedulerEnabled {
		scheduler.Start(ctx)
	}
	defer scheduler.Stop()

	batch := application.NewBatchGenerator(jobRepo, gyms, keys, render.NewQRRenderer(cfg.Assets.PNGSize),
		assets, storage.ZipPackager{}, auditSvc, metrics, cfg.QR.BaseURL, appLogger)

	var binder domainservice.DeviceBinder = domainservice.NoopDeviceBinder{}
	if cfg.QR.DeviceBinding {
		binder = domainservice.HashingDeviceBinder{}
	}
	signer := domainservice.NewTokenSigner(cfg.QR.TokenTTL, cfg.QR.DeepLinkScheme)
	issuance := appservice.NewIssuanceAppService(rateLimiter, gyms, keys, signer, tokenRepo, binder, metrics, appLogger)
	admin := appservice.NewQRAdminAppService(keys, scheduler, gyms, appLogger)

	go cleanupLocalBuckets(ctx, rateLimiter)

	// Initialize HTTP handlers and router
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": db,
		"redis":    redisConn,
	}, appLogger)
	router := httpserver.NewRouter(cfg, appLogger,
		middleware.NewAuthenticator(&cfg.Auth, appLogger), metrics, healthHandler,
		handlers.NewQRHandler(issuance, admin, appLogger),
		handlers.NewBatchHandler(batch, appLogger),
	)
	router.SetupRoutes()

	go func() {
		if err := router.Start(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	}()

	// Initialize and start gRPC server
	grpcServer := startGRPCServer(ctx, cfg, issuance, appLogger)

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP shutdown failed", err)
	}
	grpcServer.Stop(shutdownCtx)
	scheduler.Stop()
	if err := batch.Wait(shutdownCtx); err != nil {
		appLogger.Warn(shutdownCtx, "Batch jobs still running at shutdown", logger.Err(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Tracer shutdown failed", err)
	}
}

func startGRPCServer(ctx context.Context, cfg *config.Config, issuance appservice.IssuanceAppService, log logger.Logger) *grpcserver.Server {
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		log.Fatal(ctx, "Failed to listen for gRPC", err)
	}

	proxies, err := cfg.Server.TrustedProxyNets()
	if err != nil {
		log.Fatal(ctx, "Invalid trusted proxies", err)
	}
	srv := grpcserver.NewServer(issuance, grpcserver.NewClientIPResolver(proxies), log)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error(ctx, "gRPC server failed", err)
		}
	}()

	log.Info(ctx, "gRPC server listening", logger.String("addr", cfg.Server.GRPCAddr()))
	return srv
}

// cleanupLocalBuckets drops idle fallback limiter buckets until ctx ends.
func cleanupLocalBuckets(ctx context.Context, rl *ratelimit.RedisRateLimiter) {
	ticker := time.NewTicker(localBucketIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.CleanupLocalBuckets(localBucketIdle)
		}
	}
}
