// Package http exposes the public issuance endpoint and the admin API over gin.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/interfaces/http/handlers"
	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/logger"
	"github.com/turtacn/qrgate/pkg/utils"
)

const tracerName = "github.com/turtacn/qrgate/internal/interfaces/http"

// Router HTTP 路由器
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	auth          *middleware.Authenticator
	metrics       middleware.HTTPMetrics
	healthHandler *handlers.HealthHandler
	qrHandler     *handlers.QRHandler
	batchHandler  *handlers.BatchHandler

	setupOnce sync.Once
	mu        sync.Mutex
	server    *http.Server
	addr      net.Addr
}

// NewRouter 创建路由器
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	auth *middleware.Authenticator,
	metrics middleware.HTTPMetrics,
	healthHandler *handlers.HealthHandler,
	qrHandler *handlers.QRHandler,
	batchHandler *handlers.BatchHandler,
) *Router {
	return &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("Router"),
		auth:          auth,
		metrics:       metrics,
		healthHandler: healthHandler,
		qrHandler:     qrHandler,
		batchHandler:  batchHandler,
	}
}

// Engine returns the underlying gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// SetupRoutes 设置路由. Only the first call registers anything.
func (r *Router) SetupRoutes() {
	r.setupOnce.Do(r.setupRoutes)
}

func (r *Router) setupRoutes() {
	// X-Forwarded-For is only honoured from configured proxies; by default the
	// socket peer is the client.
	if err := r.engine.SetTrustedProxies(r.config.Server.TrustedProxies); err != nil {
		r.logger.Error(context.Background(), "Invalid trusted proxies, trusting none", err)
		_ = r.engine.SetTrustedProxies(nil)
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		utils.RegisterCustomValidations(v)
	}

	// 全局中间件
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.ObservabilityMiddleware(otel.Tracer(tracerName), r.metrics))
	r.engine.Use(middleware.AccessLog(r.logger))

	// CORS 配置
	if len(r.config.Server.AllowedOrigins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins: r.config.Server.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", constants.HeaderAuthorization,
				constants.HeaderRequestID, constants.HeaderDeviceFingerprint},
			ExposeHeaders: []string{constants.HeaderRequestID, constants.HeaderRetryAfter},
			MaxAge:        12 * time.Hour,
		}))
	}

	// 健康检查路由（不需要认证）
	r.engine.GET("/health/live", r.healthHandler.LivenessCheck)
	r.engine.GET("/health/ready", r.healthHandler.ReadinessCheck)

	// Prometheus metrics
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Pprof 性能分析
	if r.config.Monitoring.EnablePprof {
		pprof.Register(r.engine)
	}

	// 公开的扫码入口
	r.engine.GET("/qr/static/:gymId/:purpose", r.qrHandler.IssueToken)

	// 管理接口
	admin := r.engine.Group("/api/v1/admin/qr")
	{
		admin.POST("/rotate", r.auth.RequireJWT(), r.qrHandler.Rotate)
		admin.POST("/rotation/sweep",
			r.auth.RequireJWTOrSystemSecret(),
			middleware.RequireRole(constants.RoleSuperAdmin),
			r.qrHandler.Sweep)

		batch := admin.Group("/batch")
		batch.Use(r.auth.RequireJWT(), middleware.RequireRole(constants.RoleSuperAdmin))
		{
			batch.POST("", r.batchHandler.Submit)
			batch.POST("/run", r.batchHandler.Run)
			batch.GET("/:jobId", r.batchHandler.Get)
			batch.GET("/:jobId/download", r.batchHandler.Download)
		}
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"ok": false,
			"error": gin.H{
				"code":    constants.ErrCodeNotFound,
				"message": "The requested resource was not found",
			},
		})
	})
}

// Start 启动 HTTP 服务器. It blocks until the server stops.
func (r *Router) Start() error {
	lis, err := net.Listen("tcp", r.config.Server.HTTPAddr())
	if err != nil {
		return err
	}
	return r.Serve(lis)
}

// Serve serves HTTP on lis until Stop is called.
func (r *Router) Serve(lis net.Listener) error {
	r.SetupRoutes()

	srv := &http.Server{
		Handler:        r.engine,
		ReadTimeout:    r.config.Server.ReadTimeout,
		WriteTimeout:   r.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	r.mu.Lock()
	r.server = srv
	r.addr = lis.Addr()
	r.mu.Unlock()

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the listening address once the server has started, else nil.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.server
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	r.logger.Info(ctx, "Stopping HTTP server")
	return srv.Shutdown(ctx)
}
