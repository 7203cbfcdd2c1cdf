package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/application"
	"github.com/turtacn/qrgate/internal/application/service"
	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/internal/domain/models"
	domainService "github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/internal/infrastructure/audit"
	"github.com/turtacn/qrgate/internal/infrastructure/cache"
	"github.com/turtacn/qrgate/internal/infrastructure/kms"
	"github.com/turtacn/qrgate/internal/infrastructure/monitoring"
	"github.com/turtacn/qrgate/internal/infrastructure/persistence/postgres"
	redisconn "github.com/turtacn/qrgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/qrgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/qrgate/internal/infrastructure/render"
	"github.com/turtacn/qrgate/internal/infrastructure/storage"
	"github.com/turtacn/qrgate/internal/interfaces/http/handlers"
	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/logger"
)

const (
	testJWTSecret    = "0123456789abcdef0123456789abcdef"
	testJWTIssuer    = "qrgate-test"
	testSystemSecret = "cron-shared-secret"
	testBaseURL      = "https://qr.example.com"
)

// testServer is the full HTTP stack over sqlite, miniredis and a temp dir.
type testServer struct {
	ts     *httptest.Server
	router *Router
	cfg    *config.Config
	db     *gorm.DB
	redis  *miniredis.Miniredis
	gyms   *cache.GymDirectory
	keys   *application.KeyStore
	batch  *application.BatchGenerator
	signer *domainService.TokenSigner
	audit  *audit.GormAuditService
}

func newTestConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:    testJWTSecret,
			JWTIssuer:    testJWTIssuer,
			SystemSecret: testSystemSecret,
		},
		QR: config.QRConfig{
			BaseURL:        testBaseURL,
			DeepLinkScheme: "gymapp",
			TokenTTL:       30 * time.Second,
			KeyMaxAge:      24 * time.Hour,
			GymCacheTTL:    time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:          true,
			IP:               config.RateLimitPolicy{Limit: 100, Window: time.Minute},
			GymPurposeIP:     config.RateLimitPolicy{Limit: 20, Window: time.Minute},
			KeyPrefix:        "test:rl",
			LocalBurstFactor: 1,
		},
	}
}

func newTestServer(t testing.TB, cfg *config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNoopLogger()
	ctx := context.Background()

	db, err := postgres.Open(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, postgres.AutoMigrate(ctx, db))

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := ratelimit.NewRedisRateLimiter(client, cfg.RateLimit, log)
	require.NoError(t, err)

	sealer, err := kms.NewAESGCMSealer(make([]byte, kms.MasterKeySize))
	require.NoError(t, err)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	auditSvc := audit.NewGormAuditService(db)
	gyms := cache.NewGymDirectory(postgres.NewGymRepository(db), cfg.QR.GymCacheTTL, metrics)
	keys := application.NewKeyStore(postgres.NewQRKeyRepository(db), sealer, auditSvc, metrics,
		application.KeyStoreConfig{KeyMaxAge: cfg.QR.KeyMaxAge, GraceWindow: cfg.QR.TokenTTL}, log)
	scheduler := application.NewRotationScheduler(keys, time.Hour, log)
	signer := domainService.NewTokenSigner(cfg.QR.TokenTTL, cfg.QR.DeepLinkScheme)

	store, err := storage.NewFSStore(t.TempDir(), log)
	require.NoError(t, err)
	batch := application.NewBatchGenerator(postgres.NewBatchJobRepository(db), gyms, keys,
		render.NewQRRenderer(128), store, storage.ZipPackager{}, auditSvc, metrics, cfg.QR.BaseURL, log)
	t.Cleanup(func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = batch.Wait(waitCtx)
	})

	issuance := service.NewIssuanceAppService(limiter, gyms, keys, signer,
		postgres.NewIssuedTokenRepository(db), domainService.HashingDeviceBinder{}, metrics, log)
	admin := service.NewQRAdminAppService(keys, scheduler, gyms, log)

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": handlers.PingFunc(sqlDB.PingContext),
		"redis":    redisconn.NewRedisConnectionFromClient(client, log),
	}, log)

	router := NewRouter(cfg, log, middleware.NewAuthenticator(&cfg.Auth, log), metrics, health,
		handlers.NewQRHandler(issuance, admin, log), handlers.NewBatchHandler(batch, log))
	router.SetupRoutes()

	ts := httptest.NewServer(router.Engine())
	t.Cleanup(ts.Close)

	return &testServer{
		ts:     ts,
		router: router,
		cfg:    cfg,
		db:     db,
		redis:  mr,
		gyms:   gyms,
		keys:   keys,
		batch:  batch,
		signer: signer,
		audit:  auditSvc,
	}
}

func (s *testServer) seedGym(t testing.TB, id, owner string, status models.GymStatus) {
	t.Helper()
	require.NoError(t, s.gyms.Save(context.Background(), &models.Gym{
		ID: id, Name: "Gym " + id, OwnerID: owner, Status: status,
	}))
}

func (s *testServer) token(t testing.TB, subject string, role constants.Role) string {
	t.Helper()
	tok, err := middleware.SignAdminToken([]byte(testJWTSecret), testJWTIssuer, subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

type apiResponse struct {
	Status int
	Header http.Header
	Raw    []byte
	Body   map[string]interface{}
}

// do sends a request. headers alternate key, value.
func (s *testServer) do(t testing.TB, method, path string, body interface{}, headers ...string) *apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := &apiResponse{Status: resp.StatusCode, Header: resp.Header, Raw: raw}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func (r *apiResponse) errorCode() string {
	e, _ := r.Body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}
