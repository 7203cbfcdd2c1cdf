package http

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
)

func TestRouter_StartAfterSetupRoutes(t *testing.T) {
	s := newTestServer(t, newTestConfig())
	s.cfg.Server.Host = "127.0.0.1"
	s.cfg.Server.Port = 0

	// routes are already registered by the harness; Start must not register them again
	errCh := make(chan error, 1)
	go func() { errCh <- s.router.Start() }()

	require.Eventually(t, func() bool { return s.router.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get(fmt.Sprintf("http://%s/health/live", s.router.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.router.Stop(ctx))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestE2E_ForwardedForIsIgnoredFromUntrustedPeers(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit.IP.Limit = 2
	s := newTestServer(t, cfg)
	s.seedGym(t, "gym-1", "owner-1", models.GymStatusActive)

	for i := 1; i <= 2; i++ {
		payloadOf(t, s.do(t, http.MethodGet, "/qr/static/gym-1/ENTRY", nil,
			"X-Forwarded-For", fmt.Sprintf("10.9.9.%d", i)))
	}
	limited := s.do(t, http.MethodGet, "/qr/static/gym-1/ENTRY", nil, "X-Forwarded-For", "10.9.9.3")
	require.Equal(t, http.StatusTooManyRequests, limited.Status, string(limited.Raw))
	details := limited.Body["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "ip", details["dimension"])
	assert.Equal(t, string(constants.ErrCodeRateLimitExceeded), limited.errorCode())
}

func TestE2E_ForwardedForFromTrustedProxy(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit.IP.Limit = 2
	cfg.Server.TrustedProxies = []string{"127.0.0.1", "::1"}
	s := newTestServer(t, cfg)
	s.seedGym(t, "gym-1", "owner-1", models.GymStatusActive)

	// each forwarded client gets its own bucket behind the proxy
	for i := 1; i <= 3; i++ {
		payloadOf(t, s.do(t, http.MethodGet, "/qr/static/gym-1/ENTRY", nil,
			"X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i)))
	}
	for i := 0; i < 2; i++ {
		payloadOf(t, s.do(t, http.MethodGet, "/qr/static/gym-1/EXIT", nil, "X-Forwarded-For", "203.0.113.50"))
	}
	limited := s.do(t, http.MethodGet, "/qr/static/gym-1/PAYMENT", nil, "X-Forwarded-For", "203.0.113.50")
	assert.Equal(t, http.StatusTooManyRequests, limited.Status)
}
