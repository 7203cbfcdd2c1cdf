package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/logger"
)

func TestZapLogger_ContextAndSanitize(t *testing.T) {
	var buf bytes.Buffer
	log := newZapLogger(&config.LogConfig{Level: "debug", Format: "json"}, &buf).WithComponent("issuance")

	ctx := context.WithValue(context.Background(), constants.ContextKeyRequestID, "req-1")
	ctx = context.WithValue(ctx, constants.ContextKeyTraceID, "trace-1")
	log.Error(ctx, "issue failed", errors.New("boom"),
		logger.String("token", "abcdefghijklmnop"),
		logger.String("token_hash", "ffee"),
		logger.String("gym_id", "gym-1"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "issue failed", entry["msg"])
	assert.Equal(t, "issuance", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "abcd***mnop", entry["token"])
	assert.Equal(t, "ffee", entry["token_hash"])
	assert.Equal(t, "gym-1", entry["gym_id"])
}

func TestZapLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newZapLogger(&config.LogConfig{Level: "warn"}, &buf)

	log.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
	log.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordIssuance("ENTRY", "ok", 5*time.Millisecond)
	m.RecordIssuance("ENTRY", "ok", 5*time.Millisecond)
	m.RecordRateLimitHit("ip")
	m.RecordRotation("EXIT", "sweep")
	m.RecordSweep(2, 3, 1, time.Second)
	m.RecordBatchJob("COMPLETE", 4, time.Second)
	m.RecordCacheAccess("gym", true)
	m.ObserveRequestDuration("/v1/qr", "GET", 429, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IssuanceRequests.WithLabelValues("ENTRY", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("ip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyRotations.WithLabelValues("EXIT", "sweep")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepResults.WithLabelValues("skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BatchGyms))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheAccess.WithLabelValues("gym", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPErrors.WithLabelValues("/v1/qr", "GET", "429")))
}

func TestTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(&config.TracingConfig{}, logger.NewNoopLogger())
	require.NoError(t, err)

	ctx, span := tm.StartSpan(context.Background(), "noop")
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tm.Shutdown(context.Background()))
}
