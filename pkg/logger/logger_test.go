package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abcd***wxyz", Sanitize("system_secret", "abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "***", Sanitize("Authorization", "short"))
	assert.Equal(t, "***REDACTED***", Sanitize("key_material", []byte{1, 2, 3}))
	assert.Equal(t, "deadbeef", Sanitize("token_hash", "deadbeef"))
	assert.Equal(t, "gym-1", Sanitize("gym_id", "gym-1"))
}

func TestNoopLoggerChains(t *testing.T) {
	l := NewNoopLogger().WithComponent("x").WithFields(String("a", "b"))
	assert.NotNil(t, l)
	l.Info(context.Background(), "ignored")
}
