package service_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/errors"
)

func newKey(t *testing.T) service.KeyMaterial {
	t.Helper()
	secret, err := service.GenerateSecret()
	require.NoError(t, err)
	return service.NewKeyMaterial(secret)
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := service.NewTokenSigner(30*time.Second, "gymapp").WithClock(func() time.Time { return now })
	key := newKey(t)

	payload, err := signer.Sign("gym-1", models.PurposeEntry, 1, key)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second).Unix(), payload.Exp)

	token, err := signer.Encode(payload)
	require.NoError(t, err)
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")

	decoded, err := signer.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	assert.NoError(t, signer.Verify(decoded, key, now))
	assert.ErrorIs(t, signer.Verify(decoded, key, now.Add(31*time.Second)), errors.ErrTokenExpired)
	assert.ErrorIs(t, signer.Verify(decoded, newKey(t), now), errors.ErrInvalidSignature)
}

func TestTokenSigner_TamperedFieldFailsVerify(t *testing.T) {
	signer := service.NewTokenSigner(30*time.Second, "gymapp")
	key := newKey(t)
	payload, err := signer.Sign("gym-1", models.PurposePayment, 3, key)
	require.NoError(t, err)

	payload.Version = 4
	assert.ErrorIs(t, signer.Verify(payload, key, time.Now()), errors.ErrInvalidSignature)
}

func TestTokenSigner_HashesAreUnique(t *testing.T) {
	signer := service.NewTokenSigner(30*time.Second, "gymapp")
	key := newKey(t)
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		payload, err := signer.Sign("gym-1", models.PurposeEntry, 1, key)
		require.NoError(t, err)
		token, err := signer.Encode(payload)
		require.NoError(t, err)

		h := service.Hash(token)
		assert.Equal(t, h, service.Hash(token))
		assert.Len(t, h, 64)
		_, dup := seen[h]
		require.False(t, dup, "duplicate token hash at iteration %d", i)
		seen[h] = struct{}{}
	}
}

func TestTokenSigner_DecodeRejectsMalformed(t *testing.T) {
	signer := service.NewTokenSigner(30*time.Second, "gymapp")
	enc := func(v interface{}) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}

	cases := map[string]string{
		"empty":          "",
		"too long":       strings.Repeat("a", 4096),
		"not base64":     "!!!###",
		"padded base64":  base64.URLEncoding.EncodeToString([]byte(`{"gymId":"g"}`)),
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"json array":     enc([]int{1, 2}),
		"unknown field":  enc(map[string]interface{}{"gymId": "g", "purpose": "ENTRY", "version": 1, "exp": 1, "nonce": "n", "sig": "s", "x": 1}),
		"bad purpose":    enc(map[string]interface{}{"gymId": "g", "purpose": "LOBBY", "version": 1, "exp": 1, "nonce": "n", "sig": "s"}),
		"zero version":   enc(map[string]interface{}{"gymId": "g", "purpose": "ENTRY", "version": 0, "exp": 1, "nonce": "n", "sig": "s"}),
		"missing sig":    enc(map[string]interface{}{"gymId": "g", "purpose": "ENTRY", "version": 1, "exp": 1, "nonce": "n"}),
		"wrong types":    enc(map[string]interface{}{"gymId": 7, "purpose": "ENTRY", "version": "1"}),
		"truncated json": base64.RawURLEncoding.EncodeToString([]byte(`{"gymId":"g",`)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := signer.Decode(token)
				assert.ErrorIs(t, err, errors.ErrMalformedToken)
			})
		})
	}
}

func TestTokenSigner_SignRejectsBadInput(t *testing.T) {
	signer := service.NewTokenSigner(30*time.Second, "gymapp")
	key := newKey(t)

	_, err := signer.Sign("", models.PurposeEntry, 1, key)
	assert.Error(t, err)
	_, err = signer.Sign("a|b", models.PurposeEntry, 1, key)
	assert.Error(t, err)
	_, err = signer.Sign("gym-1", models.Purpose("LOBBY"), 1, key)
	assert.Error(t, err)
	_, err = signer.Sign("gym-1", models.PurposeEntry, 1, service.KeyMaterial{})
	assert.Error(t, err)
}

func TestTokenSigner_DeepLink(t *testing.T) {
	signer := service.NewTokenSigner(30*time.Second, "gymapp://")
	payload := &models.TokenPayload{GymID: "gym-9", Purpose: models.PurposeExit}

	link := signer.DeepLink("abc_DEF-123", payload)
	assert.True(t, strings.HasPrefix(link, "gymapp://qr/redeem?"), link)
	assert.Contains(t, link, "t=abc_DEF-123")
	assert.Contains(t, link, "purpose=EXIT")
}

func TestKeyMaterial_Redacted(t *testing.T) {
	key := service.NewKeyMaterial([]byte("super-secret-bytes"))

	assert.Equal(t, "KeyMaterial(redacted)", key.String())
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", key, key, key), "super-secret")

	out, err := json.Marshal(struct {
		Key service.KeyMaterial `json:"key"`
	}{key})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"redacted"}`, string(out))
}
