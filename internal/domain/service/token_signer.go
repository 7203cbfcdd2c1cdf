package service

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
)

const (
	// canonicalPrefix versions the MAC input layout.
	canonicalPrefix = "qr1"
	nonceSize       = 16
)

// TokenSigner mints, encodes and checks scan tokens.
type TokenSigner struct {
	ttl    time.Duration
	scheme string
	now    func() time.Time
	random io.Reader
}

// NewTokenSigner creates a signer whose tokens live for ttl and whose deep links
// use scheme (for example "gymapp").
func NewTokenSigner(ttl time.Duration, scheme string) *TokenSigner {
	if ttl <= 0 {
		ttl = constants.DefaultTokenTTL
	}
	return &TokenSigner{
		ttl:    ttl,
		scheme: strings.TrimSuffix(scheme, "://"),
		now:    time.Now,
		random: rand.Reader,
	}
}

// WithClock replaces the time source.
func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	s.now = now
	return s
}

// TTL returns the validity window of minted tokens.
func (s *TokenSigner) TTL() time.Duration {
	return s.ttl
}

// Sign builds a payload for (gymID, purpose, version) and MACs it with key.
func (s *TokenSigner) Sign(gymID string, purpose models.Purpose, version int, key KeyMaterial) (*models.TokenPayload, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("sign: empty key material")
	}
	if !models.ValidGymID(gymID) || !purpose.Valid() || version < 1 {
		return nil, fmt.Errorf("sign: invalid payload fields")
	}

	raw := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return nil, fmt.Errorf("sign: read nonce: %w", err)
	}

	p := &models.TokenPayload{
		GymID:   gymID,
		Purpose: purpose,
		Version: version,
		Exp:     s.now().Add(s.ttl).Unix(),
		Nonce:   base64.RawURLEncoding.EncodeToString(raw),
	}
	p.Sig = base64.RawURLEncoding.EncodeToString(mac(p, key))
	return p, nil
}

// Encode serialises p as URL-safe base64 of its JSON form.
func (s *TokenSigner) Encode(p *models.TokenPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body), nil
}

// Decode parses a token produced by Encode. It never panics; every malformed
// input yields an error wrapping errors.ErrMalformedToken.
func (s *TokenSigner) Decode(token string) (*models.TokenPayload, error) {
	if token == "" || len(token) > constants.MaxTokenLength {
		return nil, fmt.Errorf("%w: length %d", errors.ErrMalformedToken, len(token))
	}
	body, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedToken, err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var p models.TokenPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedToken, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", errors.ErrMalformedToken)
	}

	switch {
	case p.GymID == "":
		return nil, fmt.Errorf("%w: missing gymId", errors.ErrMalformedToken)
	case !p.Purpose.Valid():
		return nil, fmt.Errorf("%w: invalid purpose", errors.ErrMalformedToken)
	case p.Version < 1:
		return nil, fmt.Errorf("%w: invalid version", errors.ErrMalformedToken)
	case p.Exp <= 0:
		return nil, fmt.Errorf("%w: invalid exp", errors.ErrMalformedToken)
	case p.Nonce == "" || p.Sig == "":
		return nil, fmt.Errorf("%w: missing nonce or signature", errors.ErrMalformedToken)
	}
	return &p, nil
}

// Verify checks the MAC in constant time and then the expiry.
func (s *TokenSigner) Verify(p *models.TokenPayload, key KeyMaterial, now time.Time) error {
	if key.IsZero() {
		return errors.ErrInvalidSignature
	}
	got, err := base64.RawURLEncoding.DecodeString(p.Sig)
	if err != nil {
		return errors.ErrInvalidSignature
	}
	if !hmac.Equal(got, mac(p, key)) {
		return errors.ErrInvalidSignature
	}
	if now.Unix() >= p.Exp {
		return errors.ErrTokenExpired
	}
	return nil
}

// DeepLink builds the app-openable URI carrying token.
func (s *TokenSigner) DeepLink(token string, p *models.TokenPayload) string {
	q := url.Values{}
	q.Set("t", token)
	q.Set("gym", p.GymID)
	q.Set("purpose", string(p.Purpose))
	return fmt.Sprintf("%s://qr/redeem?%s", s.scheme, q.Encode())
}

// Hash returns hex(sha256(token)), the only form in which a token is stored.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func canonical(p *models.TokenPayload) string {
	return strings.Join([]string{
		canonicalPrefix,
		p.GymID,
		string(p.Purpose),
		strconv.Itoa(p.Version),
		strconv.FormatInt(p.Exp, 10),
		p.Nonce,
	}, models.GymIDSeparator)
}

func mac(p *models.TokenPayload, key KeyMaterial) []byte {
	h := hmac.New(sha256.New, key.secret)
	h.Write([]byte(canonical(p)))
	return h.Sum(nil)
}
