package middleware

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/application/service"
	"github.com/turtacn/qrgate/internal/config"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

const actorKey = "qrgate.actor"

// AdminClaims are the claims carried by an admin access token.
type AdminClaims struct {
	Role constants.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies admin JWTs and the shared system secret.
type Authenticator struct {
	secret       []byte
	issuer       string
	systemSecret []byte
	logger       logger.Logger
}

// NewAuthenticator creates an Authenticator from the auth config.
func NewAuthenticator(cfg *config.AuthConfig, log logger.Logger) *Authenticator {
	return &Authenticator{
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.JWTIssuer,
		systemSecret: []byte(cfg.SystemSecret),
		logger:       log.WithComponent("auth"),
	}
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// ParseToken verifies an HS256 admin token and returns its actor.
func (a *Authenticator) ParseToken(tokenStr string) (service.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return service.Actor{}, errors.ErrUnauthorized("invalid admin token").WithCause(err)
	}
	if claims.Subject == "" {
		return service.Actor{}, errors.ErrUnauthorized("admin token has no subject")
	}
	switch claims.Role {
	case constants.RoleSuperAdmin, constants.RoleGymOwner:
	default:
		return service.Actor{}, errors.ErrUnauthorized("admin token has an unknown role")
	}
	return service.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// RequireJWT is a middleware to protect routes that require a valid admin JWT.
func (a *Authenticator) RequireJWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractBearer(c.GetHeader(constants.HeaderAuthorization))
		if tokenStr == "" {
			dto.SendError(c, errors.ErrUnauthorized("missing bearer token"))
			return
		}
		actor, err := a.ParseToken(tokenStr)
		if err != nil {
			a.logger.Warn(c.Request.Context(), "JWT verification failed",
				logger.Err(err),
				logger.String("client_ip", c.ClientIP()),
			)
			dto.SendError(c, err)
			return
		}
		SetActor(c, actor)
		c.Next()
	}
}

// RequireJWTOrSystemSecret accepts either an admin JWT or the shared system
// secret, presented in X-System-Secret or as the bearer token.
func (a *Authenticator) RequireJWTOrSystemSecret() gin.HandlerFunc {
	requireJWT := a.RequireJWT()
	return func(c *gin.Context) {
		if a.isSystemSecret(c.GetHeader(constants.HeaderSystemSecret)) ||
			a.isSystemSecret(extractBearer(c.GetHeader(constants.HeaderAuthorization))) {
			SetActor(c, service.Actor{ID: constants.SystemActorCron, System: true})
			c.Next()
			return
		}
		if c.GetHeader(constants.HeaderSystemSecret) != "" {
			a.logger.Warn(c.Request.Context(), "Invalid system secret presented",
				logger.String("client_ip", c.ClientIP()),
			)
			dto.SendError(c, errors.ErrUnauthorized("invalid system secret"))
			return
		}
		requireJWT(c)
	}
}

func (a *Authenticator) isSystemSecret(presented string) bool {
	if len(a.systemSecret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), a.systemSecret) == 1
}

// RequireRole rejects authenticated actors outside roles. System callers always pass.
func RequireRole(roles ...constants.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			dto.SendError(c, errors.ErrUnauthorized("authentication required"))
			return
		}
		if actor.System {
			c.Next()
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		dto.SendError(c, errors.ErrForbidden("insufficient role"))
	}
}

// ActorFrom returns the actor stored by the auth middleware.
func ActorFrom(c *gin.Context) (service.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return service.Actor{}, false
	}
	actor, ok := v.(service.Actor)
	return actor, ok
}

// SetActor stores actor on the gin and request contexts.
func SetActor(c *gin.Context, actor service.Actor) {
	c.Set(actorKey, actor)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeyActorID, actor.ID))
}

// SignAdminToken mints an HS256 admin token. Used by the qr-admin CLI and tests.
func SignAdminToken(secret []byte, issuer, subject string, role constants.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
