package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/auth"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"go.uber.org/zap"
)

const (
	UserIDKey = "user_id"
	UserKey   = "user"
	ClaimsKey = "claims"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (*models.User, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// AuthRequired verifies the bearer token, rejects revoked tokens and resolves
// the local user. revoked may be nil.
func AuthRequired(verifier TokenVerifier, resolver IdentityResolver, revoked RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		tok, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			metrics.AuthFailures.WithLabelValues("missing_token").Inc()
			common.FailErr(c, apperr.ErrMissingToken)
			return
		}

		claims, err := verifier.Verify(tok)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			log.Debug("token rejected", zap.Error(err))
			common.FailErr(c, apperr.ErrInvalidToken)
			return
		}

		if revoked != nil && claims.ID != "" {
			isRevoked, err := revoked.IsRevoked(ctx, claims.ID)
			if err != nil {
				common.FailErr(c, apperr.Internal("check token revocation", err))
				return
			}
			if isRevoked {
				metrics.AuthFailures.WithLabelValues("revoked").Inc()
				common.FailErr(c, apperr.ErrTokenRevoked)
				return
			}
		}

		u, err := resolver.Resolve(ctx, claims)
		if err != nil {
			if errors.Is(err, apperr.ErrUnknownIdentity) || errors.Is(err, apperr.ErrAccountInactive) {
				metrics.AuthFailures.WithLabelValues("unknown_user").Inc()
			}
			common.FailErr(c, err)
			return
		}

		c.Set(UserIDKey, u.ID)
		c.Set(UserKey, u)
		c.Set(ClaimsKey, claims)
		c.Request = c.Request.WithContext(logger.WithContext(ctx, log.With(zap.Uint64("user_id", u.ID))))
		c.Next()
	}
}

func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok
}

func CurrentClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok
}
