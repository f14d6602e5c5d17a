package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver maps verified token claims to a local, active user.
type Resolver struct {
	db            *gorm.DB
	autoProvision bool
}

func NewResolver(db *gorm.DB, autoProvision bool) *Resolver {
	return &Resolver{db: db, autoProvision: autoProvision}
}

func (r *Resolver) Resolve(ctx context.Context, claims *Claims) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", claims.Email).First(&u).Error
	switch {
	case err == nil:
	case apperr.IsNotFound(err):
		if !r.autoProvision {
			return nil, apperr.ErrUnknownIdentity
		}
		p, perr := r.provision(ctx, claims)
		if perr != nil {
			return nil, perr
		}
		u = *p
	default:
		return nil, apperr.Internal("lookup user", err)
	}

	if !u.IsActive {
		return nil, apperr.ErrAccountInactive
	}
	return &u, nil
}

var nonUsername = regexp.MustCompile(`[^a-z0-9_]+`)

// provision creates a verified account for an identity the issuer vouches for.
// Concurrent first requests for one email race on the unique index; the loser
// re-reads the winner's row.
func (r *Resolver) provision(ctx context.Context, claims *Claims) (*models.User, error) {
	local := claims.Email
	if i := strings.IndexByte(local, '@'); i > 0 {
		local = local[:i]
	}
	base := nonUsername.ReplaceAllString(strings.ToLower(local), "_")
	if len(base) > 40 {
		base = base[:40]
	}
	if len(base) < 3 {
		base = "user"
	}

	// the account has no usable password until the user sets one
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return nil, apperr.Internal("generate password", err)
	}
	hash, err := HashPassword(hex.EncodeToString(secret))
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	first := claims.MetadataString("first_name")
	if first == "" {
		first = base
	}
	last := claims.MetadataString("last_name")

	for i := 0; i < 5; i++ {
		suffix := make([]byte, 3)
		if _, err := rand.Read(suffix); err != nil {
			return nil, apperr.Internal("generate username", err)
		}
		u := &models.User{
			Email:        claims.Email,
			Username:     base + "_" + hex.EncodeToString(suffix),
			FirstName:    first,
			LastName:     last,
			PasswordHash: hash,
			IsActive:     true,
			IsVerified:   true,
		}
		err := r.db.WithContext(ctx).Create(u).Error
		if err == nil {
			logger.FromContext(ctx).Info("provisioned user from identity token",
				zap.Uint64("user_id", u.ID), zap.String("email", u.Email))
			return u, nil
		}
		if !apperr.IsDuplicateKey(err) {
			return nil, apperr.Internal("provision user", err)
		}

		var existing models.User
		if gerr := r.db.WithContext(ctx).Where("email = ?", claims.Email).First(&existing).Error; gerr == nil {
			return &existing, nil
		}
		// username collision; try another suffix
	}
	return nil, apperr.Internal("provision user", apperr.ErrUsernameTaken)
}
