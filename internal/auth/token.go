package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/models"
)

// Claims is the token shape shared by the external identity issuer and the
// tokens minted on local login.
type Claims struct {
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// MetadataString returns a string-valued user_metadata claim, or "".
func (c *Claims) MetadataString(key string) string {
	if c.UserMetadata == nil {
		return ""
	}
	s, _ := c.UserMetadata[key].(string)
	return strings.TrimSpace(s)
}

type TokenConfig struct {
	Secret   string
	Audience string
	Issuer   string
	TTL      time.Duration
}

type Verifier struct {
	cfg TokenConfig
}

func NewVerifier(cfg TokenConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify checks signature, expiry, audience and (when configured) issuer, and
// requires a non-empty email claim.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, errors.New("empty token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Email == "" {
		return nil, errors.New("token has no email claim")
	}
	return claims, nil
}

type Signer struct {
	cfg TokenConfig
}

func NewSigner(cfg TokenConfig) *Signer {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Signer{cfg: cfg}
}

// Sign issues a token for u. The jti is a ULID so a single token can be revoked.
func (s *Signer) Sign(u *models.User) (string, time.Time, error) {
	jti, err := common.NewULID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jti: %w", err)
	}
	now := time.Now()
	exp := now.Add(s.cfg.TTL)
	rc := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(u.ID, 10),
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Issuer:    s.cfg.Issuer,
	}
	if s.cfg.Audience != "" {
		rc.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}
	claims := Claims{
		Email: u.Email,
		UserMetadata: map[string]any{
			"first_name": u.FirstName,
			"last_name":  u.LastName,
			"username":   u.Username,
		},
		RegisteredClaims: rc,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
