package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/auth"
	"github.com/suPer8Hu/couples-chat/internal/chat"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/couples"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/couples-chat/internal/sessions"
	"github.com/suPer8Hu/couples-chat/internal/users"
)

// TokenRevoker backs logout; the redis store implements it.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
}

type Handler struct {
	Auth     *auth.Service
	Users    *users.Service
	Couples  *couples.Service
	Sessions *sessions.Service
	Chat     *chat.Service
	Revoker  TokenRevoker
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, false
	}
	return uid, true
}

func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid "+name)
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid request body: "+err.Error())
		return false
	}
	return true
}

const dateLayout = "2006-01-02"

// parseDate accepts YYYY-MM-DD or RFC3339; nil and blank mean "not given".
func parseDate(s *string) (*time.Time, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, true
	}
	v := strings.TrimSpace(*s)
	if t, err := time.Parse(dateLayout, v); err == nil {
		return &t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, true
	}
	return nil, false
}
