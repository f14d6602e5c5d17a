package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/auth"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
)

type registerReq struct {
	Email       string  `json:"email" binding:"required,email"`
	Username    string  `json:"username" binding:"required,min=3,max=50"`
	FirstName   string  `json:"first_name" binding:"required,max=100"`
	LastName    string  `json:"last_name" binding:"required,max=100"`
	Password    string  `json:"password" binding:"required,min=8"`
	PhoneNumber *string `json:"phone_number"`
	DateOfBirth *string `json:"date_of_birth"`
	Gender      *string `json:"gender"`
}

func tokenPayload(s *auth.Session) gin.H {
	return gin.H{
		"access_token": s.Token,
		"token_type":   "bearer",
		"expires_at":   s.ExpiresAt,
		"user":         s.User,
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if !bindJSON(c, &req) {
		return
	}
	dob, ok := parseDate(req.DateOfBirth)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40001, "date_of_birth must be YYYY-MM-DD")
		return
	}

	sess, err := h.Auth.Register(c.Request.Context(), auth.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		DateOfBirth: dob,
		Gender:      req.Gender,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Created(c, tokenPayload(sess))
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUnauthenticated {
			metrics.AuthFailures.WithLabelValues("bad_password").Inc()
		}
		common.FailErr(c, err)
		return
	}
	common.OK(c, tokenPayload(sess))
}

func (h *Handler) Me(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, u)
}

// Logout revokes the presented token until it would have expired anyway.
func (h *Handler) Logout(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Revoker != nil && claims.ID != "" {
		until := time.Now().Add(24 * time.Hour)
		if claims.ExpiresAt != nil {
			until = claims.ExpiresAt.Time
		}
		if err := h.Revoker.Revoke(c.Request.Context(), claims.ID, until); err != nil {
			common.FailErr(c, apperr.Internal("revoke token", err))
			return
		}
	}
	common.OK(c, gin.H{"message": "logged out"})
}
