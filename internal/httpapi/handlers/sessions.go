package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/common"
)

type createSessionReq struct {
	SessionMode string `json:"session_mode"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	s, err := h.Sessions.CreateSession(c.Request.Context(), uid, req.SessionMode)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Created(c, s)
}

type joinSessionReq struct {
	SessionCode string `json:"session_code" binding:"required"`
}

func (h *Handler) JoinSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	var req joinSessionReq
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.Sessions.JoinSession(c.Request.Context(), uid, req.SessionCode)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, s)
}

func (h *Handler) GetMySession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	s, err := h.Sessions.GetMySession(c.Request.Context(), uid)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, s)
}

func (h *Handler) LeaveSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	if err := h.Sessions.LeaveSession(c.Request.Context(), uid); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": "left session"})
}

func (h *Handler) CompleteSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	if err := h.Sessions.CompleteSession(c.Request.Context(), uid); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": "session completed"})
}
