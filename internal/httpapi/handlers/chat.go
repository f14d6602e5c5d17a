package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/chat"
	"github.com/suPer8Hu/couples-chat/internal/common"
)

type sendMessageReq struct {
	Message     string            `json:"message" binding:"required"`
	SenderID    string            `json:"sender_id"`
	Partner     string            `json:"partner"`
	CoupleNames map[string]string `json:"couple_names"`
	CoupleID    *uint64           `json:"couple_id"`
	UserID      *uint64           `json:"user_id"`
	SessionID   *uint64           `json:"session_id"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.Chat.HandleMessage(c.Request.Context(), chat.Request{
		RequesterID: uid,
		Message:     req.Message,
		SenderID:    req.SenderID,
		Partner:     req.Partner,
		CoupleNames: req.CoupleNames,
		CoupleID:    req.CoupleID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, res)
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}

	sessionID, err := strconv.ParseUint(c.Query("session_id"), 10, 64)
	if err != nil || sessionID == 0 {
		common.Fail(c, http.StatusBadRequest, 40001, "session_id is required")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}
