package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/models"
)

type createCoupleReq struct {
	PartnerEmail          string  `json:"partner_email" binding:"required,email"`
	RelationshipStartDate *string `json:"relationship_start_date"`
}

func (h *Handler) respondCouple(c *gin.Context, status int, cp *models.Couple) {
	full, err := h.Couples.WithUsers(c.Request.Context(), cp)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if status == http.StatusCreated {
		common.Created(c, full)
		return
	}
	common.OK(c, full)
}

func (h *Handler) CreateCouple(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	var req createCoupleReq
	if !bindJSON(c, &req) {
		return
	}
	start, ok := parseDate(req.RelationshipStartDate)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40001, "relationship_start_date must be YYYY-MM-DD")
		return
	}
	cp, err := h.Couples.CreateCouple(c.Request.Context(), uid, req.PartnerEmail, start)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	h.respondCouple(c, http.StatusCreated, cp)
}

func (h *Handler) ListMyCouples(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	cs, err := h.Couples.ListMyCouples(c.Request.Context(), uid)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	out := make([]any, 0, len(cs))
	for i := range cs {
		full, err := h.Couples.WithUsers(c.Request.Context(), &cs[i])
		if err != nil {
			common.FailErr(c, err)
			return
		}
		out = append(out, full)
	}
	common.OK(c, out)
}

func (h *Handler) GetMyCouple(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	cp, err := h.Couples.GetMyActiveCouple(c.Request.Context(), uid)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	h.respondCouple(c, http.StatusOK, cp)
}

func (h *Handler) GetCouple(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cp, err := h.Couples.GetCouple(c.Request.Context(), id, uid)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	h.respondCouple(c, http.StatusOK, cp)
}

func (h *Handler) DeactivateCouple(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Couples.Deactivate(c.Request.Context(), id, uid); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": "couple deactivated"})
}
