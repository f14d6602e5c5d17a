package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/couples-chat/internal/users"
)

func (h *Handler) CheckEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		common.Fail(c, http.StatusBadRequest, 40001, "email is required")
		return
	}
	exists, err := h.Users.EmailExists(c.Request.Context(), email)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"email": email, "exists": exists})
}

func (h *Handler) ListUsers(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	out, err := h.Users.List(c.Request.Context(), skip, limit)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, out)
}

func (h *Handler) UserDetails(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	common.OK(c, u)
}

func (h *Handler) GetUserByID(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.Users.Get(c.Request.Context(), id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) GetUserByUsername(c *gin.Context) {
	u, err := h.Users.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) GetUserByEmail(c *gin.Context) {
	u, err := h.Users.GetByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, u)
}

type updateUserReq struct {
	Email              *string `json:"email" binding:"omitempty,email"`
	Username           *string `json:"username" binding:"omitempty,min=3,max=50"`
	FirstName          *string `json:"first_name" binding:"omitempty,max=100"`
	LastName           *string `json:"last_name" binding:"omitempty,max=100"`
	PhoneNumber        *string `json:"phone_number"`
	DateOfBirth        *string `json:"date_of_birth"`
	Gender             *string `json:"gender"`
	RelationshipStatus *string `json:"relationship_status"`
}

func (h *Handler) UpdateUser(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req updateUserReq
	if !bindJSON(c, &req) {
		return
	}
	dob, ok := parseDate(req.DateOfBirth)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 40001, "date_of_birth must be YYYY-MM-DD")
		return
	}

	u, err := h.Users.Update(c.Request.Context(), uid, id, users.Patch{
		Email:              req.Email,
		Username:           req.Username,
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		PhoneNumber:        req.PhoneNumber,
		DateOfBirth:        dob,
		Gender:             req.Gender,
		RelationshipStatus: req.RelationshipStatus,
	})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Users.Deactivate(c.Request.Context(), uid, id); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": "user deactivated"})
}

func (h *Handler) LinkPartner(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	partnerID, ok := idParam(c, "partner_id")
	if !ok {
		return
	}
	u, p, err := h.Users.LinkPartner(c.Request.Context(), uid, id, partnerID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"user": u, "partner": p})
}

func (h *Handler) UnlinkPartner(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.Users.UnlinkPartner(c.Request.Context(), uid, id)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, u)
}
