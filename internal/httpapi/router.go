package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
)

type AuthDeps struct {
	Verifier middleware.TokenVerifier
	Resolver middleware.IdentityResolver
	Revoked  middleware.RevocationChecker
}

func NewRouter(h *handlers.Handler, a AuthDeps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(logger.Middleware())
	r.Use(metrics.Middleware())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/users/check-email", h.CheckEmail)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(a.Verifier, a.Resolver, a.Revoked))

	authGroup.GET("/auth/me", h.Me)
	authGroup.POST("/auth/logout", h.Logout)

	authGroup.GET("/users/", h.ListUsers)
	authGroup.GET("/users/user-details", h.UserDetails)
	authGroup.GET("/users/search/by-username/:username", h.GetUserByUsername)
	authGroup.GET("/users/search/by-email/:email", h.GetUserByEmail)
	authGroup.GET("/users/:id", h.GetUserByID)
	authGroup.PUT("/users/:id", h.UpdateUser)
	authGroup.DELETE("/users/:id", h.DeleteUser)
	authGroup.POST("/users/:id/partner/:partner_id", h.LinkPartner)
	authGroup.DELETE("/users/:id/partner", h.UnlinkPartner)

	authGroup.POST("/couples", h.CreateCouple)
	authGroup.GET("/couples", h.ListMyCouples)
	authGroup.GET("/couples/my-couple", h.GetMyCouple)
	authGroup.GET("/couples/:id", h.GetCouple)
	authGroup.DELETE("/couples/:id", h.DeactivateCouple)

	authGroup.POST("/sessions/create-session", h.CreateSession)
	authGroup.POST("/sessions/join-session", h.JoinSession)
	authGroup.GET("/sessions/get-session", h.GetMySession)
	authGroup.POST("/sessions/leave-session", h.LeaveSession)
	authGroup.POST("/sessions/complete-session", h.CompleteSession)

	authGroup.POST("/messages", h.SendMessage)
	authGroup.GET("/messages", h.ListMessages)
	return r
}
