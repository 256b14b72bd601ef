// Package router wires handlers and middleware into a gin engine.
package router

import (
	"net/http"

	"animehub-be/internal/http/handlers"
	"animehub-be/internal/http/middleware"
	"animehub-be/internal/metrics"
	"animehub-be/internal/models"
	"animehub-be/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Log      *zap.Logger
	Dev      bool
	Sessions *session.Manager

	Auth    *handlers.AuthHandler
	Chat    *handlers.ChatHandler
	Reviews *handlers.ReviewHandler
	Uploads *handlers.UploadHandler
	WS      *handlers.WSHandler

	CORSOrigin string

	// Metrics and Gatherer are optional; /metrics is only mounted when
	// Gatherer is set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

func New(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}
	r.Use(middleware.CORS(d.CORSOrigin), middleware.Errors(d.Dev, d.Log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/uploads/*path", d.Uploads.Serve)
	r.GET("/ws", d.WS.Handle)

	api := r.Group("/api")
	api.POST("/auth/signup", d.Auth.Signup)
	api.POST("/auth/login", d.Auth.Login)
	api.GET("/reviews", d.Reviews.List)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(d.Sessions))

	authed.POST("/auth/logout", d.Auth.Logout)
	authed.GET("/auth/me", d.Auth.Me)
	authed.PUT("/auth/profile", d.Auth.UpdateProfile)
	authed.PUT("/auth/password", d.Auth.ChangePassword)
	authed.POST("/auth/profile-picture", d.Auth.UploadProfilePicture)
	authed.DELETE("/auth/profile-picture", d.Auth.DeleteProfilePicture)
	authed.GET("/users/search", d.Auth.SearchUsers)

	authed.POST("/conversations", d.Chat.CreateDirectConversation)
	authed.GET("/conversations", d.Chat.ListConversations)
	authed.GET("/conversations/:id/messages", d.Chat.ListMessages(models.KindDirect))
	authed.POST("/conversations/:id/messages", d.Chat.SendMessage(models.KindDirect))
	authed.PATCH("/messages/:id/read", d.Chat.MarkRead)
	authed.DELETE("/messages/:id", d.Chat.DeleteMessage)

	authed.POST("/groups", d.Chat.CreateGroup)
	authed.GET("/groups", d.Chat.ListGroups)
	authed.GET("/groups/:id", d.Chat.GetGroup)
	authed.PUT("/groups/:id", d.Chat.UpdateGroup)
	authed.DELETE("/groups/:id", d.Chat.DeleteGroup)
	authed.GET("/groups/:id/messages", d.Chat.ListMessages(models.KindGroup))
	authed.POST("/groups/:id/messages", d.Chat.SendMessage(models.KindGroup))

	authed.GET("/reviews/my", d.Reviews.ListMine)
	authed.POST("/reviews", d.Reviews.Create)
	authed.PUT("/reviews/:id", d.Reviews.Update)
	authed.DELETE("/reviews/:id", d.Reviews.Delete)

	return r
}
