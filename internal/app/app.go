// Package app assembles the services and the HTTP engine from their
// backing stores. Both binaries and the end-to-end tests build through it.
package app

import (
	"animehub-be/internal/account"
	"animehub-be/internal/chat"
	"animehub-be/internal/http/handlers"
	"animehub-be/internal/http/router"
	"animehub-be/internal/metrics"
	"animehub-be/internal/review"
	"animehub-be/internal/session"
	"animehub-be/internal/store"
	"animehub-be/internal/upload"
	"animehub-be/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Services struct {
	Sessions *session.Manager
	Uploads  *upload.Store
	Registry *chat.Registry
	Resolver *chat.Resolver
	Messages *chat.MessageService
	Groups   *chat.GroupService
	Accounts *account.Service
	Reviews  *review.Service
}

func NewServices(repo store.Repository, sessions *session.Manager, uploads *upload.Store, log *zap.Logger) *Services {
	reg := chat.NewRegistry(repo, repo)
	res := chat.NewResolver(repo, repo, repo, reg, log.Named("chat"))
	return &Services{
		Sessions: sessions,
		Uploads:  uploads,
		Registry: reg,
		Resolver: res,
		Messages: chat.NewMessageService(repo, repo, reg, res, uploads, log.Named("chat")),
		Groups:   chat.NewGroupService(repo, repo, repo, uploads, log.Named("chat")),
		Accounts: account.NewService(repo, sessions, uploads, log.Named("account")),
		Reviews:  review.NewService(repo, uploads, log.Named("review")),
	}
}

type HTTPOptions struct {
	Dev          bool
	CookieSecure bool
	CORSOrigin   string

	WSInsecureSkipVerify bool
	WSOriginPatterns     []string
	WSMessageRPS         float64
	WSMessageBurst       int

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewEngine creates the websocket hub, subscribes it to message and group
// changes and returns the routed engine.
func NewEngine(s *Services, opts HTTPOptions, log *zap.Logger) (*gin.Engine, *ws.Hub, error) {
	if err := handlers.RegisterValidations(); err != nil {
		return nil, nil, err
	}
	hub := ws.NewHub(ws.Options{
		Authorizer:   s.Resolver,
		Sender:       s.Messages,
		Metrics:      opts.Metrics,
		Log:          log.Named("ws"),
		MessageRate:  opts.WSMessageRPS,
		MessageBurst: opts.WSMessageBurst,
	})
	s.Messages.SetPublisher(hub)
	s.Groups.SetPublisher(hub)

	engine := router.New(router.Deps{
		Log:      log.Named("http"),
		Dev:      opts.Dev,
		Sessions: s.Sessions,
		Auth: &handlers.AuthHandler{
			Accounts:     s.Accounts,
			SessionTTL:   s.Sessions.TTL(),
			CookieSecure: opts.CookieSecure,
		},
		Chat:    &handlers.ChatHandler{Resolver: s.Resolver, Messages: s.Messages, Groups: s.Groups},
		Reviews: &handlers.ReviewHandler{Reviews: s.Reviews},
		Uploads: &handlers.UploadHandler{Uploads: s.Uploads},
		WS: &handlers.WSHandler{
			Hub:                hub,
			Sessions:           s.Sessions,
			InsecureSkipVerify: opts.WSInsecureSkipVerify,
			OriginPatterns:     opts.WSOriginPatterns,
		},
		CORSOrigin: opts.CORSOrigin,
		Metrics:    opts.Metrics,
		Gatherer:   opts.Gatherer,
	})
	return engine, hub, nil
}
