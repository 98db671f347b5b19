// Package httpface exposes the kernel's control surface as a REST API.
// It is a thin consumer of the same ten methods controlsocket serves
// over WebSocket, laid out as a SetupRoutes/Handlers pair with echo-jwt
// for bearer-token auth, since this façade has no state of its own
// beyond the kernel facade.
package httpface

import (
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/controlsocket"
)

// NewEcho builds an *echo.Echo with the standard middleware stack
// (request logging, panic recovery, CORS) and the control-surface
// routes registered under /v1/control.
//
// signingKey gates the protected group with a JWT bearer token, matching
// the `Authorization: Bearer <token>` convention controlsocket's own
// auth.go uses; pass nil to run unauthenticated (local trusted use only).
func NewEcho(h *Handlers, signingKey []byte) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", h.Healthz)

	group := e.Group("/v1/control")
	if signingKey != nil {
		group.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:  signingKey,
			TokenLookup: "header:Authorization:Bearer ",
		}))
	}

	group.GET("/reducer-state/:name", h.GetReducerState)
	group.GET("/cells", h.ListCells)
	group.GET("/journal/head", h.GetJournalHead)
	group.GET("/manifest", h.GetManifest)
	group.POST("/proposals", h.SubmitProposal)
	group.POST("/proposals/:id/shadow", h.RunShadow)
	group.POST("/proposals/:id/approve", h.ApproveProposal)
	group.POST("/proposals/:id/apply", h.ApplyProposal)
	group.POST("/snapshots", h.CreateSnapshot)
	group.POST("/tick", h.Tick)

	return e
}

// Handlers holds the service dependencies for the control-surface
// routes: just the kernel facade, trimmed to this façade's single
// dependency.
type Handlers struct {
	Kernel controlsocket.KernelFacade
	log    *logrus.Entry
}

// NewHandlers builds Handlers over k.
func NewHandlers(k controlsocket.KernelFacade, log *logrus.Entry) *Handlers {
	return &Handlers{Kernel: k, log: log.WithField("component", "httpface")}
}

// Healthz is the unauthenticated liveness endpoint: a plain 200 OK,
// no auth required, for load balancer and orchestrator health checks.
func (h *Handlers) Healthz(c echo.Context) error {
	return c.String(200, "OK")
}
