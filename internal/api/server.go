// Package api exposes the webhook endpoint and the read-only dashboard.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Server is the HTTP front of the service.
type Server struct {
	echo *echo.Echo
	port int
}

// NewServer wires routes and middleware.
func NewServer(port int, webhook *WebhookHandler, dashboard *DashboardHandler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, port: port}
	s.setupRoutes(webhook, dashboard)
	return s
}

func (s *Server) setupRoutes(webhook *WebhookHandler, dashboard *DashboardHandler) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.POST("/webhook", webhook.Handle)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/conversations", dashboard.listConversations)
	v1.GET("/conversations/:id/messages", dashboard.listMessages)
	v1.GET("/conversations/:id/actions", dashboard.listActions)
	v1.GET("/stats", dashboard.stats)
}

// Start serves until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()
	log.Info().Int("port", s.port).Msg("server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
