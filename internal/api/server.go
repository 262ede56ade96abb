// Package api exposes the controller over HTTP.
package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/remedystack/remedy-engine/internal/config"
	"github.com/remedystack/remedy-engine/internal/service"
)

// Server wraps the Fiber app and its lifecycle.
type Server struct {
	cfg config.ServerConfig
	app *fiber.App
}

// NewServer builds the app and mounts all routes.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, controller *service.Controller) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "remedy-engine",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())

	h := newHandlers(logger, controller)

	app.Get("/health", h.health)

	v1 := app.Group("/api/v1")
	v1.Post("/alerts", h.submitAlert)
	v1.Get("/alerts/:id", h.alertStatus)
	v1.Get("/approvals", h.listApprovals)
	v1.Post("/approvals/:id/respond", h.respondApproval)
	v1.Post("/approvals/:id/cancel", h.cancelApproval)
	v1.Get("/audit", h.auditTrail)
	v1.Get("/statistics", h.statistics)
	v1.Get("/mode", h.getMode)
	v1.Put("/mode", h.setMode)
	v1.Get("/killswitch", h.killSwitchState)
	v1.Post("/killswitch/engage", h.engageKillSwitch)
	v1.Post("/killswitch/disengage", h.disengageKillSwitch)

	return &Server{cfg: cfg, app: app}
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	err := s.app.Listen(s.cfg.Address)
	if err != nil && !errors.Is(err, fiber.ErrServiceUnavailable) {
		return err
	}
	return nil
}

// Shutdown drains connections within the graceful timeout.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(s.cfg.GracefulTimeout)
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
