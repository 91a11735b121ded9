package handlers

import (
	"context"
	"errors"
	"time"

	"challenge-tasks/middleware"
	"challenge-tasks/models"
	"challenge-tasks/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// NotificationLister reads a user's notification feed.
type NotificationLister interface {
	List(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type AdminHandler struct {
	Trigger       *services.Trigger
	Runner        *services.Runner
	Wallets       *services.WalletService
	Stats         *services.StatsService
	Notifications NotificationLister
	Checks        map[string]HealthCheck
	Logger        zerolog.Logger
}

// SetupAdminRoutes mounts the operator API. Everything but /healthz needs the
// gateway token; triggering a run also needs the admin role.
func SetupAdminRoutes(app *fiber.App, h *AdminHandler, gatewayToken string, registry *prometheus.Registry) {
	app.Get("/healthz", h.Health)

	secured := app.Group("/", middleware.GatewayAuthMiddleware(gatewayToken, h.Logger), middleware.OperatorContextMiddleware())
	secured.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	secured.Get("/runs/latest", h.LatestRun)
	secured.Get("/runs/plan", h.Plan)
	secured.Post("/runs", middleware.RequireRole(models.UserTypeAdmin, h.Logger), h.TriggerRun)

	secured.Get("/wallets/:id", h.GetWallet)
	secured.Get("/stats/:subject/:id", h.GetStats)
	secured.Get("/notifications/:userId", h.ListNotifications)
}

func (h *AdminHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.Map{}
	healthy := true
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			healthy = false
			status[name] = err.Error()
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": status})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": status})
}

func (h *AdminHandler) LatestRun(c *fiber.Ctx) error {
	run, err := h.Trigger.LatestRun(c.UserContext())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No runs recorded yet"})
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to load latest run")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load latest run"})
	}
	return c.JSON(run)
}

type plannedTask struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	After   []string `json:"after,omitempty"`
}

func (h *AdminHandler) Plan(c *fiber.Ctx) error {
	plan, err := h.Runner.Plan()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	out := make([]plannedTask, 0, len(plan))
	for _, t := range plan {
		out = append(out, plannedTask{Name: t.Name, Enabled: t.Enabled, After: t.After})
	}
	return c.JSON(fiber.Map{"tasks": out})
}

// TriggerRun runs the midnight tasks now and waits for the result.
func (h *AdminHandler) TriggerRun(c *fiber.Ctx) error {
	operator, _ := c.Locals("user_id").(string)
	h.Logger.Info().Str("operator", operator).Msg("manual run requested")

	run, err := h.Trigger.Fire(c.UserContext(), models.TriggerManual)
	if err != nil {
		if run == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "run": run})
	}
	return c.JSON(run)
}

func (h *AdminHandler) GetWallet(c *fiber.Ctx) error {
	wallet, err := h.Wallets.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("wallet_id", c.Params("id")).Msg("failed to load wallet")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load wallet"})
	}
	return c.JSON(wallet)
}

func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	subject := models.StatSubject(c.Params("subject"))
	switch subject {
	case models.StatSubjectGlobal, models.StatSubjectUser, models.StatSubjectOrganization:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown stats subject"})
	}
	doc, err := h.Stats.Get(c.UserContext(), subject, c.Params("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Stats not found"})
	}
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to load stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load stats"})
	}
	return c.JSON(doc)
}

func (h *AdminHandler) ListNotifications(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	items, err := h.Notifications.List(c.UserContext(), c.Params("userId"), limit)
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to list notifications")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list notifications"})
	}
	return c.JSON(fiber.Map{"notifications": items})
}
