package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/remedystack/remedy-engine/internal/approval"
	"github.com/remedystack/remedy-engine/internal/models"
	"github.com/remedystack/remedy-engine/internal/service"
	"github.com/remedystack/remedy-engine/internal/store"
)

type handlers struct {
	logger     *slog.Logger
	controller *service.Controller
}

func newHandlers(logger *slog.Logger, controller *service.Controller) *handlers {
	return &handlers{logger: logger, controller: controller}
}

func (h *handlers) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"mode":        h.controller.OperatingMode(),
		"kill_switch": h.controller.KillSwitchEngaged(),
	})
}

func (h *handlers) submitAlert(c *fiber.Ctx) error {
	var alert models.Alert
	if err := c.BodyParser(&alert); err != nil {
		return badRequest(c, "invalid alert payload")
	}

	res, err := h.controller.SubmitAlert(c.UserContext(), alert)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAlert) {
			return badRequest(c, err.Error())
		}
		return internalError(c, h.logger, "submit alert", err)
	}

	status := fiber.StatusAccepted
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}

func (h *handlers) alertStatus(c *fiber.Ctx) error {
	status, err := h.controller.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrUnknownAlert) {
			return notFound(c, "alert not found")
		}
		return internalError(c, h.logger, "get status", err)
	}
	return c.JSON(status)
}

func (h *handlers) listApprovals(c *fiber.Ctx) error {
	pending, err := h.controller.PendingApprovals(c.UserContext())
	if err != nil {
		return internalError(c, h.logger, "list approvals", err)
	}
	return c.JSON(fiber.Map{"approvals": pending, "total": len(pending)})
}

type respondRequest struct {
	Approver string      `json:"approver"`
	Vote     models.Vote `json:"vote"`
}

func (h *handlers) respondApproval(c *fiber.Ctx) error {
	var body respondRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid vote payload")
	}
	if body.Approver == "" {
		return badRequest(c, "approver is required")
	}

	req, err := h.controller.RespondApproval(c.UserContext(), c.Params("id"), body.Approver, body.Vote)
	switch {
	case err == nil:
		return c.JSON(req)
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "approval request not found")
	case errors.Is(err, approval.ErrResolved):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "approval request already resolved",
			"request": req,
		})
	case errors.Is(err, approval.ErrNotEligible), errors.Is(err, approval.ErrInvalidVote):
		return badRequest(c, err.Error())
	default:
		return internalError(c, h.logger, "respond approval", err)
	}
}

type cancelRequest struct {
	Operator string `json:"operator"`
}

func (h *handlers) cancelApproval(c *fiber.Ctx) error {
	var body cancelRequest
	if err := c.BodyParser(&body); err != nil || body.Operator == "" {
		return badRequest(c, "operator is required")
	}

	req, err := h.controller.CancelApproval(c.UserContext(), c.Params("id"), body.Operator)
	switch {
	case err == nil:
		return c.JSON(req)
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, "approval request not found")
	case errors.Is(err, approval.ErrResolved):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "approval request already resolved",
			"request": req,
		})
	default:
		return internalError(c, h.logger, "cancel approval", err)
	}
}

func (h *handlers) auditTrail(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	page, err := h.controller.ListAuditTrail(c.UserContext(), models.AuditFilter{
		AlertID: c.Query("alert_id"),
		Kind:    models.AuditKind(c.Query("kind")),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return internalError(c, h.logger, "list audit trail", err)
	}
	return c.JSON(page)
}

func (h *handlers) statistics(c *fiber.Ctx) error {
	stats, err := h.controller.GetStatistics(c.UserContext())
	if err != nil {
		return internalError(c, h.logger, "get statistics", err)
	}
	return c.JSON(stats)
}

func (h *handlers) getMode(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"mode": h.controller.OperatingMode()})
}

type modeRequest struct {
	Mode models.OperatingMode `json:"mode"`
}

func (h *handlers) setMode(c *fiber.Ctx) error {
	var body modeRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid mode payload")
	}
	if err := h.controller.SetOperatingMode(body.Mode); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(fiber.Map{"mode": body.Mode})
}

func (h *handlers) killSwitchState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"engaged": h.controller.KillSwitchEngaged()})
}

type killSwitchRequest struct {
	Operator string `json:"operator"`
}

func (h *handlers) engageKillSwitch(c *fiber.Ctx) error {
	var body killSwitchRequest
	if err := c.BodyParser(&body); err != nil || body.Operator == "" {
		return badRequest(c, "operator is required")
	}
	if err := h.controller.EngageKillSwitch(c.UserContext(), body.Operator); err != nil {
		return internalError(c, h.logger, "engage kill switch", err)
	}
	return c.JSON(fiber.Map{"engaged": true})
}

func (h *handlers) disengageKillSwitch(c *fiber.Ctx) error {
	var body killSwitchRequest
	if err := c.BodyParser(&body); err != nil || body.Operator == "" {
		return badRequest(c, "operator is required")
	}
	if err := h.controller.DisengageKillSwitch(c.UserContext(), body.Operator); err != nil {
		return internalError(c, h.logger, "disengage kill switch", err)
	}
	return c.JSON(fiber.Map{"engaged": false})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": msg})
}

func internalError(c *fiber.Ctx, logger *slog.Logger, op string, err error) error {
	logger.Error("request failed", slog.String("op", op), slog.String("error", err.Error()))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
