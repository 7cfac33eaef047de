package payments

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/projects"
	"github.com/assignx/assignx-backend/pkg/config"
	"github.com/assignx/assignx-backend/pkg/models"
	"github.com/assignx/assignx-backend/pkg/validation"
)

// Handler receives payment confirmations from the gateway collaborator.
// The collaborator is trusted infrastructure, not an end user, so the
// endpoint authenticates with a shared secret header instead of a JWT.
type Handler struct {
	db     *gorm.DB
	cfg    *config.Config
	engine *projects.Engine
}

func NewHandler(db *gorm.DB, cfg *config.Config, engine *projects.Engine) *Handler {
	return &Handler{db: db, cfg: cfg, engine: engine}
}

func (h *Handler) checkSecret(c *fiber.Ctx, want string) error {
	if want == "" {
		return fiber.ErrNotFound
	}
	got := c.Get("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return fiber.ErrUnauthorized
	}
	return nil
}

/* ======================= POST /payments/confirm ========================= */

type ConfirmRequest struct {
	ProjectID            string `json:"project_id" validate:"required,uuid"`
	ConfirmedAmountCents int64  `json:"confirmed_amount_cents" validate:"required,gt=0"`
	Reference            string `json:"reference" validate:"required,max=100"`
	Source               string `json:"source" validate:"omitempty,oneof=gateway wallet"`
}

// @Summary      Confirm payment
// @Description  Gateway callback; moves the project to paid and holds the funds
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        X-Webhook-Secret  header  string          true  "shared secret"
// @Param        payload           body    ConfirmRequest  true  "Confirmation payload"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "amount mismatch or invalid state"
// @Router       /payments/confirm [post]
func (h *Handler) Confirm(c *fiber.Ctx) error {
	if err := h.checkSecret(c, h.cfg.PaymentWebhookSecret); err != nil {
		return err
	}

	var in ConfirmRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	projectID, err := uuid.Parse(in.ProjectID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid project_id")
	}

	source := projects.SourceGateway
	if in.Source == string(projects.SourceWallet) {
		source = projects.SourceWallet
	}

	// The gateway retries on timeout. A retry after a committed confirm
	// arrives at status paid and fails the transition guard; answer 200 so
	// the gateway stops retrying.
	p, err := h.engine.Apply(c.Context(), projectID, projects.EventPaymentConfirmed, projects.Action{
		ActorID:              projectActor(h.db, projectID),
		ConfirmedAmountCents: in.ConfirmedAmountCents,
		PaymentReference:     strings.TrimSpace(in.Reference),
		Source:               source,
	})
	if err != nil {
		switch {
		case errors.Is(err, projects.ErrProjectNotFound):
			return fiber.ErrNotFound
		case errors.Is(err, projects.ErrPaymentAmountMismatch):
			return fiber.NewError(fiber.StatusConflict, "confirmed amount does not match quote")
		case errors.Is(err, projects.ErrInvalidStateTransition):
			if alreadyPaid(h.db, projectID) {
				return c.JSON(fiber.Map{"status": "already_confirmed"})
			}
			return fiber.NewError(fiber.StatusConflict, "project is not awaiting payment")
		case errors.Is(err, projects.ErrConcurrentModification):
			return fiber.NewError(fiber.StatusConflict, "project changed concurrently; retry")
		default:
			return fiber.ErrInternalServerError
		}
	}
	return c.JSON(fiber.Map{"status": string(p.Status), "version": p.Version})
}

// projectActor resolves the paying client as the actor recorded in history.
func projectActor(db *gorm.DB, projectID uuid.UUID) uuid.UUID {
	var clientID uuid.UUID
	db.Model(&models.Project{}).Where("id = ?", projectID).Pluck("client_id", &clientID)
	return clientID
}

func alreadyPaid(db *gorm.DB, projectID uuid.UUID) bool {
	var status models.ProjectStatus
	db.Model(&models.Project{}).Where("id = ?", projectID).Pluck("status", &status)
	switch status {
	case models.ProjectSubmitted, models.ProjectAnalyzing, models.ProjectQuoted,
		models.ProjectPaymentPending, models.ProjectCancelled:
		return false
	}
	return true
}

/* ==================== POST /admin/auto-approvals/run ==================== */

// @Summary      Run auto-approval sweep
// @Description  Auto-approves delivered projects whose acceptance window elapsed
// @Tags         admin
// @Produce      json
// @Param        X-Admin-Secret  header  string  true  "admin secret"
// @Success      200  {object}  map[string]any
// @Router       /admin/auto-approvals/run [post]
func (h *Handler) RunAutoApprovals(c *fiber.Ctx) error {
	if h.cfg.AdminSecret == "" {
		return fiber.ErrNotFound
	}
	got := c.Get("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.AdminSecret)) != 1 {
		return fiber.ErrUnauthorized
	}

	done, err := h.engine.SweepAutoApprovals(c.Context(), uuid.Nil)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	ids := make([]string, 0, len(done))
	for _, id := range done {
		ids = append(ids, id.String())
	}
	return c.JSON(fiber.Map{"approved": ids, "count": len(ids)})
}
