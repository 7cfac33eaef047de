package assignments

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/auth"
	"github.com/assignx/assignx-backend/pkg/models"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* ======================= POST /doers/availability ======================= */

type availabilityReq struct {
	Available bool `json:"available"`
}

// @Summary      Set availability
// @Description  Doer toggles whether they can receive new assignments
// @Tags         doers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /doers/availability [post]
func (h *Handler) SetAvailability(c *fiber.Ctx) error {
	doerID := auth.MustUserID(c)

	var in availabilityReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	updates := map[string]any{"available": in.Available}
	if in.Available {
		updates["last_available_at"] = time.Now()
	}
	if err := h.db.Model(&models.User{}).
		Where("id = ? AND role = ?", doerID, models.RoleDoer).
		Updates(updates).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"available": in.Available})
}

/* ========================= POST /blacklist ============================== */

type blacklistReq struct {
	DoerID string `json:"doer_id"`
	Reason string `json:"reason"`
}

// @Summary      Blacklist a doer
// @Description  Supervisor blocks a doer from receiving their assignments
// @Tags         doers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Router       /blacklist [post]
func (h *Handler) AddBlacklist(c *fiber.Ctx) error {
	supervisorID, _ := uuid.Parse(auth.MustUserID(c))

	var in blacklistReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	doerID, err := uuid.Parse(strings.TrimSpace(in.DoerID))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid doer_id")
	}

	var cnt int64
	if err := h.db.Model(&models.User{}).
		Where("id = ? AND role = ?", doerID, models.RoleDoer).
		Count(&cnt).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cnt == 0 {
		return fiber.ErrNotFound
	}

	entry := models.Blacklist{
		SupervisorID: supervisorID,
		DoerID:       doerID,
		Reason:       strings.TrimSpace(in.Reason),
		CreatedAt:    time.Now(),
	}
	if err := h.db.Create(&entry).Error; err != nil {
		// unique index: already blacklisted is fine
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"blacklisted": true})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"blacklisted": true})
}

/* ======================== DELETE /blacklist/:doerID ===================== */

// @Summary      Remove doer from blacklist
// @Tags         doers
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /blacklist/{doerID} [delete]
func (h *Handler) RemoveBlacklist(c *fiber.Ctx) error {
	supervisorID, _ := uuid.Parse(auth.MustUserID(c))
	doerID, err := uuid.Parse(c.Params("doerID"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid doer id")
	}
	if err := h.db.Where("supervisor_id = ? AND doer_id = ?", supervisorID, doerID).
		Delete(&models.Blacklist{}).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"blacklisted": false})
}
