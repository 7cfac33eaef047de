package wallet

import (
	"errors"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/auth"
	"github.com/assignx/assignx-backend/pkg/models"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return
}

// translate maps wallet sentinel errors onto HTTP errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWalletNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(fiber.StatusBadRequest, "amount must be positive")
	case errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(fiber.StatusConflict, "insufficient balance")
	case errors.Is(err, ErrInvalidHoldState):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid hold state; needs manual reconciliation")
	default:
		return fiber.ErrInternalServerError
	}
}

/* ============================ GET /wallet =============================== */

type WalletResponse struct {
	ID                  uuid.UUID `json:"id"`
	AvailableCents      int64     `json:"available_cents"`
	HeldCents           int64     `json:"held_cents"`
	TotalCreditedCents  int64     `json:"total_credited_cents"`
	TotalDebitedCents   int64     `json:"total_debited_cents"`
	TotalWithdrawnCents int64     `json:"total_withdrawn_cents"`
}

// @Summary      My wallet
// @Description  Balances for the authenticated user's wallet
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  WalletResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /wallet [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	ownerID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return fiber.ErrBadRequest
	}
	w, err := ForOwner(h.db, ownerID)
	if err != nil {
		return translate(err)
	}
	return c.JSON(WalletResponse{
		ID:                  w.ID,
		AvailableCents:      w.AvailableCents,
		HeldCents:           w.HeldCents,
		TotalCreditedCents:  w.TotalCreditedCents,
		TotalDebitedCents:   w.TotalDebitedCents,
		TotalWithdrawnCents: w.TotalWithdrawnCents,
	})
}

/* ========================= GET /wallet/ledger =========================== */

type ledgerItem struct {
	ID          uuid.UUID         `json:"id"`
	AmountCents int64             `json:"amount_cents"`
	Kind        models.LedgerKind `json:"kind"`
	Reference   string            `json:"reference"`
	CreatedAt   time.Time         `json:"created_at"`
}

// @Summary      My ledger
// @Description  Append-only money movement history for the authenticated user's wallet
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /wallet/ledger [get]
func (h *Handler) Ledger(c *fiber.Ctx) error {
	ownerID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return fiber.ErrBadRequest
	}
	w, err := ForOwner(h.db, ownerID)
	if err != nil {
		return translate(err)
	}

	page, size := parsePage(c)
	q := h.db.Model(&models.LedgerEntry{}).Where("wallet_id = ?", w.ID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []ledgerItem
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []ledgerItem{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

/* ========================= POST /wallet/topup =========================== */

type topupReq struct {
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

// @Summary      Top up (mock gateway)
// @Description  Credits the caller's wallet; only enabled with the mock payment provider
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Success      200  {object}  WalletResponse
// @Failure      400  {object}  models.ErrorResponse
// @Router       /wallet/topup [post]
func (h *Handler) Topup(c *fiber.Ctx) error {
	if os.Getenv("PAYMENT_PROVIDER") != "mock" {
		return fiber.ErrNotFound
	}
	ownerID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return fiber.ErrBadRequest
	}
	var in topupReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if in.Reference == "" {
		in.Reference = "topup:" + uuid.NewString()
	}

	w, err := ForOwner(h.db, ownerID)
	if err != nil {
		return translate(err)
	}
	if err := h.db.Transaction(func(tx *gorm.DB) error {
		return Credit(tx, w.ID, in.AmountCents, in.Reference)
	}); err != nil {
		return translate(err)
	}
	return h.Get(c)
}

/* ======================== POST /wallet/withdraw ========================= */

type withdrawReq struct {
	AmountCents int64 `json:"amount_cents"`
}

// @Summary      Withdraw
// @Description  Debits available balance as a payout request
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Success      200  {object}  WalletResponse
// @Failure      409  {object}  models.ErrorResponse  "insufficient balance"
// @Router       /wallet/withdraw [post]
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	ownerID, err := uuid.Parse(auth.MustUserID(c))
	if err != nil {
		return fiber.ErrBadRequest
	}
	var in withdrawReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}

	w, err := ForOwner(h.db, ownerID)
	if err != nil {
		return translate(err)
	}
	ref := "withdraw:" + uuid.NewString()
	if err := h.db.Transaction(func(tx *gorm.DB) error {
		return Debit(tx, w.ID, in.AmountCents, ref)
	}); err != nil {
		return translate(err)
	}
	return h.Get(c)
}
