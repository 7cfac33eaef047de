package projects

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/assignments"
	"github.com/assignx/assignx-backend/internal/revisions"
	"github.com/assignx/assignx-backend/internal/wallet"
	"github.com/assignx/assignx-backend/pkg/models"
	"github.com/assignx/assignx-backend/pkg/sanitize"
	"github.com/assignx/assignx-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	engine *Engine
}

func NewHandler(db *gorm.DB, engine *Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// translate maps core sentinel errors onto HTTP errors; the core itself
// never decides presentation.
func translate(err error) error {
	var el *assignments.EligibilityError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrProjectNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, ErrInvalidStateTransition):
		return fiber.NewError(fiber.StatusConflict, "invalid state transition")
	case errors.Is(err, ErrConcurrentModification):
		return fiber.NewError(fiber.StatusConflict, "project changed concurrently; re-read and retry")
	case errors.Is(err, ErrRevisionLimitExceeded):
		return fiber.NewError(fiber.StatusConflict, "revision limit exceeded; escalate manually")
	case errors.Is(err, ErrPaymentAmountMismatch):
		return fiber.NewError(fiber.StatusConflict, "confirmed amount does not match quote")
	case errors.Is(err, ErrNoActiveQuote):
		return fiber.NewError(fiber.StatusConflict, "project has no active quote")
	case errors.As(err, &el):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "doer not eligible: "+string(el.Reason))
	case errors.Is(err, assignments.ErrNoEligibleDoer):
		return fiber.NewError(fiber.StatusConflict, "no eligible doer available")
	case errors.Is(err, revisions.ErrRevisionAlreadyOpen):
		return fiber.NewError(fiber.StatusConflict, "revision already open")
	case errors.Is(err, revisions.ErrNoOpenRevision):
		return fiber.NewError(fiber.StatusConflict, "no open revision")
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return fiber.NewError(fiber.StatusConflict, "insufficient balance")
	case errors.Is(err, wallet.ErrInvalidHoldState):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "invalid hold state; needs manual reconciliation")
	default:
		return fiber.ErrInternalServerError
	}
}

// newProjectNumber builds the human-readable project number. Uniqueness is
// backed by the index; the fragment makes collisions vanishingly rare.
func newProjectNumber() string {
	return fmt.Sprintf("AX-%d-%s", time.Now().Year(), strings.ToUpper(uuid.NewString()[:8]))
}

/* ============================ POST /projects ============================ */

type CreateProjectRequest struct {
	Title       string `json:"title" validate:"required,max=140"`
	Subject     string `json:"subject" validate:"required,subject"`
	Description string `json:"description" validate:"max=4000"`
	WordCount   int    `json:"word_count" validate:"omitempty,gte=1,lte=200000"`
	PageCount   int    `json:"page_count" validate:"omitempty,gte=1,lte=500"`
	UrgencyTier string `json:"urgency_tier" validate:"omitempty,urgency"`
	Deadline    string `json:"deadline" validate:"required"` // RFC 3339
}

// @Summary      Submit project
// @Description  Client submits a new work request
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateProjectRequest  true  "Project payload"
// @Success      201  {object}  map[string]string
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /projects [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateProjectRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}
	if (in.WordCount > 0) == (in.PageCount > 0) {
		return fiber.NewError(fiber.StatusBadRequest, "exactly one of word_count or page_count is required")
	}
	deadline, err := time.Parse(time.RFC3339, in.Deadline)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "deadline must be RFC 3339")
	}

	tier := models.UrgencyTier(in.UrgencyTier)
	if tier == "" {
		tier = models.UrgencyStandard
	}

	clientID, _ := uuid.Parse(c.Locals("userID").(string))
	p := models.Project{
		Number:      newProjectNumber(),
		ClientID:    clientID,
		Title:       strings.TrimSpace(in.Title),
		Subject:     strings.TrimSpace(in.Subject),
		Description: strings.TrimSpace(in.Description),
		WordCount:   in.WordCount,
		PageCount:   in.PageCount,
		UrgencyTier: tier,
		Deadline:    deadline,
		Status:      models.ProjectSubmitted,
	}
	if err := h.db.Create(&p).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": p.ID, "number": p.Number})
}

/* ========================= GET /projects/mine =========================== */

type projectListItem struct {
	ID        uuid.UUID            `json:"id"`
	Number    string               `json:"number"`
	Title     string               `json:"title"`
	Subject   string               `json:"subject"`
	Status    models.ProjectStatus `json:"status"`
	Deadline  time.Time            `json:"deadline"`
	CreatedAt time.Time            `json:"created_at"`
}

// @Summary      List my projects
// @Description  Client lists their own projects (paginated)
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /projects/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	clientID := c.Locals("userID")
	page, size := parsePage(c)

	q := h.db.Model(&models.Project{}).Where("client_id = ?", clientID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []projectListItem
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []projectListItem{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

/* ======================= GET /projects/assigned ========================= */

// @Summary      List my assigned projects
// @Description  Doer lists projects currently bound to them
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /projects/assigned [get]
func (h *Handler) ListAssigned(c *fiber.Ctx) error {
	doerID := c.Locals("userID")
	page, size := parsePage(c)

	q := h.db.Model(&models.Project{}).Where("doer_id = ?", doerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	var rows []projectListItem
	if err := q.Order("deadline ASC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []projectListItem{}
	}
	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

/* ========================= GET /projects/:id ============================ */

// @Summary      Project detail
// @Description  Detail with quotes and revisions; clients see only their own projects
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "project id (uuid)"
// @Success      200  {object}  models.Project
// @Failure      404  {object}  models.ErrorResponse
// @Router       /projects/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	role := c.Locals("role").(string)
	id := c.Params("id")

	q := h.db.Where("id = ?", id)
	switch models.Role(role) {
	case models.RoleClient:
		q = q.Where("client_id = ?", userID)
	case models.RoleDoer:
		q = q.Where("doer_id = ?", userID)
	case models.RoleSupervisor, models.RoleAdmin:
		// supervisors see the whole queue
	default:
		return fiber.ErrForbidden
	}

	var p models.Project
	err := q.
		Preload("Quotes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC") }).
		Preload("Revisions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if p.Quotes == nil {
		p.Quotes = []models.Quote{}
	}
	if p.Revisions == nil {
		p.Revisions = []models.Revision{}
	}
	// Doers get the brief without client contact details.
	if models.Role(role) == models.RoleDoer {
		p.Description = sanitize.RedactPII(p.Description)
	}
	return c.JSON(p)
}

/* ============================ GET /queue ================================ */

type QueueItem struct {
	ID        uuid.UUID            `json:"id"`
	Number    string               `json:"number"`
	Title     string               `json:"title"`
	Subject   string               `json:"subject"`
	Status    models.ProjectStatus `json:"status"`
	Deadline  time.Time            `json:"deadline"`
	CreatedAt time.Time            `json:"created_at"`
	Preview   string               `json:"preview"`
}

// @Summary      Supervisor queue (anonymized)
// @Description  Unclaimed submissions plus the supervisor's own claimed projects; briefs are PII-redacted
// @Tags         queue
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        subject   query string false "subject"
// @Param        status    query string false "status"
// @Success      200  {object}  map[string]any
// @Router       /queue [get]
func (h *Handler) Queue(c *fiber.Ctx) error {
	supervisorID := c.Locals("userID")
	page, size := parsePage(c)
	subject := strings.TrimSpace(c.Query("subject"))
	status := strings.TrimSpace(c.Query("status"))

	dbq := h.db.Model(&models.Project{}).
		Where("supervisor_id IS NULL OR supervisor_id = ?", supervisorID)
	if subject != "" {
		dbq = dbq.Where("subject = ?", subject)
	}
	if status != "" {
		dbq = dbq.Where("status = ?", status)
	} else {
		dbq = dbq.Where("status NOT IN ?", []models.ProjectStatus{
			models.ProjectCompleted, models.ProjectAutoApproved, models.ProjectCancelled,
		})
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Project
	if err := dbq.Order("created_at ASC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]QueueItem, 0, len(list))
	for _, p := range list {
		items = append(items, QueueItem{
			ID:        p.ID,
			Number:    p.Number,
			Title:     p.Title,
			Subject:   p.Subject,
			Status:    p.Status,
			Deadline:  p.Deadline,
			CreatedAt: p.CreatedAt,
			Preview:   sanitize.Summary(sanitize.RedactPII(p.Description), 240),
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

/* ===================== transition helper plumbing ======================= */

// loadForActor loads a project and checks the acting party is attached to it
// in the given role. Business-state guards stay in the engine; this is only
// the ownership check the authorization boundary expects.
func (h *Handler) loadForActor(c *fiber.Ctx, role models.Role) (*models.Project, uuid.UUID, error) {
	actorID, err := uuid.Parse(c.Locals("userID").(string))
	if err != nil {
		return nil, uuid.Nil, fiber.ErrBadRequest
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid project id")
	}

	var p models.Project
	if err := h.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, fiber.ErrNotFound
		}
		return nil, uuid.Nil, fiber.ErrInternalServerError
	}

	switch role {
	case models.RoleClient:
		if p.ClientID != actorID {
			return nil, uuid.Nil, fiber.ErrForbidden
		}
	case models.RoleDoer:
		if p.DoerID == nil || *p.DoerID != actorID {
			return nil, uuid.Nil, fiber.ErrForbidden
		}
	case models.RoleSupervisor:
		// Claiming is open; once claimed, only the claiming supervisor acts.
		if p.SupervisorID != nil && *p.SupervisorID != actorID {
			return nil, uuid.Nil, fiber.ErrForbidden
		}
	}
	return &p, actorID, nil
}

func (h *Handler) apply(c *fiber.Ctx, p *models.Project, ev Event, act Action) error {
	v := p.Version
	act.ExpectedVersion = &v
	out, err := h.engine.Apply(c.Context(), p.ID, ev, act)
	if err != nil {
		return translate(err)
	}
	return c.JSON(fiber.Map{
		"id": out.ID, "number": out.Number, "status": out.Status, "version": out.Version,
	})
}

/* ===================== supervisor transitions =========================== */

// @Summary      Claim project
// @Description  Supervisor claims a submission for analysis
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /projects/{id}/claim [post]
func (h *Handler) Claim(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventAnalyze, Action{ActorID: actorID})
}

// @Summary      Quote project
// @Description  Prices the project from its size and urgency using configured rates
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /projects/{id}/quote [post]
func (h *Handler) Quote(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventQuote, Action{ActorID: actorID})
}

// @Summary      Request payment
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/request-payment [post]
func (h *Handler) RequestPayment(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventRequestPayment, Action{ActorID: actorID})
}

type assignReq struct {
	DoerID string `json:"doer_id"` // optional; empty selects automatically
}

// @Summary      Assign doer
// @Description  Binds a doer to a paid project; omit doer_id for automatic selection
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Failure      422  {object}  models.ErrorResponse  "doer not eligible"
// @Router       /projects/{id}/assign [post]
func (h *Handler) Assign(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	var in assignReq
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid json")
		}
	}
	act := Action{ActorID: actorID}
	if s := strings.TrimSpace(in.DoerID); s != "" {
		doerID, err := uuid.Parse(s)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid doer_id")
		}
		act.CandidateDoerID = &doerID
	}
	return h.apply(c, p, EventAssign, act)
}

type qcReq struct {
	Approve  bool   `json:"approve"`
	Feedback string `json:"feedback"`
}

// @Summary      QC review
// @Description  Approve moves the work to qc_approved; reject opens a revision cycle
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "revision limit exceeded"
// @Router       /projects/{id}/qc [post]
func (h *Handler) QC(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	var in qcReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if in.Approve {
		return h.apply(c, p, EventQCApprove, Action{ActorID: actorID})
	}
	if strings.TrimSpace(in.Feedback) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "feedback is required to reject")
	}
	return h.apply(c, p, EventQCReject, Action{ActorID: actorID, Feedback: strings.TrimSpace(in.Feedback)})
}

// @Summary      Deliver
// @Description  Releases QC-approved work to the client
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/deliver [post]
func (h *Handler) Deliver(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleSupervisor)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventDeliver, Action{ActorID: actorID})
}

/* ========================= doer transitions ============================= */

// @Summary      Start work
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/start [post]
func (h *Handler) StartWork(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleDoer)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventStartWork, Action{ActorID: actorID})
}

// @Summary      Submit work for QC
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/submit [post]
func (h *Handler) SubmitWork(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleDoer)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventSubmitWork, Action{ActorID: actorID})
}

// @Summary      Resubmit after revision
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/resubmit [post]
func (h *Handler) Resubmit(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleDoer)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventResubmit, Action{ActorID: actorID})
}

/* ======================== client transitions ============================ */

// @Summary      Accept delivery
// @Description  Completes the project and settles the hold into payouts
// @Tags         projects
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Router       /projects/{id}/accept [post]
func (h *Handler) Accept(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleClient)
	if err != nil {
		return err
	}
	return h.apply(c, p, EventClientAccept, Action{ActorID: actorID})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// @Summary      Cancel project
// @Description  Valid before assignment only; refunds any payment hold
// @Tags         projects
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id  path  string  true  "project id"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse
// @Router       /projects/{id}/cancel [post]
func (h *Handler) Cancel(c *fiber.Ctx) error {
	p, actorID, err := h.loadForActor(c, models.RoleClient)
	if err != nil {
		return err
	}
	var in cancelReq
	if len(c.Body()) > 0 {
		_ = c.BodyParser(&in)
	}
	return h.apply(c, p, EventCancel, Action{ActorID: actorID, Reason: strings.TrimSpace(in.Reason)})
}
