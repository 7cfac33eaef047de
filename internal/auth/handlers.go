package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/pkg/models"
	"github.com/assignx/assignx-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /signup
type SignupRequest struct {
	Role     string `json:"role" validate:"required,oneof=client doer supervisor"`
	Name     string `json:"name" validate:"required,min=2,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	// Doer profile
	Subjects              []string `json:"subjects" validate:"omitempty,max=10,dive,subject"`
	MaxConcurrentProjects int      `json:"max_concurrent_projects" validate:"omitempty,gte=1,lte=10"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Profile response for /me
type UserProfileResponse struct {
	ID                    uuid.UUID   `json:"id"`
	Email                 string      `json:"email"`
	Role                  models.Role `json:"role"`
	Name                  string      `json:"name"`
	Available             bool        `json:"available"`
	Activated             bool        `json:"activated"`
	MaxConcurrentProjects int         `json:"max_concurrent_projects"`
	Subjects              []string    `json:"subjects"`
	CreatedAt             time.Time   `json:"created_at"`
}

/* ============================== Handler ================================= */

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

// walletKindFor maps a profile role to its wallet kind.
func walletKindFor(r models.Role) models.WalletKind {
	switch r {
	case models.RoleDoer:
		return models.WalletDoer
	case models.RoleSupervisor:
		return models.WalletSupervisor
	default:
		return models.WalletClient
	}
}

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new user (client, doer or supervisor); a wallet is created with the profile
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Hash password
	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)

	role := models.Role(in.Role)
	u := models.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         role,
		Name:         in.Name,
	}
	if role == models.RoleDoer {
		u.MaxConcurrentProjects = in.MaxConcurrentProjects
		if u.MaxConcurrentProjects == 0 {
			u.MaxConcurrentProjects = 3
		}
		// New doers are activated by an admin workflow outside this API.
	}

	// Profile + wallet + subjects in one transaction
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		ownerID := u.ID
		if err := tx.Create(&models.Wallet{OwnerID: &ownerID, Kind: walletKindFor(role)}).Error; err != nil {
			return err
		}
		for _, s := range in.Subjects {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if err := tx.Create(&models.DoerSubject{DoerID: u.ID, Subject: s}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fiber.NewError(fiber.StatusConflict, "email already exists")
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var u models.User
	if err := h.db.Where("email = ?", in.Email).First(&u).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return fiber.ErrUnauthorized
	}

	token, _ := IssueToken(u.ID.String(), string(u.Role))
	return c.JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Description  Return full profile of the authenticated user
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  UserProfileResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	userID := c.Locals("userID")
	if userID == nil {
		return fiber.ErrUnauthorized
	}

	var u models.User
	if err := h.db.First(&u, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	subjects := []string{}
	if u.Role == models.RoleDoer {
		_ = h.db.Model(&models.DoerSubject{}).
			Where("doer_id = ?", u.ID).
			Pluck("subject", &subjects).Error
	}

	resp := UserProfileResponse{
		ID:                    u.ID,
		Email:                 u.Email,
		Role:                  u.Role,
		Name:                  u.Name,
		Available:             u.Available,
		Activated:             u.Activated,
		MaxConcurrentProjects: u.MaxConcurrentProjects,
		Subjects:              subjects,
		CreatedAt:             u.CreatedAt,
	}
	return c.JSON(resp)
}
