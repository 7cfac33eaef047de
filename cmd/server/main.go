// @title           AssignX API
// @version         1.0
// @description     Project lifecycle and transaction engine: clients submit projects, supervisors quote and QC, doers execute, and settlement splits the held payment on completion.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/joho/godotenv"

	"github.com/assignx/assignx-backend/internal/assignments"
	"github.com/assignx/assignx-backend/internal/auth"
	"github.com/assignx/assignx-backend/internal/notify"
	"github.com/assignx/assignx-backend/internal/payments"
	"github.com/assignx/assignx-backend/internal/projects"
	"github.com/assignx/assignx-backend/internal/wallet"
	"github.com/assignx/assignx-backend/pkg/config"
	"github.com/assignx/assignx-backend/pkg/database"
	"github.com/assignx/assignx-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}

	db := database.Init()
	if err := db.AutoMigrate(
		&models.User{}, &models.DoerSubject{}, &models.Blacklist{},
		&models.Project{}, &models.Quote{}, &models.Assignment{}, &models.Revision{},
		&models.Wallet{}, &models.LedgerEntry{}, &models.ProjectHistory{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}
	// The platform pool wallet must exist before the first settlement runs.
	if _, err := wallet.PlatformWallet(db); err != nil {
		log.Fatal("platform wallet:", err)
	}

	notifier := notify.New(cfg.NotifyWebhookURL)
	engine := projects.NewEngine(db, cfg, notifier)

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Wallet
	walletH := wallet.NewHandler(db)
	api.Get("/wallet", auth.RequireAuth(), walletH.Get)
	api.Get("/wallet/ledger", auth.RequireAuth(), walletH.Ledger)
	api.Post("/wallet/withdraw", auth.RequireAuth(), walletH.Withdraw)
	if os.Getenv("PAYMENT_PROVIDER") == "mock" {
		api.Post("/wallet/topup", auth.RequireAuth(), walletH.Topup)
	}

	// Projects
	projH := projects.NewHandler(db, engine)
	// Client
	api.Post("/projects", auth.RequireAuth(), auth.RequireRole("client"), projH.Create)
	api.Get("/projects/mine", auth.RequireAuth(), auth.RequireRole("client"), projH.ListMine)
	api.Post("/projects/:id/accept", auth.RequireAuth(), auth.RequireRole("client"), projH.Accept)
	api.Post("/projects/:id/cancel", auth.RequireAuth(), auth.RequireRole("client"), projH.Cancel)
	// Supervisor
	api.Get("/queue", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.Queue)
	api.Post("/projects/:id/claim", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.Claim)
	api.Post("/projects/:id/quote", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.Quote)
	api.Post("/projects/:id/request-payment", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.RequestPayment)
	api.Post("/projects/:id/assign", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.Assign)
	api.Post("/projects/:id/qc", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.QC)
	api.Post("/projects/:id/deliver", auth.RequireAuth(), auth.RequireRole("supervisor"), projH.Deliver)
	// Doer
	api.Get("/projects/assigned", auth.RequireAuth(), auth.RequireRole("doer"), projH.ListAssigned)
	api.Post("/projects/:id/start", auth.RequireAuth(), auth.RequireRole("doer"), projH.StartWork)
	api.Post("/projects/:id/submit", auth.RequireAuth(), auth.RequireRole("doer"), projH.SubmitWork)
	api.Post("/projects/:id/resubmit", auth.RequireAuth(), auth.RequireRole("doer"), projH.Resubmit)
	// Shared detail (role-scoped inside the handler)
	api.Get("/projects/:id", auth.RequireAuth(), projH.GetDetail)

	// Doer pool management
	asgH := assignments.NewHandler(db)
	api.Post("/doers/availability", auth.RequireAuth(), auth.RequireRole("doer"), asgH.SetAvailability)
	api.Post("/blacklist", auth.RequireAuth(), auth.RequireRole("supervisor"), asgH.AddBlacklist)
	api.Delete("/blacklist/:doerID", auth.RequireAuth(), auth.RequireRole("supervisor"), asgH.RemoveBlacklist)

	// Gateway webhook and scheduler hooks (server-to-server, no JWT)
	payH := payments.NewHandler(db, cfg, engine)
	api.Post("/payments/confirm", payH.Confirm)
	api.Post("/admin/auto-approvals/run", payH.RunAutoApprovals)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
