package projects

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/notify"
	"github.com/assignx/assignx-backend/internal/wallet"
	"github.com/assignx/assignx-backend/pkg/config"
	"github.com/assignx/assignx-backend/pkg/models"
)

/* ===== helpers ===== */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.DoerSubject{}, &models.Blacklist{},
		&models.Project{}, &models.Quote{}, &models.Assignment{}, &models.Revision{},
		&models.Wallet{}, &models.LedgerEntry{}, &models.ProjectHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	project_histories,
	ledger_entries,
	assignments,
	revisions,
	quotes,
	wallets,
	blacklists,
	doer_subjects,
	projects,
	users
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		RatePerWordCents: 50,
		RatePerPageCents: 15000,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
		UrgencyMultipliers: map[models.UrgencyTier]float64{
			models.Urgency24h:      1.5,
			models.Urgency48h:      1.3,
			models.Urgency72h:      1.15,
			models.UrgencyStandard: 1.0,
		},
		MaxRevisions:      3,
		AutoApproveWindow: 72 * time.Hour,
	}
}

func newTestEngine(db *gorm.DB) *Engine {
	return NewEngine(db, testConfig(), notify.New(""))
}

type fixture struct {
	ClientID     uuid.UUID
	SupervisorID uuid.UUID
	DoerID       uuid.UUID
	ProjectID    uuid.UUID
}

// seedFixture commits a client (with wallet), a supervisor (with wallet), an
// eligible doer (with wallet) and one submitted 2000-word 24h project.
func seedFixture(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	mkUser := func(role models.Role, kind models.WalletKind) uuid.UUID {
		id := uuid.New()
		u := models.User{
			ID:    id,
			Email: string(role) + "+" + uuid.NewString() + "@test.local",
			Role:  role,
		}
		if role == models.RoleDoer {
			u.Available = true
			u.Activated = true
			u.MaxConcurrentProjects = 3
			u.Rating = 450
		}
		if err := db.Create(&u).Error; err != nil {
			t.Fatal(err)
		}
		if err := db.Create(&models.Wallet{OwnerID: &id, Kind: kind}).Error; err != nil {
			t.Fatal(err)
		}
		return id
	}

	f := fixture{
		ClientID:     mkUser(models.RoleClient, models.WalletClient),
		SupervisorID: mkUser(models.RoleSupervisor, models.WalletSupervisor),
		DoerID:       mkUser(models.RoleDoer, models.WalletDoer),
	}
	if err := db.Create(&models.DoerSubject{DoerID: f.DoerID, Subject: "math"}).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := wallet.PlatformWallet(db); err != nil {
		t.Fatal(err)
	}

	p := models.Project{
		Number:      "AX-TEST-" + uuid.NewString()[:8],
		ClientID:    f.ClientID,
		Title:       "Thermodynamics problem set",
		Subject:     "math",
		WordCount:   2000,
		UrgencyTier: models.Urgency24h,
		Deadline:    time.Now().Add(24 * time.Hour),
		Status:      models.ProjectSubmitted,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatal(err)
	}
	f.ProjectID = p.ID
	return f
}

// drive applies a sequence of events, failing the test on the first error.
func drive(t *testing.T, e *Engine, f fixture, steps ...Event) *models.Project {
	t.Helper()
	ctx := context.Background()
	var out *models.Project
	for _, ev := range steps {
		act := Action{ActorID: f.SupervisorID}
		switch ev {
		case EventPaymentConfirmed:
			act = Action{
				ActorID:              f.ClientID,
				ConfirmedAmountCents: 150000,
				PaymentReference:     "gw-" + uuid.NewString()[:8],
				Source:               SourceGateway,
			}
		case EventAssign:
			act.CandidateDoerID = &f.DoerID
		case EventStartWork, EventSubmitWork, EventResubmit:
			act = Action{ActorID: f.DoerID}
		case EventQCReject:
			act.Feedback = "rework the derivation"
		case EventClientAccept, EventCancel:
			act = Action{ActorID: f.ClientID}
		}
		p, err := e.Apply(ctx, f.ProjectID, ev, act)
		if err != nil {
			t.Fatalf("apply %s: %v", ev, err)
		}
		out = p
	}
	return out
}

func walletFor(t *testing.T, db *gorm.DB, ownerID uuid.UUID) *models.Wallet {
	t.Helper()
	w, err := wallet.ForOwner(db, ownerID)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

/* ================== TESTS ================== */

func Test_FullLifecycle_SettlesOnAccept(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	p := drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed,
		EventAssign, EventStartWork, EventSubmitWork, EventQCApprove,
		EventDeliver, EventClientAccept,
	)

	if p.Status != models.ProjectCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if p.SettledAt == nil {
		t.Fatal("settled_at not set")
	}
	if p.SupervisorID == nil || *p.SupervisorID != f.SupervisorID {
		t.Fatal("supervisor not recorded on claim")
	}
	if p.DoerID == nil || *p.DoerID != f.DoerID {
		t.Fatal("doer not recorded on assign")
	}
	// 10 transitions, each one versioned write.
	if p.Version != 10 {
		t.Fatalf("version = %d, want 10", p.Version)
	}

	// 2000 words x 50c x 1.5 urgency, 15% commission, 20% platform fee.
	var q models.Quote
	if err := db.First(&q, "id = ?", *p.ActiveQuoteID).Error; err != nil {
		t.Fatal(err)
	}
	if q.ClientPriceCents != 150000 || q.DoerPayoutCents != 97500 ||
		q.SupervisorCommissionCents != 22500 || q.PlatformFeeCents != 30000 {
		t.Fatalf("quote split: %d/%d/%d/%d", q.ClientPriceCents, q.DoerPayoutCents,
			q.SupervisorCommissionCents, q.PlatformFeeCents)
	}

	// Client paid in full; the hold was captured, nothing stranded.
	cw := walletFor(t, db, f.ClientID)
	if cw.AvailableCents != 0 || cw.HeldCents != 0 {
		t.Fatalf("client wallet: available=%d held=%d", cw.AvailableCents, cw.HeldCents)
	}
	dw := walletFor(t, db, f.DoerID)
	if dw.AvailableCents != 97500 {
		t.Fatalf("doer wallet: %d", dw.AvailableCents)
	}
	sw := walletFor(t, db, f.SupervisorID)
	if sw.AvailableCents != 22500 {
		t.Fatalf("supervisor wallet: %d", sw.AvailableCents)
	}
	pw, err := wallet.PlatformWallet(db)
	if err != nil {
		t.Fatal(err)
	}
	if pw.AvailableCents != 30000 {
		t.Fatalf("platform wallet: %d", pw.AvailableCents)
	}

	// Every ledger-backed wallet replays to its cached balances.
	for _, ownerID := range []uuid.UUID{f.ClientID, f.DoerID, f.SupervisorID} {
		w := walletFor(t, db, ownerID)
		var entries []models.LedgerEntry
		if err := db.Where("wallet_id = ?", w.ID).Order("created_at ASC").Find(&entries).Error; err != nil {
			t.Fatal(err)
		}
		available, held := wallet.Replay(entries)
		if available != w.AvailableCents || held != w.HeldCents {
			t.Fatalf("wallet %s: replay (%d, %d) != cached (%d, %d)",
				w.ID, available, held, w.AvailableCents, w.HeldCents)
		}
	}
}

func Test_InvalidTransition_Rejected(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	_, err := e.Apply(context.Background(), f.ProjectID, EventQCApprove, Action{ActorID: f.SupervisorID})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("want ErrInvalidStateTransition, got %v", err)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectSubmitted || p.Version != 0 {
		t.Fatalf("refused event mutated project: status=%s version=%d", p.Status, p.Version)
	}
}

func Test_PaymentMismatch_LeavesNoTrace(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f, EventAnalyze, EventQuote, EventRequestPayment)

	_, err := e.Apply(context.Background(), f.ProjectID, EventPaymentConfirmed, Action{
		ActorID:              f.ClientID,
		ConfirmedAmountCents: 140000, // quote says 150000
		PaymentReference:     "gw-short",
		Source:               SourceGateway,
	})
	if !errors.Is(err, ErrPaymentAmountMismatch) {
		t.Fatalf("want ErrPaymentAmountMismatch, got %v", err)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectPaymentPending {
		t.Fatalf("status = %s, want payment_pending", p.Status)
	}

	// The rolled-back confirm must not have moved money.
	cw := walletFor(t, db, f.ClientID)
	if cw.AvailableCents != 0 || cw.HeldCents != 0 {
		t.Fatalf("client wallet mutated: available=%d held=%d", cw.AvailableCents, cw.HeldCents)
	}
	var cnt int64
	if err := db.Model(&models.LedgerEntry{}).Where("wallet_id = ?", cw.ID).Count(&cnt).Error; err != nil {
		t.Fatal(err)
	}
	if cnt != 0 {
		t.Fatalf("ledger entries written for refused payment")
	}
}

func Test_WalletPayment_InsufficientFunds(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f, EventAnalyze, EventQuote, EventRequestPayment)

	_, err := e.Apply(context.Background(), f.ProjectID, EventPaymentConfirmed, Action{
		ActorID:              f.ClientID,
		ConfirmedAmountCents: 150000,
		PaymentReference:     "wallet",
		Source:               SourceWallet,
	})
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}

	// Fund the wallet and the same confirm succeeds.
	if err := db.Transaction(func(tx *gorm.DB) error {
		w, err := wallet.ForOwner(tx, f.ClientID)
		if err != nil {
			return err
		}
		return wallet.Credit(tx, w.ID, 150000, "topup:test")
	}); err != nil {
		t.Fatal(err)
	}

	p, err := e.Apply(context.Background(), f.ProjectID, EventPaymentConfirmed, Action{
		ActorID:              f.ClientID,
		ConfirmedAmountCents: 150000,
		PaymentReference:     "wallet",
		Source:               SourceWallet,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectPaid {
		t.Fatalf("status = %s, want paid", p.Status)
	}
	cw := walletFor(t, db, f.ClientID)
	if cw.AvailableCents != 0 || cw.HeldCents != 150000 {
		t.Fatalf("client wallet: available=%d held=%d", cw.AvailableCents, cw.HeldCents)
	}
}

func Test_QCReject_OpensRevisionAndEntersInRevision(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed,
		EventAssign, EventStartWork, EventSubmitWork,
	)

	p := drive(t, e, f, EventQCReject)
	if p.Status != models.ProjectInRevision {
		t.Fatalf("status = %s, want in_revision", p.Status)
	}

	var r models.Revision
	if err := db.First(&r, "project_id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if r.Number != 1 || r.ResolvedAt != nil {
		t.Fatalf("revision: number=%d resolved=%v", r.Number, r.ResolvedAt)
	}

	// Resubmit closes the revision and returns the work to QC.
	p = drive(t, e, f, EventResubmit)
	if p.Status != models.ProjectSubmittedForQC {
		t.Fatalf("status = %s, want submitted_for_qc", p.Status)
	}
	if err := db.First(&r, "project_id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if r.ResolvedAt == nil {
		t.Fatal("revision not resolved on resubmit")
	}
}

func Test_RevisionCap_FourthRejectFails(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed,
		EventAssign, EventStartWork, EventSubmitWork,
	)

	for i := 0; i < 3; i++ {
		drive(t, e, f, EventQCReject, EventResubmit)
	}

	_, err := e.Apply(context.Background(), f.ProjectID, EventQCReject, Action{
		ActorID:  f.SupervisorID,
		Feedback: "still wrong",
	})
	if !errors.Is(err, ErrRevisionLimitExceeded) {
		t.Fatalf("want ErrRevisionLimitExceeded, got %v", err)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectSubmittedForQC {
		t.Fatalf("status = %s, want submitted_for_qc", p.Status)
	}
	var cnt int64
	if err := db.Model(&models.Revision{}).Where("project_id = ?", f.ProjectID).Count(&cnt).Error; err != nil {
		t.Fatal(err)
	}
	if cnt != 3 {
		t.Fatalf("revision rows = %d, want 3", cnt)
	}
}

func Test_ConcurrentDecisions_OneLoses(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	p := drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed,
		EventAssign, EventStartWork, EventSubmitWork,
	)

	// Two reviewers read the same version and both try to decide.
	v := p.Version
	if _, err := e.Apply(context.Background(), f.ProjectID, EventQCApprove, Action{
		ActorID: f.SupervisorID, ExpectedVersion: &v,
	}); err != nil {
		t.Fatalf("first decision: %v", err)
	}

	_, err := e.Apply(context.Background(), f.ProjectID, EventQCReject, Action{
		ActorID: f.SupervisorID, ExpectedVersion: &v, Feedback: "redo",
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("want ErrConcurrentModification, got %v", err)
	}

	var fresh models.Project
	if err := db.First(&fresh, "id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.ProjectQCApproved {
		t.Fatalf("status = %s, want qc_approved", fresh.Status)
	}
}

func Test_Cancel_AfterPayment_RefundsHold(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f, EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed)

	p := drive(t, e, f, EventCancel)
	if p.Status != models.ProjectCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}

	cw := walletFor(t, db, f.ClientID)
	if cw.AvailableCents != 150000 || cw.HeldCents != 0 {
		t.Fatalf("refund missing: available=%d held=%d", cw.AvailableCents, cw.HeldCents)
	}

	// Terminal: nothing else is accepted.
	_, err := e.Apply(context.Background(), f.ProjectID, EventAssign, Action{
		ActorID: f.SupervisorID, CandidateDoerID: &f.DoerID,
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("want ErrInvalidStateTransition, got %v", err)
	}
}

func Test_Cancel_AfterAssignment_Rejected(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed, EventAssign,
	)

	_, err := e.Apply(context.Background(), f.ProjectID, EventCancel, Action{ActorID: f.ClientID})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("want ErrInvalidStateTransition, got %v", err)
	}
}

func Test_AutoApproveSweep_SettlesElapsedDeliveries(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f,
		EventAnalyze, EventQuote, EventRequestPayment, EventPaymentConfirmed,
		EventAssign, EventStartWork, EventSubmitWork, EventQCApprove, EventDeliver,
	)

	// Not yet elapsed: the sweep leaves it alone.
	done, err := e.SweepAutoApprovals(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 0 {
		t.Fatalf("swept a fresh delivery: %v", done)
	}

	// Backdate the delivery past the acceptance window.
	old := time.Now().Add(-80 * time.Hour)
	if err := db.Model(&models.Project{}).Where("id = ?", f.ProjectID).
		Update("delivered_at", old).Error; err != nil {
		t.Fatal(err)
	}

	done, err = e.SweepAutoApprovals(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 1 || done[0] != f.ProjectID {
		t.Fatalf("swept %v, want [%s]", done, f.ProjectID)
	}

	var p models.Project
	if err := db.First(&p, "id = ?", f.ProjectID).Error; err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectAutoApproved || p.SettledAt == nil {
		t.Fatalf("status=%s settled=%v", p.Status, p.SettledAt)
	}

	// Auto-approval settles exactly like an explicit accept.
	dw := walletFor(t, db, f.DoerID)
	if dw.AvailableCents != 97500 {
		t.Fatalf("doer payout = %d", dw.AvailableCents)
	}

	// Second sweep finds nothing; balances stay put.
	done, err = e.SweepAutoApprovals(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 0 {
		t.Fatalf("second sweep re-approved: %v", done)
	}
	dw = walletFor(t, db, f.DoerID)
	if dw.AvailableCents != 97500 {
		t.Fatalf("payout duplicated: %d", dw.AvailableCents)
	}

	// A late explicit accept loses to the already-terminal status.
	_, err = e.Apply(context.Background(), f.ProjectID, EventClientAccept, Action{ActorID: f.ClientID})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("want ErrInvalidStateTransition, got %v", err)
	}
}

func Test_TerminalStatuses_AcceptNoEvents(t *testing.T) {
	for ev, froms := range transitions {
		for from := range froms {
			if from.Terminal() {
				t.Errorf("terminal status %s accepts event %s", from, ev)
			}
		}
	}
}

func Test_History_RecordsEveryTransition(t *testing.T) {
	db := openTestDB(t)
	e := newTestEngine(db)
	f := seedFixture(t, db)

	drive(t, e, f, EventAnalyze, EventQuote)

	var rows []models.ProjectHistory
	if err := db.Where("project_id = ?", f.ProjectID).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("history rows = %d, want 2", len(rows))
	}
	if rows[0].Action != "analyze" || rows[0].NewStatus != models.ProjectAnalyzing {
		t.Fatalf("first row: %+v", rows[0])
	}
	if rows[1].Action != "quote" || rows[1].NewStatus != models.ProjectQuoted {
		t.Fatalf("second row: %+v", rows[1])
	}
}
