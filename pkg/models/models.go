package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleClient     Role = "client"
	RoleDoer       Role = "doer"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// ProjectStatus defines lifecycle states for a project.
type ProjectStatus string

const (
	ProjectSubmitted      ProjectStatus = "submitted"
	ProjectAnalyzing      ProjectStatus = "analyzing"
	ProjectQuoted         ProjectStatus = "quoted"
	ProjectPaymentPending ProjectStatus = "payment_pending"
	ProjectPaid           ProjectStatus = "paid"
	ProjectAssigned       ProjectStatus = "assigned"
	ProjectInProgress     ProjectStatus = "in_progress"
	ProjectSubmittedForQC ProjectStatus = "submitted_for_qc"
	ProjectQCApproved     ProjectStatus = "qc_approved"
	ProjectQCRejected     ProjectStatus = "qc_rejected"
	ProjectInRevision     ProjectStatus = "in_revision"
	ProjectDelivered      ProjectStatus = "delivered"
	ProjectCompleted      ProjectStatus = "completed"
	ProjectAutoApproved   ProjectStatus = "auto_approved"
	ProjectCancelled      ProjectStatus = "cancelled"
)

// Terminal reports whether a status ends the project lifecycle.
func (s ProjectStatus) Terminal() bool {
	switch s {
	case ProjectCompleted, ProjectAutoApproved, ProjectCancelled:
		return true
	}
	return false
}

// UrgencyTier is a discrete deadline bucket mapped to a price multiplier.
type UrgencyTier string

const (
	Urgency24h      UrgencyTier = "24h"
	Urgency48h      UrgencyTier = "48h"
	Urgency72h      UrgencyTier = "72h"
	UrgencyStandard UrgencyTier = "standard"
)

// LedgerKind defines the kind of money movement a ledger entry records.
type LedgerKind string

const (
	LedgerCredit  LedgerKind = "credit"
	LedgerDebit   LedgerKind = "debit"
	LedgerHold    LedgerKind = "hold"
	LedgerRelease LedgerKind = "release"
)

// WalletKind defines who owns a wallet.
type WalletKind string

const (
	WalletClient     WalletKind = "client"
	WalletDoer       WalletKind = "doer"
	WalletSupervisor WalletKind = "supervisor"
	WalletPlatform   WalletKind = "platform"
)

/* =============================== Entities =============================== */

// User represents a client, doer, or supervisor profile.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(20);not null"`
	Name         string
	CreatedAt    time.Time

	// Doer profile fields
	Available             bool `gorm:"default:false"`
	Activated             bool `gorm:"default:false"`
	MaxConcurrentProjects int  `gorm:"default:0"`
	Rating                int  `gorm:"default:0"` // 0..500, two implied decimals
	LastAvailableAt       *time.Time
}

// DoerSubject marks a subject a doer can take work in.
type DoerSubject struct {
	DoerID  uuid.UUID `gorm:"type:uuid;not null;index:idx_doer_subject,unique"`
	Subject string    `gorm:"type:varchar(60);not null;index:idx_doer_subject,unique"`
}

// Blacklist blocks a doer from receiving work from one supervisor.
type Blacklist struct {
	SupervisorID uuid.UUID `gorm:"type:uuid;not null;index:idx_blacklist,unique"`
	DoerID       uuid.UUID `gorm:"type:uuid;not null;index:idx_blacklist,unique"`
	Reason       string
	CreatedAt    time.Time
}

// Project represents a unit of work submitted by a client.
//
// Status is mutated exclusively through the state machine; Version is a
// monotonic counter used for check-and-set writes so two concurrent
// transitions on the same project cannot both commit.
type Project struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Number       string     `gorm:"uniqueIndex;not null"` // human-readable, e.g. AX-2026-000042
	ClientID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	SupervisorID *uuid.UUID `gorm:"type:uuid;index"`
	DoerID       *uuid.UUID `gorm:"type:uuid;index"`

	Title       string `gorm:"not null"`
	Subject     string `gorm:"type:varchar(60);not null"`
	Description string
	WordCount   int
	PageCount   int
	UrgencyTier UrgencyTier   `gorm:"type:varchar(20);not null;default:'standard'"`
	Deadline    time.Time     `gorm:"not null"`
	Status      ProjectStatus `gorm:"type:varchar(30);not null;default:'submitted';index"`
	Version     int64         `gorm:"not null;default:0"`

	ActiveQuoteID *uuid.UUID `gorm:"type:uuid"`
	DeliveredAt   *time.Time
	SettledAt     *time.Time // settlement-completed marker; settlement is a no-op once set
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Relations
	Quotes    []Quote
	Revisions []Revision
}

// Quote is an immutable priced offer for one project version.
//
// PlatformFeeCents is the residual of the client price after doer payout and
// supervisor commission, so the three parts sum to the price exactly.
type Quote struct {
	ID                        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProjectID                 uuid.UUID `gorm:"type:uuid;not null;index"`
	ClientPriceCents          int64     `gorm:"not null"`
	DoerPayoutCents           int64     `gorm:"not null"`
	SupervisorCommissionCents int64     `gorm:"not null"`
	PlatformFeeCents          int64     `gorm:"not null"`
	UrgencyTier               UrgencyTier
	UrgencyMultiplier         float64
	CommissionRate            float64
	PlatformFeeRate           float64
	Superseded                bool `gorm:"default:false"`
	CreatedAt                 time.Time
}

// Wallet holds one party's balances. Balances are caches over the ledger:
// available + held must equal the sum of the wallet's ledger entries.
type Wallet struct {
	ID      uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID *uuid.UUID `gorm:"type:uuid;uniqueIndex"` // nil for the platform pool
	Kind    WalletKind `gorm:"type:varchar(20);not null;index"`

	AvailableCents int64 `gorm:"not null;default:0"`
	HeldCents      int64 `gorm:"not null;default:0"`

	TotalCreditedCents  int64 `gorm:"not null;default:0"`
	TotalDebitedCents   int64 `gorm:"not null;default:0"`
	TotalWithdrawnCents int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry is one append-only money movement row.
//
// The (wallet_id, kind, reference) unique index is what makes settlement
// retries idempotent: re-applying a sub-step with the same reference is
// rejected by the database and skipped.
type LedgerEntry struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID    uuid.UUID  `gorm:"type:uuid;not null;index;index:ux_ledger_ref,unique"`
	AmountCents int64      `gorm:"not null"` // signed; interpretation per kind, see wallet.Replay
	Kind        LedgerKind `gorm:"type:varchar(20);not null;index:ux_ledger_ref,unique"`
	Reference   string     `gorm:"type:varchar(120);not null;index:ux_ledger_ref,unique"`
	CreatedAt   time.Time
}

// Assignment binds a doer to a paid project. PayoutCents is a snapshot of
// the quote at bind time, not a live reference.
type Assignment struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProjectID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	DoerID      uuid.UUID `gorm:"type:uuid;not null;index"`
	PayoutCents int64     `gorm:"not null"`
	AssignedAt  time.Time
}

// Revision records one QC rejection cycle. Numbers are monotonic per
// project; at most one revision per project may be unresolved.
type Revision struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProjectID   uuid.UUID `gorm:"type:uuid;not null;index:idx_project_revision,unique"`
	Number      int       `gorm:"not null;index:idx_project_revision,unique"`
	RequestedBy uuid.UUID `gorm:"type:uuid;not null"`
	Feedback    string    `gorm:"type:text"`
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// ProjectHistory is an audit log entry for project transitions.
type ProjectHistory struct {
	ID        uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProjectID uuid.UUID     `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID     `gorm:"type:uuid;not null;index"`  // who performed the action (client/doer/supervisor/system)
	Action    string        `gorm:"type:varchar(50);not null"` // e.g. submitted, quoted, payment_confirmed, qc_rejected
	OldStatus ProjectStatus `gorm:"type:varchar(30)"`
	NewStatus ProjectStatus `gorm:"type:varchar(30)"`
	Reason    string        `gorm:"type:text"`
	CreatedAt time.Time     `gorm:"autoCreateTime"`
}
