package projects

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assignx/assignx-backend/internal/assignments"
	"github.com/assignx/assignx-backend/internal/notify"
	"github.com/assignx/assignx-backend/internal/revisions"
	"github.com/assignx/assignx-backend/internal/settlement"
	"github.com/assignx/assignx-backend/internal/wallet"
	"github.com/assignx/assignx-backend/pkg/config"
	"github.com/assignx/assignx-backend/pkg/models"
	"github.com/assignx/assignx-backend/pkg/pricing"
	"github.com/assignx/assignx-backend/pkg/utils"
)

var (
	// ErrProjectNotFound means no project exists under the given id.
	ErrProjectNotFound = errors.New("project not found")

	// ErrInvalidStateTransition means the event is not accepted from the
	// project's current status. Rejected before any side effect.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConcurrentModification means another transition committed between
	// the caller's read and this apply. Transient: re-read and retry.
	ErrConcurrentModification = errors.New("project modified concurrently")

	// ErrRevisionLimitExceeded means the QC-reject loop hit the configured
	// cap; further rejections need the manual escalation path.
	ErrRevisionLimitExceeded = errors.New("revision limit exceeded")

	// ErrPaymentAmountMismatch means the confirmed amount does not equal the
	// quoted amount; the project keeps its current status.
	ErrPaymentAmountMismatch = errors.New("payment amount mismatch")

	// ErrNoActiveQuote means the project has no quote to act on.
	ErrNoActiveQuote = errors.New("project has no active quote")
)

// Event names an action attempted against a project.
type Event string

const (
	EventAnalyze          Event = "analyze"
	EventQuote            Event = "quote"
	EventRequestPayment   Event = "request_payment"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventAssign           Event = "assign"
	EventStartWork        Event = "start_work"
	EventSubmitWork       Event = "submit_work"
	EventQCApprove        Event = "qc_approve"
	EventQCReject         Event = "qc_reject"
	EventResubmit         Event = "resubmit"
	EventDeliver          Event = "deliver"
	EventClientAccept     Event = "client_accept"
	EventDeadlineElapsed  Event = "deadline_elapsed"
	EventCancel           Event = "cancel"
)

// transitions is the canonical table: which statuses accept which events,
// and where they land. Anything absent is rejected. The QC-reject/revision
// loop is the only cycle; cancellation is valid from pre-assigned states
// only (after assignment the administrative path takes over).
var transitions = map[Event]map[models.ProjectStatus]models.ProjectStatus{
	EventAnalyze: {
		models.ProjectSubmitted: models.ProjectAnalyzing,
	},
	EventQuote: {
		models.ProjectAnalyzing: models.ProjectQuoted,
	},
	EventRequestPayment: {
		models.ProjectQuoted: models.ProjectPaymentPending,
	},
	EventPaymentConfirmed: {
		models.ProjectQuoted:         models.ProjectPaid,
		models.ProjectPaymentPending: models.ProjectPaid,
	},
	EventAssign: {
		models.ProjectPaid: models.ProjectAssigned,
	},
	EventStartWork: {
		models.ProjectAssigned: models.ProjectInProgress,
	},
	EventSubmitWork: {
		models.ProjectInProgress: models.ProjectSubmittedForQC,
	},
	EventQCApprove: {
		models.ProjectSubmittedForQC: models.ProjectQCApproved,
	},
	EventQCReject: {
		models.ProjectSubmittedForQC: models.ProjectQCRejected,
	},
	EventResubmit: {
		models.ProjectInRevision: models.ProjectSubmittedForQC,
	},
	EventDeliver: {
		models.ProjectQCApproved: models.ProjectDelivered,
	},
	EventClientAccept: {
		models.ProjectDelivered: models.ProjectCompleted,
	},
	EventDeadlineElapsed: {
		models.ProjectDelivered: models.ProjectAutoApproved,
	},
	EventCancel: {
		models.ProjectSubmitted:      models.ProjectCancelled,
		models.ProjectAnalyzing:      models.ProjectCancelled,
		models.ProjectQuoted:         models.ProjectCancelled,
		models.ProjectPaymentPending: models.ProjectCancelled,
		models.ProjectPaid:           models.ProjectCancelled,
	},
}

// PaymentSource says where confirmed money comes from.
type PaymentSource string

const (
	// SourceGateway: the external gateway collected the money; credit the
	// client wallet and hold it in the same transaction.
	SourceGateway PaymentSource = "gateway"
	// SourceWallet: hold pre-existing wallet balance only.
	SourceWallet PaymentSource = "wallet"
)

// Action carries the actor and the event-specific payload for one Apply.
type Action struct {
	ActorID uuid.UUID
	Reason  string

	// ExpectedVersion, when set, is compared against the persisted version
	// under lock; a mismatch fails with ErrConcurrentModification.
	ExpectedVersion *int64

	// EventQuote
	QuoteInput *pricing.Input

	// EventPaymentConfirmed
	ConfirmedAmountCents int64
	PaymentReference     string
	Source               PaymentSource

	// EventAssign
	CandidateDoerID *uuid.UUID

	// EventQCReject
	Feedback string
}

// Engine owns project status. Every mutation funnels through Apply, which
// runs the guard, the side effects, and the version-checked status write in
// one database transaction.
type Engine struct {
	db       *gorm.DB
	cfg      *config.Config
	notifier *notify.Notifier
}

func NewEngine(db *gorm.DB, cfg *config.Config, n *notify.Notifier) *Engine {
	return &Engine{db: db, cfg: cfg, notifier: n}
}

// Apply attempts one event against a project and returns the updated row.
// On any error the transaction is rolled back whole: a refused transition
// leaves no partial side effects behind.
func (e *Engine) Apply(ctx context.Context, projectID uuid.UUID, ev Event, act Action) (*models.Project, error) {
	var out *models.Project
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockProject(tx, projectID)
		if err != nil {
			return err
		}

		if act.ExpectedVersion != nil && *act.ExpectedVersion != p.Version {
			return ErrConcurrentModification
		}

		to, ok := transitions[ev][p.Status]
		if !ok {
			return ErrInvalidStateTransition
		}

		updates, err := e.effects(tx, p, ev, to, act)
		if err != nil {
			return err
		}

		if err := e.commitStatus(tx, p, to, updates); err != nil {
			return err
		}
		utils.LogProjectHistory(ctx, tx, p.ID, act.ActorID, string(ev), p.Status, to, act.Reason)

		// qc_rejected advances to in_revision automatically, in the same
		// transaction, as its own versioned step.
		if to == models.ProjectQCRejected {
			p.Status = models.ProjectQCRejected
			if err := e.commitStatus(tx, p, models.ProjectInRevision, nil); err != nil {
				return err
			}
			utils.LogProjectHistory(ctx, tx, p.ID, act.ActorID, "enter_revision", models.ProjectQCRejected, models.ProjectInRevision, "")
		}

		fresh, err := lockProject(tx, projectID)
		if err != nil {
			return err
		}
		out = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(ev, out)
	return out, nil
}

// lockProject loads a project FOR UPDATE.
func lockProject(tx *gorm.DB, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// commitStatus writes the new status with a version check-and-set. The row
// is already locked, but the CAS keeps the write honest against any path
// that slipped a stale version through.
func (e *Engine) commitStatus(tx *gorm.DB, p *models.Project, to models.ProjectStatus, extra map[string]any) error {
	updates := map[string]any{
		"status":     to,
		"version":    p.Version + 1,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.Project{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	p.Version++
	return nil
}

// activeQuote loads the project's active quote.
func activeQuote(tx *gorm.DB, p *models.Project) (*models.Quote, error) {
	if p.ActiveQuoteID == nil {
		return nil, ErrNoActiveQuote
	}
	var q models.Quote
	if err := tx.First(&q, "id = ?", *p.ActiveQuoteID).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// effects runs the per-event guards and side effects inside tx, returning
// extra column updates to fold into the status write.
func (e *Engine) effects(tx *gorm.DB, p *models.Project, ev Event, to models.ProjectStatus, act Action) (map[string]any, error) {
	switch ev {
	case EventAnalyze:
		// Supervisor claims the project.
		return map[string]any{"supervisor_id": act.ActorID}, nil

	case EventQuote:
		in := act.QuoteInput
		if in == nil {
			defaults := pricing.Input{
				WordCount:        p.WordCount,
				PageCount:        p.PageCount,
				UrgencyTier:      p.UrgencyTier,
				Multipliers:      e.cfg.UrgencyMultipliers,
				RatePerWordCents: e.cfg.RatePerWordCents,
				RatePerPageCents: e.cfg.RatePerPageCents,
				CommissionRate:   e.cfg.CommissionRate,
				PlatformFeeRate:  e.cfg.PlatformFeeRate,
			}
			in = &defaults
		}
		b, err := pricing.ComputeQuote(*in)
		if err != nil {
			return nil, err
		}
		// Re-quoting never edits an old quote; it supersedes it.
		if p.ActiveQuoteID != nil {
			if err := tx.Model(&models.Quote{}).
				Where("id = ?", *p.ActiveQuoteID).
				Update("superseded", true).Error; err != nil {
				return nil, err
			}
		}
		q := models.Quote{
			ProjectID:                 p.ID,
			ClientPriceCents:          b.ClientPriceCents,
			DoerPayoutCents:           b.DoerPayoutCents,
			SupervisorCommissionCents: b.SupervisorCommissionCents,
			PlatformFeeCents:          b.PlatformFeeCents,
			UrgencyTier:               p.UrgencyTier,
			UrgencyMultiplier:         b.UrgencyMultiplier,
			CommissionRate:            in.CommissionRate,
			PlatformFeeRate:           in.PlatformFeeRate,
			CreatedAt:                 time.Now(),
		}
		if err := tx.Create(&q).Error; err != nil {
			return nil, err
		}
		return map[string]any{"active_quote_id": q.ID}, nil

	case EventRequestPayment:
		if _, err := activeQuote(tx, p); err != nil {
			return nil, err
		}
		return nil, nil

	case EventPaymentConfirmed:
		q, err := activeQuote(tx, p)
		if err != nil {
			return nil, err
		}
		if act.ConfirmedAmountCents != q.ClientPriceCents {
			return nil, ErrPaymentAmountMismatch
		}
		clientW, err := wallet.ForOwner(tx, p.ClientID)
		if err != nil {
			return nil, err
		}
		holdRef := settlement.HoldReference(p)
		if act.Source != SourceWallet {
			// Money collected externally lands in the wallet first so the
			// ledger reconstructs the full flow.
			ref := "payment:" + act.PaymentReference
			if err := wallet.Credit(tx, clientW.ID, q.ClientPriceCents, ref); err != nil {
				return nil, err
			}
		}
		if err := wallet.Hold(tx, clientW.ID, q.ClientPriceCents, holdRef); err != nil {
			return nil, err
		}
		return nil, nil

	case EventAssign:
		q, err := activeQuote(tx, p)
		if err != nil {
			return nil, err
		}
		a, err := assignments.Resolve(tx, p, q.DoerPayoutCents, act.CandidateDoerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"doer_id": a.DoerID}, nil

	case EventStartWork, EventSubmitWork, EventQCApprove:
		return nil, nil

	case EventQCReject:
		cnt, err := revisions.Count(tx, p.ID)
		if err != nil {
			return nil, err
		}
		if cnt >= e.cfg.MaxRevisions {
			return nil, ErrRevisionLimitExceeded
		}
		if _, err := revisions.Open(tx, p.ID, act.ActorID, act.Feedback); err != nil {
			return nil, err
		}
		return nil, nil

	case EventResubmit:
		if err := revisions.Close(tx, p.ID); err != nil {
			return nil, err
		}
		return nil, nil

	case EventDeliver:
		now := time.Now()
		return map[string]any{"delivered_at": now}, nil

	case EventClientAccept, EventDeadlineElapsed:
		q, err := activeQuote(tx, p)
		if err != nil {
			return nil, err
		}
		if err := settlement.Run(tx, p, q); err != nil {
			return nil, err
		}
		return nil, nil

	case EventCancel:
		// A hold exists once payment was confirmed; cancelling then must
		// give the money back.
		if p.Status == models.ProjectPaid {
			q, err := activeQuote(tx, p)
			if err != nil {
				return nil, err
			}
			clientW, err := wallet.ForOwner(tx, p.ClientID)
			if err != nil {
				return nil, err
			}
			if err := wallet.ReleaseHold(tx, clientW.ID, q.ClientPriceCents, settlement.HoldReference(p), wallet.DispositionRefund); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, ErrInvalidStateTransition
}

// emit sends the fire-and-forget notification for externally visible events.
func (e *Engine) emit(ev Event, p *models.Project) {
	if p == nil {
		return
	}
	var kind string
	switch ev {
	case EventQuote:
		kind = "quote_ready"
	case EventAssign:
		kind = "assigned"
	case EventQCApprove, EventQCReject:
		kind = "qc_result"
	case EventClientAccept, EventDeadlineElapsed:
		kind = "settled"
	default:
		return
	}
	e.notifier.Send(notify.Event{
		Kind:      kind,
		ProjectID: p.ID.String(),
		Number:    p.Number,
		Status:    string(p.Status),
	})
}

// SweepAutoApprovals moves delivered projects whose acceptance window has
// elapsed into auto_approved, firing settlement for each. Driven by an
// external scheduler hitting the admin endpoint; never runs on a request
// path. Returns the ids it transitioned.
func (e *Engine) SweepAutoApprovals(ctx context.Context, systemActor uuid.UUID) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-e.cfg.AutoApproveWindow)

	var ids []uuid.UUID
	err := e.db.WithContext(ctx).Model(&models.Project{}).
		Where("status = ? AND delivered_at IS NOT NULL AND delivered_at < ?", models.ProjectDelivered, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	done := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		_, err := e.Apply(ctx, id, EventDeadlineElapsed, Action{
			ActorID: systemActor,
			Reason:  "acceptance window elapsed",
		})
		if err != nil {
			// Raced with an explicit accept or another sweep; skip it.
			if errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrConcurrentModification) {
				continue
			}
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}
