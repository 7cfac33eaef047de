package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assignx/assignx-backend/internal/wallet"
	"github.com/assignx/assignx-backend/pkg/models"
)

// ErrLedgerMismatch means the persisted quote split no longer sums to the
// client price. That can only follow an earlier atomicity violation, so the
// settlement halts for manual reconciliation instead of guessing.
var ErrLedgerMismatch = errors.New("quote split does not sum to client price")

// HoldReference is the ledger reference used when the client's payment is
// held, and again when settlement captures that hold.
func HoldReference(p *models.Project) string {
	return "hold:project:" + p.ID.String()
}

func payoutReference(p *models.Project) string {
	return "settle:project:" + p.ID.String()
}

// Run fires the settlement for a project entering completed/auto_approved.
// It must be called inside the transaction that commits that transition.
//
// The sequence is: capture the client's hold as a debit, credit the doer,
// credit the supervisor, credit the platform pool. Each sub-step is guarded
// by a ledger reference check, so a retry after a partial failure skips the
// parts that already committed. A project with SettledAt set is a no-op.
func Run(tx *gorm.DB, project *models.Project, quote *models.Quote) error {
	if project.SettledAt != nil {
		return nil
	}
	if project.DoerID == nil || project.SupervisorID == nil {
		return fmt.Errorf("project %s missing doer or supervisor at settlement", project.Number)
	}
	if quote.DoerPayoutCents+quote.SupervisorCommissionCents+quote.PlatformFeeCents != quote.ClientPriceCents {
		return ErrLedgerMismatch
	}

	holdRef := HoldReference(project)
	payRef := payoutReference(project)

	clientW, err := wallet.ForOwner(tx, project.ClientID)
	if err != nil {
		return err
	}
	doerW, err := wallet.ForOwner(tx, *project.DoerID)
	if err != nil {
		return err
	}
	supervisorW, err := wallet.ForOwner(tx, *project.SupervisorID)
	if err != nil {
		return err
	}
	platformW, err := wallet.PlatformWallet(tx)
	if err != nil {
		return err
	}

	// Capture the client's hold first, then pay everyone out of it.
	done, err := wallet.HasEntry(tx, clientW.ID, models.LedgerRelease, holdRef)
	if err != nil {
		return err
	}
	if !done {
		if err := wallet.ReleaseHold(tx, clientW.ID, quote.ClientPriceCents, holdRef, wallet.DispositionDebit); err != nil {
			return err
		}
	}

	credits := []struct {
		walletID uuid.UUID
		amount   int64
	}{
		{doerW.ID, quote.DoerPayoutCents},
		{supervisorW.ID, quote.SupervisorCommissionCents},
		{platformW.ID, quote.PlatformFeeCents},
	}
	for _, cr := range credits {
		if cr.amount == 0 {
			continue
		}
		done, err := wallet.HasEntry(tx, cr.walletID, models.LedgerCredit, payRef)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if err := wallet.Credit(tx, cr.walletID, cr.amount, payRef); err != nil {
			return err
		}
	}

	now := time.Now()
	return tx.Model(&models.Project{}).
		Where("id = ?", project.ID).
		Update("settled_at", now).Error
}
