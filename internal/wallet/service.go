package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/assignx/assignx-backend/pkg/models"
)

var (
	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance means available funds do not cover the operation.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidHoldState means no matching hold covers the release. This is
	// an integrity error: it points at an earlier atomicity violation and is
	// surfaced for manual reconciliation, never auto-corrected.
	ErrInvalidHoldState = errors.New("invalid hold state")

	// ErrWalletNotFound means the wallet row does not exist.
	ErrWalletNotFound = errors.New("wallet not found")
)

// Disposition says what happens to held money on release.
type Disposition string

const (
	DispositionRefund Disposition = "refund" // back to available
	DispositionDebit  Disposition = "debit"  // leaves the wallet for good
)

// Every operation below takes the caller's *gorm.DB, which is expected to be
// an open transaction when the operation is a side effect of a state
// transition. The balance mutation and its ledger entry commit together or
// not at all.
//
// Ledger amount convention (see Replay):
//   credit          +amount   available grows
//   debit           -amount   available shrinks
//   hold            +amount   available -> held
//   release/refund  +amount   held -> available
//   release/debit   -amount   held -> out of the wallet

// lockWallet loads a wallet FOR UPDATE inside tx.
func lockWallet(tx *gorm.DB, walletID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&w, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func appendEntry(tx *gorm.DB, walletID uuid.UUID, amount int64, kind models.LedgerKind, reference string) error {
	return tx.Create(&models.LedgerEntry{
		WalletID:    walletID,
		AmountCents: amount,
		Kind:        kind,
		Reference:   reference,
		CreatedAt:   time.Now(),
	}).Error
}

// Credit adds amount to the wallet's available balance.
func Credit(tx *gorm.DB, walletID uuid.UUID, amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w, err := lockWallet(tx, walletID)
	if err != nil {
		return err
	}
	if err := appendEntry(tx, w.ID, amount, models.LedgerCredit, reference); err != nil {
		return err
	}
	return tx.Model(w).Updates(map[string]any{
		"available_cents":      gorm.Expr("available_cents + ?", amount),
		"total_credited_cents": gorm.Expr("total_credited_cents + ?", amount),
		"updated_at":           time.Now(),
	}).Error
}

// Debit removes amount from the available balance (e.g. a withdrawal).
func Debit(tx *gorm.DB, walletID uuid.UUID, amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w, err := lockWallet(tx, walletID)
	if err != nil {
		return err
	}
	if w.AvailableCents < amount {
		return ErrInsufficientBalance
	}
	if err := appendEntry(tx, w.ID, -amount, models.LedgerDebit, reference); err != nil {
		return err
	}
	return tx.Model(w).Updates(map[string]any{
		"available_cents":       gorm.Expr("available_cents - ?", amount),
		"total_debited_cents":   gorm.Expr("total_debited_cents + ?", amount),
		"total_withdrawn_cents": gorm.Expr("total_withdrawn_cents + ?", amount),
		"updated_at":            time.Now(),
	}).Error
}

// Hold moves amount from available to held, earmarked by reference.
func Hold(tx *gorm.DB, walletID uuid.UUID, amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w, err := lockWallet(tx, walletID)
	if err != nil {
		return err
	}
	if w.AvailableCents < amount {
		return ErrInsufficientBalance
	}
	if err := appendEntry(tx, w.ID, amount, models.LedgerHold, reference); err != nil {
		return err
	}
	return tx.Model(w).Updates(map[string]any{
		"available_cents": gorm.Expr("available_cents - ?", amount),
		"held_cents":      gorm.Expr("held_cents + ?", amount),
		"updated_at":      time.Now(),
	}).Error
}

// ReleaseHold resolves a hold placed earlier under the same reference:
// refund moves it back to available, debit removes it from the wallet.
func ReleaseHold(tx *gorm.DB, walletID uuid.UUID, amount int64, reference string, d Disposition) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w, err := lockWallet(tx, walletID)
	if err != nil {
		return err
	}

	// The release must be covered by a hold entry with this reference.
	var held models.LedgerEntry
	err = tx.Where("wallet_id = ? AND kind = ? AND reference = ?", w.ID, models.LedgerHold, reference).
		First(&held).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidHoldState
	}
	if err != nil {
		return err
	}
	if held.AmountCents < amount || w.HeldCents < amount {
		return ErrInvalidHoldState
	}

	signed := amount
	updates := map[string]any{
		"held_cents": gorm.Expr("held_cents - ?", amount),
		"updated_at": time.Now(),
	}
	switch d {
	case DispositionRefund:
		updates["available_cents"] = gorm.Expr("available_cents + ?", amount)
	case DispositionDebit:
		signed = -amount
		updates["total_debited_cents"] = gorm.Expr("total_debited_cents + ?", amount)
	default:
		return ErrInvalidHoldState
	}

	if err := appendEntry(tx, w.ID, signed, models.LedgerRelease, reference); err != nil {
		return err
	}
	return tx.Model(w).Updates(updates).Error
}

// HasEntry reports whether a ledger entry already exists for the given
// (wallet, kind, reference). Settlement uses this to skip sub-steps that
// committed before a crash.
func HasEntry(tx *gorm.DB, walletID uuid.UUID, kind models.LedgerKind, reference string) (bool, error) {
	var cnt int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("wallet_id = ? AND kind = ? AND reference = ?", walletID, kind, reference).
		Count(&cnt).Error
	return cnt > 0, err
}

// ForOwner loads the wallet belonging to a profile.
func ForOwner(tx *gorm.DB, ownerID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.First(&w, "owner_id = ?", ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// PlatformWallet loads the platform pool wallet, creating it on first use.
func PlatformWallet(tx *gorm.DB) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.Where("kind = ? AND owner_id IS NULL", models.WalletPlatform).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = models.Wallet{Kind: models.WalletPlatform}
		if err := tx.Create(&w).Error; err != nil {
			return nil, err
		}
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Replay folds a wallet's ledger entries into the balances they imply.
// The cached columns on the wallet row are an optimization; this is the
// source of truth and what the reconciliation tests compare against.
func Replay(entries []models.LedgerEntry) (available, held int64) {
	for _, e := range entries {
		switch e.Kind {
		case models.LedgerCredit, models.LedgerDebit:
			available += e.AmountCents
		case models.LedgerHold:
			available -= e.AmountCents
			held += e.AmountCents
		case models.LedgerRelease:
			if e.AmountCents >= 0 { // refund
				held -= e.AmountCents
				available += e.AmountCents
			} else { // captured as debit
				held += e.AmountCents
			}
		}
	}
	return available, held
}
