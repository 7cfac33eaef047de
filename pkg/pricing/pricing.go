package pricing

import (
	"errors"
	"math"

	"github.com/assignx/assignx-backend/pkg/models"
)

var (
	// ErrInvalidQuoteInput means the caller did not supply exactly one of
	// word count / page count, or a rate was missing or non-positive.
	ErrInvalidQuoteInput = errors.New("invalid quote input")

	// ErrInvalidUrgencyTier means the urgency tier has no configured multiplier.
	ErrInvalidUrgencyTier = errors.New("invalid urgency tier")
)

// Input carries everything ComputeQuote needs. Rates are configuration,
// passed in per call so the function stays pure and reproducible.
type Input struct {
	WordCount int
	PageCount int

	UrgencyTier models.UrgencyTier
	Multipliers map[models.UrgencyTier]float64

	RatePerWordCents int64
	RatePerPageCents int64

	CommissionRate  float64 // supervisor share of client price
	PlatformFeeRate float64 // platform share of client price
}

// Breakdown is the priced split of one quote. The parts always sum to
// ClientPriceCents exactly: the platform fee is computed as the residual,
// never independently.
type Breakdown struct {
	ClientPriceCents          int64
	DoerPayoutCents           int64
	SupervisorCommissionCents int64
	PlatformFeeCents          int64
	UrgencyMultiplier         float64
}

// roundHalfUp rounds to the nearest minor currency unit, ties away from zero.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}

// ComputeQuote prices a project from its size, urgency and the configured
// rates. Exactly one of WordCount/PageCount must be positive. Rounding is
// applied once on the client price, then once per share; intermediate steps
// are never rounded.
func ComputeQuote(in Input) (Breakdown, error) {
	wordPriced := in.WordCount > 0
	pagePriced := in.PageCount > 0
	if wordPriced == pagePriced { // both or neither
		return Breakdown{}, ErrInvalidQuoteInput
	}

	var baseCents int64
	switch {
	case wordPriced:
		if in.RatePerWordCents <= 0 {
			return Breakdown{}, ErrInvalidQuoteInput
		}
		baseCents = int64(in.WordCount) * in.RatePerWordCents
	case pagePriced:
		if in.RatePerPageCents <= 0 {
			return Breakdown{}, ErrInvalidQuoteInput
		}
		baseCents = int64(in.PageCount) * in.RatePerPageCents
	}

	if in.CommissionRate < 0 || in.PlatformFeeRate < 0 || in.CommissionRate+in.PlatformFeeRate >= 1 {
		return Breakdown{}, ErrInvalidQuoteInput
	}

	mult, ok := in.Multipliers[in.UrgencyTier]
	if !ok || mult <= 0 {
		return Breakdown{}, ErrInvalidUrgencyTier
	}

	clientPrice := roundHalfUp(float64(baseCents) * mult)
	doerPayout := roundHalfUp(float64(clientPrice) * (1 - in.CommissionRate - in.PlatformFeeRate))
	commission := roundHalfUp(float64(clientPrice) * in.CommissionRate)
	platformFee := clientPrice - doerPayout - commission

	return Breakdown{
		ClientPriceCents:          clientPrice,
		DoerPayoutCents:           doerPayout,
		SupervisorCommissionCents: commission,
		PlatformFeeCents:          platformFee,
		UrgencyMultiplier:         mult,
	}, nil
}
