package pricing

import (
	"errors"
	"testing"

	"github.com/assignx/assignx-backend/pkg/models"
)

var mults = map[models.UrgencyTier]float64{
	models.Urgency24h:      1.5,
	models.Urgency48h:      1.3,
	models.Urgency72h:      1.15,
	models.UrgencyStandard: 1.0,
}

// 2000 words at 50¢/word, 24h urgency, 15% commission, 20% platform fee.
func Test_ComputeQuote_WordPriced(t *testing.T) {
	b, err := ComputeQuote(Input{
		WordCount:        2000,
		UrgencyTier:      models.Urgency24h,
		Multipliers:      mults,
		RatePerWordCents: 50,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.ClientPriceCents != 150000 {
		t.Fatalf("client price: want 150000, got %d", b.ClientPriceCents)
	}
	if b.DoerPayoutCents != 97500 {
		t.Fatalf("doer payout: want 97500, got %d", b.DoerPayoutCents)
	}
	if b.SupervisorCommissionCents != 22500 {
		t.Fatalf("commission: want 22500, got %d", b.SupervisorCommissionCents)
	}
	if b.PlatformFeeCents != 30000 {
		t.Fatalf("platform fee: want 30000, got %d", b.PlatformFeeCents)
	}
}

func Test_ComputeQuote_PagePriced(t *testing.T) {
	b, err := ComputeQuote(Input{
		PageCount:        3,
		UrgencyTier:      models.UrgencyStandard,
		Multipliers:      mults,
		RatePerPageCents: 15000,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.ClientPriceCents != 45000 {
		t.Fatalf("client price: want 45000, got %d", b.ClientPriceCents)
	}
}

// The three shares must sum to the client price exactly, for awkward
// amounts where each share rounds.
func Test_ComputeQuote_SumInvariant(t *testing.T) {
	for words := 1; words <= 997; words += 7 {
		for _, tier := range []models.UrgencyTier{models.Urgency24h, models.Urgency48h, models.Urgency72h, models.UrgencyStandard} {
			b, err := ComputeQuote(Input{
				WordCount:        words,
				UrgencyTier:      tier,
				Multipliers:      mults,
				RatePerWordCents: 37,
				CommissionRate:   0.17,
				PlatformFeeRate:  0.19,
			})
			if err != nil {
				t.Fatal(err)
			}
			sum := b.DoerPayoutCents + b.SupervisorCommissionCents + b.PlatformFeeCents
			if sum != b.ClientPriceCents {
				t.Fatalf("words=%d tier=%s: parts sum %d != price %d", words, tier, sum, b.ClientPriceCents)
			}
		}
	}
}

func Test_ComputeQuote_Deterministic(t *testing.T) {
	in := Input{
		WordCount:        1234,
		UrgencyTier:      models.Urgency48h,
		Multipliers:      mults,
		RatePerWordCents: 55,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
	}
	a, err := ComputeQuote(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ComputeQuote(in)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("same input, different output: %+v vs %+v", a, b)
	}
}

func Test_ComputeQuote_RejectsBadInput(t *testing.T) {
	base := Input{
		UrgencyTier:      models.UrgencyStandard,
		Multipliers:      mults,
		RatePerWordCents: 50,
		RatePerPageCents: 15000,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
	}

	// neither unit
	if _, err := ComputeQuote(base); !errors.Is(err, ErrInvalidQuoteInput) {
		t.Fatalf("want ErrInvalidQuoteInput, got %v", err)
	}

	// both units
	in := base
	in.WordCount, in.PageCount = 100, 2
	if _, err := ComputeQuote(in); !errors.Is(err, ErrInvalidQuoteInput) {
		t.Fatalf("want ErrInvalidQuoteInput, got %v", err)
	}

	// rates eating the whole price
	in = base
	in.WordCount = 100
	in.CommissionRate, in.PlatformFeeRate = 0.6, 0.5
	if _, err := ComputeQuote(in); !errors.Is(err, ErrInvalidQuoteInput) {
		t.Fatalf("want ErrInvalidQuoteInput, got %v", err)
	}
}

func Test_ComputeQuote_UnknownTier(t *testing.T) {
	_, err := ComputeQuote(Input{
		WordCount:        100,
		UrgencyTier:      models.UrgencyTier("6h"),
		Multipliers:      mults,
		RatePerWordCents: 50,
		CommissionRate:   0.15,
		PlatformFeeRate:  0.20,
	})
	if !errors.Is(err, ErrInvalidUrgencyTier) {
		t.Fatalf("want ErrInvalidUrgencyTier, got %v", err)
	}
}
