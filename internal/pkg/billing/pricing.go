package billing

import (
	"fmt"
	"time"
)

// Program and currency identifiers for the apprenticeship offering.
const (
	ProgramApprenticeship = "barber-apprenticeship"
	CurrencyUSD           = "usd"
	BusinessTimezone      = "America/New_York"
)

// Pricing holds the business constants of the apprenticeship program. All
// money values are integer cents.
type Pricing struct {
	ProgramSlug        string
	Currency           string
	TotalTuitionCents  int64
	SetupFeeCents      int64
	TotalHoursRequired int
	MinHoursPerWeek    int
	MaxHoursPerWeek    int
	Anchor             AnchorConfig
}

// DefaultPricing returns the production pricing: $4,980 tuition, a $1,743
// setup fee, 2000 hours and weekly billing on Friday 10:00 New York time.
func DefaultPricing() Pricing {
	return Pricing{
		ProgramSlug:        ProgramApprenticeship,
		Currency:           CurrencyUSD,
		TotalTuitionCents:  498000,
		SetupFeeCents:      174300,
		TotalHoursRequired: 2000,
		MinHoursPerWeek:    20,
		MaxHoursPerWeek:    50,
		Anchor:             DefaultAnchorConfig(),
	}
}

// RemainingBalanceCents is the amount billed through weekly payments.
func (p Pricing) RemainingBalanceCents() int64 {
	return p.TotalTuitionCents - p.SetupFeeCents
}

// Schedule is the result of a pricing computation.
type Schedule struct {
	HoursPerWeek            int   `json:"hoursPerWeek"`
	TransferredHours        int   `json:"transferredHours"`
	HoursRemaining          int   `json:"hoursRemaining"`
	WeeksRemaining          int   `json:"weeksRemaining"`
	SetupFeeCents           int64 `json:"setupFeeCents"`
	RemainingBalanceCents   int64 `json:"remainingBalanceCents"`
	WeeklyPaymentCents      int64 `json:"weeklyPaymentCents"`
	TotalWeeklyPaymentCents int64 `json:"totalWeeklyPaymentCents"`
	OverCollectionCents     int64 `json:"overCollectionCents"`
}

// WeeklyPaymentDollars is derived from the cents value so display and
// provider amounts cannot drift apart.
func (s Schedule) WeeklyPaymentDollars() float64 {
	return float64(s.WeeklyPaymentCents) / 100
}

// SetupFeeDollars returns the setup fee in dollars for display.
func (s Schedule) SetupFeeDollars() float64 {
	return float64(s.SetupFeeCents) / 100
}

// Compute derives the weekly payment schedule for an enrollment. Transferred
// hours shorten the schedule but never reduce the price.
func (p Pricing) Compute(hoursPerWeek, transferredHoursVerified int) (Schedule, error) {
	const op = "pricing.compute"
	if hoursPerWeek < p.MinHoursPerWeek || hoursPerWeek > p.MaxHoursPerWeek {
		return Schedule{}, invalidInput(op, "hoursPerWeek must be between %d and %d", p.MinHoursPerWeek, p.MaxHoursPerWeek)
	}
	if transferredHoursVerified < 0 {
		return Schedule{}, invalidInput(op, "transferredHoursVerified must not be negative")
	}
	if transferredHoursVerified > p.TotalHoursRequired {
		return Schedule{}, invalidInput(op, "transferredHoursVerified must not exceed %d", p.TotalHoursRequired)
	}

	hoursRemaining := p.TotalHoursRequired - transferredHoursVerified
	if hoursRemaining < 0 {
		hoursRemaining = 0
	}
	weeks := ceilDiv(int64(hoursRemaining), int64(hoursPerWeek))
	if weeks <= 0 {
		return Schedule{}, invalidInput(op, "no hours remain to be billed")
	}

	remaining := p.RemainingBalanceCents()
	weekly := ceilDiv(remaining, weeks)
	total := weekly * weeks

	return Schedule{
		HoursPerWeek:            hoursPerWeek,
		TransferredHours:        transferredHoursVerified,
		HoursRemaining:          hoursRemaining,
		WeeksRemaining:          int(weeks),
		SetupFeeCents:           p.SetupFeeCents,
		RemainingBalanceCents:   remaining,
		WeeklyPaymentCents:      weekly,
		TotalWeeklyPaymentCents: total,
		OverCollectionCents:     total - remaining,
	}, nil
}

// Validate checks that the pricing constants are internally consistent.
func (p Pricing) Validate() error {
	switch {
	case p.TotalTuitionCents <= 0:
		return fmt.Errorf("total tuition must be positive")
	case p.SetupFeeCents < 0 || p.SetupFeeCents >= p.TotalTuitionCents:
		return fmt.Errorf("setup fee must be between 0 and total tuition")
	case p.TotalHoursRequired <= 0:
		return fmt.Errorf("total hours required must be positive")
	case p.MinHoursPerWeek <= 0 || p.MinHoursPerWeek > p.MaxHoursPerWeek:
		return fmt.Errorf("invalid hours per week range %d-%d", p.MinHoursPerWeek, p.MaxHoursPerWeek)
	case p.Anchor.Location == nil:
		return fmt.Errorf("anchor location is required")
	}
	return nil
}

// ProgramEnd estimates the date of the last weekly charge.
func (s Schedule) ProgramEnd(anchor time.Time) time.Time {
	return anchor.AddDate(0, 0, (s.WeeksRemaining-1)*7)
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
