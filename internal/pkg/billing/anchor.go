package billing

import (
	"time"
	_ "time/tzdata"
)

// AnchorConfig describes when weekly charges happen, in business local time.
type AnchorConfig struct {
	Weekday  time.Weekday
	Hour     int
	Location *time.Location
}

// DefaultAnchorConfig bills Fridays at 10:00 America/New_York.
func DefaultAnchorConfig() AnchorConfig {
	return AnchorConfig{
		Weekday:  time.Friday,
		Hour:     10,
		Location: mustLoadLocation(BusinessTimezone),
	}
}

// NextBillingAnchor returns the first configured weekday strictly after the
// calendar day of now (in the business timezone) at the configured hour. When
// now already falls on that weekday the anchor is one week later, regardless
// of the time of day.
func NextBillingAnchor(now time.Time, cfg AnchorConfig) time.Time {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	days := (int(cfg.Weekday) - int(local.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	d := local.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), cfg.Hour, 0, 0, 0, loc)
}

const (
	billingWeek = 7 * 24 * time.Hour
	// finalCycleGrace separates cancel_at from the start of the last billed
	// week by far more than a DST shift, so the provider never opens week
	// weeks+1.
	finalCycleGrace = 24 * time.Hour
)

// SubscriptionEnd is the cancel_at for a subscription anchored at anchor that
// bills exactly weeks times: one day into the last billed week.
func SubscriptionEnd(anchor time.Time, weeks int) time.Time {
	if weeks <= 0 {
		return anchor
	}
	return anchor.Add(time.Duration(weeks-1)*billingWeek + finalCycleGrace)
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("billing: load location " + name + ": " + err.Error())
	}
	return loc
}
