package policy

import (
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
)

// Tier is one band of the time-based refund schedule.
type Tier struct {
	Name    string
	MinDays int
	Percent int64
}

// Schedule from most to least generous. Bands are matched top down on whole
// days remaining before the event.
var schedule = []Tier{
	{Name: constants.TierT30Plus, MinDays: 30, Percent: 90},
	{Name: constants.TierT15, MinDays: 15, Percent: 70},
	{Name: constants.TierT7, MinDays: 7, Percent: 50},
	{Name: constants.TierT3, MinDays: 3, Percent: 30},
	{Name: constants.TierT0, MinDays: 0, Percent: 0},
}

// Quote is the outcome of applying the schedule to a base amount.
type Quote struct {
	Tier               string
	Percent            int64
	DaysBefore         int
	BaseCents          int64
	RefundCents        int64
	NonRefundableCents int64
}

// DaysBefore returns the whole days between now and the event, floored.
// A request 29.9 days out counts as 29 days. Requests after the event
// produce a negative count.
func DaysBefore(eventDate, now time.Time) int {
	diff := eventDate.Sub(now)
	days := int(diff.Hours() / 24)
	if diff < 0 && diff%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// PercentFor maps whole days remaining to the refundable percentage.
// Past-event requests fall into the zero band.
func PercentFor(days int) (string, int64) {
	if days < 0 {
		return constants.TierT0, 0
	}
	for _, tier := range schedule {
		if days >= tier.MinDays {
			return tier.Name, tier.Percent
		}
	}
	return constants.TierT0, 0
}

// Compute applies the schedule to baseCents. Amounts stay in integer minor
// units, the division rounds half up.
func Compute(baseCents int64, eventDate, now time.Time) Quote {
	days := DaysBefore(eventDate, now)
	tier, percent := PercentFor(days)
	refund := RoundHalfUp(baseCents, percent)
	return Quote{
		Tier:               tier,
		Percent:            percent,
		DaysBefore:         days,
		BaseCents:          baseCents,
		RefundCents:        refund,
		NonRefundableCents: baseCents - refund,
	}
}

// RoundHalfUp computes total*percent/100 rounding .5 up, in integer cents.
func RoundHalfUp(totalCents, percent int64) int64 {
	if totalCents <= 0 || percent <= 0 {
		return 0
	}
	return (totalCents*percent + 50) / 100
}
