// Package cycle derives billing-cycle windows from a service's renewal date.
package cycle

import (
	"strings"
	"time"
)

// Window is the half-open billing period [Start, End]; ResetAt is the first
// instant of the next cycle.
type Window struct {
	Start   time.Time
	End     time.Time
	ResetAt time.Time
}

var cycleMonths = map[string]int{
	"monthly":       1,
	"quarterly":     3,
	"semi-annually": 6,
	"semiannually":  6,
	"annually":      12,
	"biennially":    24,
	"triennially":   36,
}

// Months maps a billing-cycle label to its length in calendar months.
// Unknown labels fall back to one month rather than erroring.
func Months(label string) int {
	if months, ok := cycleMonths[strings.ToLower(strings.TrimSpace(label))]; ok {
		return months
	}
	return 1
}

// Compute derives the current cycle window for a renewal date. The window
// ends one second before midnight of the renewal day and starts the cycle
// length earlier in calendar months, so variable month lengths are respected.
func Compute(renewalDate time.Time, cycleLabel string) Window {
	day := time.Date(
		renewalDate.Year(), renewalDate.Month(), renewalDate.Day(),
		0, 0, 0, 0, renewalDate.Location(),
	)
	end := day.Add(-time.Second)
	start := day.AddDate(0, -Months(cycleLabel), 0)
	return Window{
		Start:   start,
		End:     end,
		ResetAt: end.Add(time.Second),
	}
}
