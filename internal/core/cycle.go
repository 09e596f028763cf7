package core

import "time"

// CycleTag buckets movements and ledgers into a billing period, formatted
// YYYY-MM. The empty tag is meaningful for debt ledgers only: it selects the
// rolling "current" ledger and matches only other empty tags.
type CycleTag string

const cycleLayout = "2006-01"

// Validate checks the YYYY-MM format. Empty tags are invalid here; callers
// that allow the rolling ledger check for emptiness first.
func (c CycleTag) Validate() error {
	if _, err := time.Parse(cycleLayout, string(c)); err != nil {
		return ErrInvalidCycleTag
	}
	return nil
}

func (c CycleTag) IsZero() bool { return c == "" }

// CycleOf returns the cycle tag of the month t falls in.
func CycleOf(t time.Time) CycleTag {
	return CycleTag(t.Format(cycleLayout))
}
