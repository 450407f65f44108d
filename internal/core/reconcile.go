package core

import (
	"math"
	"strings"
)

// DedupKey normalizes a service name into the slug used for duplicate detection:
// lowercased, with whitespace runs collapsed to single hyphens.
func DedupKey(serviceName string) string {
	return strings.Join(strings.Fields(strings.ToLower(serviceName)), "-")
}

// IsTrial reports whether the candidate's description or name mentions a trial
func IsTrial(p *ParsedSubscription) bool {
	return strings.Contains(strings.ToLower(p.Description), "trial") ||
		strings.Contains(strings.ToLower(p.ServiceName), "trial")
}

// sameAmount compares amounts at cent precision
func sameAmount(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

// FindDuplicate returns the existing subscription the candidate duplicates, if any.
// A record matches when it shares the dedup key, or when its name contains the
// candidate's name case-insensitively and the amounts are identical.
func FindDuplicate(p *ParsedSubscription, existing []Subscription) *Subscription {
	key := DedupKey(p.ServiceName)
	name := strings.ToLower(strings.TrimSpace(p.ServiceName))

	for i := range existing {
		sub := &existing[i]
		slug := sub.ServiceSlug
		if slug == "" {
			slug = DedupKey(sub.ServiceName)
		}
		if slug == key {
			return sub
		}
		if name != "" && strings.Contains(strings.ToLower(sub.ServiceName), name) && sameAmount(sub.Amount, p.Amount) {
			return sub
		}
	}
	return nil
}

// Decide applies reconciliation and the zero-amount rule to a candidate.
// The returned subscription is the matched record for duplicates.
func Decide(p *ParsedSubscription, existing []Subscription) (Decision, *Subscription) {
	if dup := FindDuplicate(p, existing); dup != nil {
		return DecisionSkipDuplicate, dup
	}
	if p.Amount == 0 && !IsTrial(p) {
		return DecisionSkipZeroAmount, nil
	}
	return DecisionCreate, nil
}
