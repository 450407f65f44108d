package mailbox

import (
	"sort"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
)

// filterRecent keeps messages dated inside the lookback window, newest first,
// capped at maxCount when positive. Undated messages are dropped.
func filterRecent(msgs []core.RawMessage, now time.Time, sinceDays, maxCount int) []core.RawMessage {
	cutoff := now.AddDate(0, 0, -sinceDays)

	recent := make([]core.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Date.IsZero() || m.Date.Before(cutoff) {
			continue
		}
		recent = append(recent, m)
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Date.After(recent[j].Date)
	})

	if maxCount > 0 && len(recent) > maxCount {
		recent = recent[:maxCount]
	}
	return recent
}
