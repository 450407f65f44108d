package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Netflix", "netflix"},
		{"YouTube Premium", "youtube-premium"},
		{"  Disney+   Plus ", "disney+-plus"},
		{"Adobe\tCreative\nCloud", "adobe-creative-cloud"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupKey(tt.in))
		})
	}
}

func TestParseBillingCycle(t *testing.T) {
	assert.Equal(t, CycleWeekly, ParseBillingCycle("Weekly"))
	assert.Equal(t, CycleYearly, ParseBillingCycle("annual"))
	assert.Equal(t, CycleYearly, ParseBillingCycle("yearly"))
	assert.Equal(t, CycleMonthly, ParseBillingCycle("monthly"))
	assert.Equal(t, CycleMonthly, ParseBillingCycle("quarterly"))
	assert.Equal(t, CycleMonthly, ParseBillingCycle(""))
}

func TestBillingCycleNext(t *testing.T) {
	base := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC), CycleWeekly.Next(base))
	assert.Equal(t, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), CycleMonthly.Next(base))
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), CycleYearly.Next(base))
}

func TestFindDuplicate(t *testing.T) {
	existing := []Subscription{
		{ID: "1", ServiceName: "Netflix", ServiceSlug: "netflix", Amount: 15.49},
		{ID: "2", ServiceName: "YouTube Premium", ServiceSlug: "youtube-premium", Amount: 13.99},
		{ID: "3", ServiceName: "Adobe Creative Cloud", Amount: 54.99},
	}

	tests := []struct {
		name   string
		parsed ParsedSubscription
		wantID string
	}{
		{"same slug different amount", ParsedSubscription{ServiceName: "netflix", Amount: 22.99}, "1"},
		{"same slug by whitespace", ParsedSubscription{ServiceName: "YouTube  Premium", Amount: 1}, "2"},
		{"slug derived from name", ParsedSubscription{ServiceName: "adobe creative cloud", Amount: 0}, "3"},
		{"name contained and same amount", ParsedSubscription{ServiceName: "YouTube", Amount: 13.99}, "2"},
		{"name contained but other amount", ParsedSubscription{ServiceName: "YouTube", Amount: 11.99}, ""},
		{"unrelated", ParsedSubscription{ServiceName: "Spotify", Amount: 10.99}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dup := FindDuplicate(&tt.parsed, existing)
			if tt.wantID == "" {
				assert.Nil(t, dup)
				return
			}
			require.NotNil(t, dup)
			assert.Equal(t, tt.wantID, dup.ID)
		})
	}
}

func TestDecide(t *testing.T) {
	existing := []Subscription{{ID: "1", ServiceName: "Netflix", ServiceSlug: "netflix", Amount: 15.49}}

	tests := []struct {
		name   string
		parsed ParsedSubscription
		want   Decision
	}{
		{"duplicate", ParsedSubscription{ServiceName: "Netflix", Amount: 15.49}, DecisionSkipDuplicate},
		{"duplicate wins over zero amount", ParsedSubscription{ServiceName: "Netflix", Amount: 0}, DecisionSkipDuplicate},
		{"zero amount", ParsedSubscription{ServiceName: "Spotify", Amount: 0}, DecisionSkipZeroAmount},
		{"zero amount trial in description", ParsedSubscription{ServiceName: "Spotify", Amount: 0, Description: "Free Trial"}, DecisionCreate},
		{"zero amount trial in name", ParsedSubscription{ServiceName: "Hulu Trial", Amount: 0}, DecisionCreate},
		{"new paid", ParsedSubscription{ServiceName: "Spotify", Amount: 10.99}, DecisionCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decide(&tt.parsed, existing)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	auth := &AuthError{Provider: "gmail"}
	fetch := &FetchError{Provider: "gmail", Cause: assert.AnError}

	assert.True(t, IsAuthError(auth))
	assert.False(t, IsFetchError(auth))
	assert.True(t, IsFetchError(fetch))
	assert.ErrorIs(t, fetch, assert.AnError)
	assert.Contains(t, auth.Error(), "reconnect required")

	wrapped := &RetryableError{Err: assert.AnError}
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(assert.AnError))
}
