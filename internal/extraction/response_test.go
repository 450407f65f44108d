package extraction

import (
	"testing"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"plain object", `{"isSubscription": false}`, `{"isSubscription": false}`},
		{"code fence", "```json\n{\"a\": {\"b\": 1}}\n```", `{"a": {"b": 1}}`},
		{"prose around", "Here you go: {\"a\": 1} Hope that helps.", `{"a": 1}`},
		{"bare array", `Results: [{"id": "1"}]`, `[{"id": "1"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := extractJSON("no json here")
	assert.ErrorIs(t, err, core.ErrMalformedResponse)
}

func TestParseSingleReply(t *testing.T) {
	v, err := NewResponseValidator()
	require.NoError(t, err)

	t.Run("subscription", func(t *testing.T) {
		reply := `{"isSubscription": true, "serviceName": "Netflix", "amount": "$15.49",
			"currency": "$", "billingCycle": "Monthly", "nextBillingDate": "2025-03-03",
			"cancellationUrl": "https://netflix.com/cancel", "confidence": 0.95}`
		p, err := parseSingleReply(reply, v, core.SourceAISingle)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "Netflix", p.ServiceName)
		assert.Equal(t, 15.49, p.Amount)
		assert.Equal(t, "USD", p.Currency)
		assert.Equal(t, core.CycleMonthly, p.BillingCycle)
		require.NotNil(t, p.NextBillingDate)
		assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), *p.NextBillingDate)
		assert.Equal(t, "https://netflix.com/cancel", p.CancellationURL)
		assert.Equal(t, 0.95, p.Confidence)
		assert.Equal(t, core.SourceAISingle, p.Source)
	})

	t.Run("not a subscription", func(t *testing.T) {
		p, err := parseSingleReply(`{"isSubscription": false}`, v, core.SourceAISingle)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := parseSingleReply(`{"isSubscription": "yes", "serviceName": "X", "amount": 1}`, v, core.SourceAISingle)
		assert.ErrorIs(t, err, core.ErrMalformedResponse)
	})

	t.Run("without validator", func(t *testing.T) {
		p, err := parseSingleReply(`{"isSubscription": true, "serviceName": "X", "amount": 2}`, nil, core.SourceAISingle)
		require.NoError(t, err)
		assert.Equal(t, 2.0, p.Amount)
	})
}

func TestParseBatchReply(t *testing.T) {
	v, err := NewResponseValidator()
	require.NoError(t, err)

	t.Run("envelope", func(t *testing.T) {
		byID, err := parseBatchReply(`{"results": [
			{"id": "a", "isSubscription": true, "serviceName": "Spotify", "amount": 9.99},
			{"id": 7, "isSubscription": false}
		]}`, v)
		require.NoError(t, err)
		assert.Len(t, byID, 2)
		assert.Contains(t, byID, "a")
		assert.Contains(t, byID, "7")
	})

	t.Run("bare array", func(t *testing.T) {
		byID, err := parseBatchReply(`[{"id": "a", "isSubscription": false}]`, v)
		require.NoError(t, err)
		assert.Contains(t, byID, "a")
	})

	t.Run("missing results", func(t *testing.T) {
		_, err := parseBatchReply(`{"items": []}`, v)
		assert.ErrorIs(t, err, core.ErrMalformedResponse)
	})
}

func TestNormalize(t *testing.T) {
	yes := true
	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		item    rawItem
		wantErr error
		check   func(t *testing.T, p *core.ParsedSubscription)
	}{
		{
			name:    "missing name",
			item:    rawItem{IsSubscription: &yes, Amount: 5.0},
			wantErr: core.ErrValidation,
		},
		{
			name:    "missing amount",
			item:    rawItem{IsSubscription: &yes, ServiceName: str("Hulu")},
			wantErr: core.ErrValidation,
		},
		{
			name:    "negative amount",
			item:    rawItem{IsSubscription: &yes, ServiceName: str("Hulu"), Amount: -1.0},
			wantErr: core.ErrValidation,
		},
		{
			name: "zero amount allowed",
			item: rawItem{IsSubscription: &yes, ServiceName: str("Hulu"), Amount: 0.0, Description: str("Free trial")},
			check: func(t *testing.T, p *core.ParsedSubscription) {
				assert.Equal(t, 0.0, p.Amount)
				assert.True(t, core.IsTrial(p))
			},
		},
		{
			name: "money string and symbol currency",
			item: rawItem{IsSubscription: &yes, ServiceName: str("Adobe"), Amount: "£1,299.50"},
			check: func(t *testing.T, p *core.ParsedSubscription) {
				assert.Equal(t, 1299.5, p.Amount)
				assert.Equal(t, "GBP", p.Currency)
			},
		},
		{
			name: "defaults",
			item: rawItem{IsSubscription: &yes, ServiceName: str(" Disney+ "), Amount: 7.99, BillingCycle: str("fortnightly")},
			check: func(t *testing.T, p *core.ParsedSubscription) {
				assert.Equal(t, "Disney+", p.ServiceName)
				assert.Equal(t, "USD", p.Currency)
				assert.Equal(t, core.CycleMonthly, p.BillingCycle)
				assert.Equal(t, defaultAIConfidence, p.Confidence)
				assert.Nil(t, p.NextBillingDate)
			},
		},
		{
			name: "clamps confidence and drops bad url",
			item: rawItem{IsSubscription: &yes, ServiceName: str("X"), Amount: 1.0, Confidence: 1.7, CancellationURL: str("settings page")},
			check: func(t *testing.T, p *core.ParsedSubscription) {
				assert.Equal(t, 1.0, p.Confidence)
				assert.Empty(t, p.CancellationURL)
			},
		},
		{
			name: "yearly and rfc3339 date",
			item: rawItem{IsSubscription: &yes, ServiceName: str("X"), Amount: 99.0, BillingCycle: str("annual"), NextBillingDate: str("2025-06-01T10:00:00Z")},
			check: func(t *testing.T, p *core.ParsedSubscription) {
				assert.Equal(t, core.CycleYearly, p.BillingCycle)
				require.NotNil(t, p.NextBillingDate)
				assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *p.NextBillingDate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := normalize(tt.item, core.SourceAIBatch)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, core.SourceAIBatch, p.Source)
			tt.check(t, p)
		})
	}
}
