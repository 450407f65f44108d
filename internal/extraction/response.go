package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var currencySymbols = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
	"₦": "NGN",
	"¥": "JPY",
	"₹": "INR",
}

// defaultAIConfidence is used when the model omits a confidence
const defaultAIConfidence = 0.8

// itemSchema describes one extraction result. Types are loose on purpose;
// normalization coerces strings such as "$15.99" afterwards.
func itemSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	looseNumber := map[string]any{"type": []string{"number", "string", "null"}}
	return map[string]any{
		"type":     "object",
		"required": []string{"isSubscription"},
		"properties": map[string]any{
			"id":              map[string]any{"type": []string{"string", "number"}},
			"isSubscription":  map[string]any{"type": "boolean"},
			"serviceName":     nullableString,
			"description":     nullableString,
			"amount":          looseNumber,
			"currency":        nullableString,
			"billingCycle":    nullableString,
			"nextBillingDate": nullableString,
			"cancellationUrl": nullableString,
			"confidence":      looseNumber,
		},
	}
}

func batchSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"results"},
		"properties": map[string]any{
			"results": map[string]any{
				"type":  "array",
				"items": itemSchema(),
			},
		},
	}
}

// ResponseValidator checks model replies against the expected JSON shape
type ResponseValidator struct {
	single *jsonschema.Schema
	batch  *jsonschema.Schema
}

// NewResponseValidator compiles the reply schemas
func NewResponseValidator() (*ResponseValidator, error) {
	single, err := compileSchema("single.json", itemSchema())
	if err != nil {
		return nil, err
	}
	batch, err := compileSchema("batch.json", batchSchema())
	if err != nil {
		return nil, err
	}
	return &ResponseValidator{single: single, batch: batch}, nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, doc []byte) error {
	if schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	return nil
}

// rawItem is one reply entry before normalization
type rawItem struct {
	ID              any     `json:"id"`
	IsSubscription  *bool   `json:"isSubscription"`
	ServiceName     *string `json:"serviceName"`
	Description     *string `json:"description"`
	Amount          any     `json:"amount"`
	Currency        *string `json:"currency"`
	BillingCycle    *string `json:"billingCycle"`
	NextBillingDate *string `json:"nextBillingDate"`
	CancellationURL *string `json:"cancellationUrl"`
	Confidence      any     `json:"confidence"`
}

func (r rawItem) id() string {
	switch v := r.ID.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// extractJSON returns the outermost JSON object or array in a model reply.
// Models often wrap JSON in prose or code fences.
func extractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON found in reply", core.ErrMalformedResponse)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return "", fmt.Errorf("%w: unterminated JSON in reply", core.ErrMalformedResponse)
	}
	return text[start : end+1], nil
}

// parseSingleReply decodes a single-email reply. A nil result with a nil error
// means the model judged the email not to be a subscription.
func parseSingleReply(reply string, v *ResponseValidator, source string) (*core.ParsedSubscription, error) {
	doc, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := validate(v.single, []byte(doc)); err != nil {
			return nil, err
		}
	}
	var item rawItem
	if err := json.Unmarshal([]byte(doc), &item); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	return normalize(item, source)
}

// parseBatchReply decodes a batch reply into entries keyed by email id.
// Both {"results": [...]} and a bare array are accepted.
func parseBatchReply(reply string, v *ResponseValidator) (map[string]rawItem, error) {
	doc, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(doc, "[") {
		doc = `{"results":` + doc + `}`
	}
	if v != nil {
		if err := validate(v.batch, []byte(doc)); err != nil {
			return nil, err
		}
	}

	var envelope struct {
		Results []rawItem `json:"results"`
	}
	if err := json.Unmarshal([]byte(doc), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}

	byID := make(map[string]rawItem, len(envelope.Results))
	for _, item := range envelope.Results {
		if id := item.id(); id != "" {
			if _, dup := byID[id]; !dup {
				byID[id] = item
			}
		}
	}
	return byID, nil
}

// normalize turns a reply entry into a ParsedSubscription, coercing loose
// values. Entries missing a service name or amount fail with ErrValidation.
func normalize(item rawItem, source string) (*core.ParsedSubscription, error) {
	if item.IsSubscription == nil || !*item.IsSubscription {
		return nil, nil
	}

	name := strings.TrimSpace(deref(item.ServiceName))
	if name == "" {
		return nil, fmt.Errorf("%w: missing serviceName", core.ErrValidation)
	}

	amount, ok := toFloat(item.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: missing or unreadable amount for %s", core.ErrValidation, name)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative amount for %s", core.ErrValidation, name)
	}

	confidence, ok := toFloat(item.Confidence)
	if !ok {
		confidence = defaultAIConfidence
	}
	confidence = math.Max(0, math.Min(1, confidence))

	p := &core.ParsedSubscription{
		ServiceName:     name,
		Description:     strings.TrimSpace(deref(item.Description)),
		Amount:          math.Round(amount*100) / 100,
		Currency:        normalizeCurrency(deref(item.Currency), item.Amount),
		BillingCycle:    core.ParseBillingCycle(deref(item.BillingCycle)),
		NextBillingDate: parseISODate(deref(item.NextBillingDate)),
		CancellationURL: normalizeURL(deref(item.CancellationURL)),
		Confidence:      confidence,
		Source:          source,
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toFloat accepts JSON numbers and money-like strings such as "$1,299.00"
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var b strings.Builder
		for _, r := range t {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				b.WriteRune(r)
			}
		}
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func normalizeCurrency(code string, amount any) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if c, ok := currencySymbols[code]; ok {
		return c
	}
	if len(code) == 3 {
		return code
	}
	if s, ok := amount.(string); ok {
		for sym, c := range currencySymbols {
			if strings.Contains(s, sym) {
				return c
			}
		}
	}
	return "USD"
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return ""
}

func parseISODate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
