package extraction

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/Threadigit/BillDrop/internal/utils"
)

const (
	unknownService = "Unknown Service"
	// how far past a date cue the date itself may start
	dateWindow = 60
	maxDateLen = 24

	regexConfidence     = 0.5
	regexZeroConfidence = 0.3
)

var (
	rePeriodSuffix = regexp.MustCompile(`(?i)^\s*(?:/|per\s+|a\s+|every\s+)\s*(month|mo|year|yr|annum|week|wk)\b`)
	reYearlyHint   = regexp.MustCompile(`(?i)year|annual|annum|/yr\b`)
	reWeeklyHint   = regexp.MustCompile(`(?i)week|/wk\b`)
	reOrdinal      = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
)

var dateLayouts = []string{
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
}

// RegexExtractor is the last extraction stage. It works from pattern tables
// alone and always produces a result.
type RegexExtractor struct {
	tables atomic.Pointer[patterns.Tables]
}

// NewRegexExtractor creates a regex extractor over tables
func NewRegexExtractor(tables *patterns.Tables) *RegexExtractor {
	r := &RegexExtractor{}
	r.tables.Store(tables)
	return r
}

// SetTables swaps the pattern tables
func (r *RegexExtractor) SetTables(t *patterns.Tables) {
	r.tables.Store(t)
}

type amountMatch struct {
	pos      int
	value    float64
	currency string
	cycle    core.BillingCycle
}

// Fallback extracts a subscription with pattern matching only. The service
// name is the hint when given, then the sender domain, then "Unknown Service".
// When several amounts appear, one tagged with a period ("/month", "per year")
// wins over an untagged one, and non-zero amounts win over zero.
func (r *RegexExtractor) Fallback(subject, from, body, hint string) *core.ParsedSubscription {
	t := r.tables.Load()
	text := subject + "\n" + body

	name := strings.TrimSpace(hint)
	if name == "" {
		name = t.SenderName(from)
	}
	if name == "" {
		name = unknownService
	}

	matches := findAmounts(t, text)
	chosen := pickAmount(matches)

	p := &core.ParsedSubscription{
		ServiceName:     name,
		Currency:        "USD",
		BillingCycle:    core.CycleMonthly,
		NextBillingDate: findNextDate(t, text),
		Confidence:      regexZeroConfidence,
		Source:          core.SourceRegex,
	}

	if chosen != nil {
		p.Amount = chosen.value
		p.Currency = currencyFor(chosen, matches)
		if chosen.cycle != "" {
			p.BillingCycle = chosen.cycle
		} else {
			p.BillingCycle = cycleFromText(text)
		}
	} else {
		p.BillingCycle = cycleFromText(text)
	}

	if p.Amount > 0 {
		p.Confidence = regexConfidence
	}
	if strings.Contains(strings.ToLower(text), "trial") {
		p.Description = "Trial"
	}
	return p
}

func findAmounts(t *patterns.Tables, text string) []amountMatch {
	var out []amountMatch
	for _, a := range t.Amounts {
		for _, loc := range a.Pattern.FindAllStringSubmatchIndex(text, -1) {
			if loc[2] < 0 {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[2]:loc[3]], ",", ""), 64)
			if err != nil || v < 0 {
				continue
			}
			m := amountMatch{
				pos:      loc[2],
				value:    math.Round(v*100) / 100,
				currency: a.Currency,
			}
			if a.Period != "" {
				m.cycle = core.ParseBillingCycle(a.Period)
			} else if sm := rePeriodSuffix.FindStringSubmatch(text[loc[1]:]); sm != nil {
				m.cycle = core.ParseBillingCycle(normalizePeriod(sm[1]))
			}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

func normalizePeriod(p string) string {
	switch strings.ToLower(p) {
	case "mo":
		return "monthly"
	case "yr", "annum":
		return "yearly"
	case "wk":
		return "weekly"
	default:
		return p
	}
}

func pickAmount(matches []amountMatch) *amountMatch {
	for i := range matches {
		if matches[i].cycle != "" && matches[i].value > 0 {
			return &matches[i]
		}
	}
	for i := range matches {
		if matches[i].value > 0 {
			return &matches[i]
		}
	}
	if len(matches) > 0 {
		return &matches[0]
	}
	return nil
}

// currencyFor prefers the chosen match's currency, then one from a match of
// the same value, then any currency seen in the text
func currencyFor(chosen *amountMatch, all []amountMatch) string {
	if chosen.currency != "" {
		return chosen.currency
	}
	for _, m := range all {
		if m.currency != "" && m.value == chosen.value {
			return m.currency
		}
	}
	for _, m := range all {
		if m.currency != "" {
			return m.currency
		}
	}
	return "USD"
}

func cycleFromText(text string) core.BillingCycle {
	switch {
	case reYearlyHint.MatchString(text):
		return core.CycleYearly
	case reWeeklyHint.MatchString(text):
		return core.CycleWeekly
	default:
		return core.CycleMonthly
	}
}

// findNextDate looks for a date shortly after a renewal cue
func findNextDate(t *patterns.Tables, text string) *time.Time {
	lower := strings.ToLower(text)
	for _, cue := range t.DateCues {
		idx := strings.Index(lower, cue)
		if idx < 0 {
			continue
		}
		window := utils.CutUTF8(lower[idx+len(cue):], dateWindow+maxDateLen)

		best := -1
		found := ""
		for _, re := range t.DatePatterns {
			loc := re.FindStringIndex(window)
			if loc != nil && loc[0] <= dateWindow && (best < 0 || loc[0] < best) {
				best = loc[0]
				found = window[loc[0]:loc[1]]
			}
		}
		if found == "" {
			continue
		}
		if d := parseLooseDate(found); d != nil {
			return d
		}
	}
	return nil
}

func parseLooseDate(s string) *time.Time {
	s = reOrdinal.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(",", " ", ".", " ").Replace(s)
	s = patterns.TitleCase(utils.CollapseWhitespace(s))

	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
