// Package candidate scores raw mailbox messages for subscription likelihood.
package candidate

import (
	"net/mail"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/Threadigit/BillDrop/internal/senderlist"
	"go.uber.org/zap"
)

const (
	maxScore     = 100
	maxNameWords = 4
)

// Filter is the keyword/service/amount heuristic classifier. It has no state
// besides its tables, so the same input always yields the same output.
type Filter struct {
	tables  atomic.Pointer[patterns.Tables]
	ignored *senderlist.Checker
	logger  *zap.Logger
}

// NewFilter creates a new candidate filter
func NewFilter(tables *patterns.Tables, logger *zap.Logger) *Filter {
	f := &Filter{logger: logger}
	f.tables.Store(tables)
	return f
}

// WithIgnoredSenders drops messages from the checker's domains before scoring
func (f *Filter) WithIgnoredSenders(c *senderlist.Checker) *Filter {
	f.ignored = c
	return f
}

// SetTables swaps the pattern tables, used by hot reload
func (f *Filter) SetTables(t *patterns.Tables) {
	f.tables.Store(t)
}

// Filter scores every message and returns the retained ones by descending
// confidence. Equal confidences keep their input order.
func (f *Filter) Filter(messages []core.RawMessage) []core.FilteredEmail {
	out := make([]core.FilteredEmail, 0, len(messages))
	ignored := 0

	for _, msg := range messages {
		if f.ignored != nil && f.ignored.IsIgnored(msg.From) {
			ignored++
			continue
		}
		if fe, ok := f.Score(msg); ok {
			out = append(out, fe)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	f.logger.Debug("Filtered messages",
		zap.Int("input", len(messages)),
		zap.Int("ignored", ignored),
		zap.Int("retained", len(out)))

	return out
}

// Score classifies a single message. The boolean is false when the message is
// excluded or carries too little signal to be retained.
func (f *Filter) Score(msg core.RawMessage) (core.FilteredEmail, bool) {
	t := f.tables.Load()
	content := strings.ToLower(msg.Subject + " " + msg.From + " " + msg.Body)

	if excluded(t, content) {
		return core.FilteredEmail{}, false
	}

	w := t.Weights
	score := 0
	matched := make([]string, 0, 8)
	categories := make(map[patterns.KeywordCategory]bool, 3)
	hits := 0

	for _, kw := range t.Keywords {
		if strings.Contains(content, kw.Text) {
			matched = append(matched, kw.Text)
			categories[kw.Category] = true
			score += w.Keyword
			hits++
		}
	}

	knownService := false
	serviceName := ""
	for _, svc := range t.Services {
		for _, re := range svc.Patterns {
			if re.MatchString(content) {
				knownService = true
				break
			}
		}
		if knownService {
			serviceName = svc.Name
			matched = append(matched, core.DedupKey(svc.Name))
			score += w.KnownService
			break
		}
	}

	if !knownService {
		if name := DynamicServiceName(t, msg.Subject, msg.From); name != "" {
			serviceName = name
			matched = append(matched, "dynamic:"+name)
			score += w.DynamicName
		} else if name := t.SenderName(msg.From); name != "" {
			serviceName = name
			matched = append(matched, "domain:"+name)
			score += w.SenderDomain
		}
	}

	hasAmount := HasAmount(t, msg.Subject+" "+msg.Body)
	if hasAmount {
		score += w.Amount
	}

	paymentProvider := t.PaymentProvider != nil && t.PaymentProvider.MatchString(msg.From)
	if paymentProvider {
		score += w.PaymentProvider
	}

	strong := categories[patterns.CategoryStrong]
	medium := categories[patterns.CategoryMedium]

	include := knownService ||
		serviceName != "" ||
		(strong && (hasAmount || paymentProvider)) ||
		(medium && paymentProvider) ||
		(medium && hasAmount && hits >= 2) ||
		len(categories) >= 2

	if !include {
		return core.FilteredEmail{}, false
	}

	return core.FilteredEmail{
		RawMessage:           msg,
		MatchedKeywords:      matched,
		Confidence:           float64(min(score, maxScore)) / 100,
		ExtractedServiceName: serviceName,
	}, true
}

func excluded(t *patterns.Tables, content string) bool {
	for _, ex := range t.Exclusions {
		if strings.Contains(content, ex) {
			return true
		}
	}
	for _, combo := range t.ExclusionCombos {
		all := true
		for _, part := range combo {
			if !strings.Contains(content, part) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// HasAmount reports whether text contains any currency amount
func HasAmount(t *patterns.Tables, text string) bool {
	for _, a := range t.Amounts {
		if a.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// DynamicServiceName extracts a probable service name from phrasing such as
// "Receipt from X" or "Your X invoice", looking at the subject and then the
// sender's display name.
func DynamicServiceName(t *patterns.Tables, subject, from string) string {
	for _, text := range []string{subject, displayName(from)} {
		if text == "" {
			continue
		}
		for _, dn := range t.DynamicNames {
			m := dn.Pattern.FindStringSubmatch(text)
			if m == nil || dn.Group >= len(m) {
				continue
			}
			if name := cleanName(t, m[dn.Group]); name != "" {
				return name
			}
		}
	}
	return ""
}

// cleanName trims stop words from both ends and title-cases what remains
func cleanName(t *patterns.Tables, raw string) string {
	words := strings.Fields(raw)
	for len(words) > 0 && t.IsStopWord(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && t.IsStopWord(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return ""
	}
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}
	return patterns.TitleCase(strings.Join(words, " "))
}

func displayName(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Name
	}
	if i := strings.Index(from, "<"); i > 0 {
		return strings.Trim(strings.TrimSpace(from[:i]), `"`)
	}
	return ""
}
