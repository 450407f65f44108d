// Package patterns holds the data tables driving candidate filtering and
// regex extraction. Tables are loaded from YAML so they can grow without
// touching the scoring logic; an embedded default set is always available.
package patterns

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Weights are confidence increments in hundredths
type Weights struct {
	Keyword         int `yaml:"keyword"`
	KnownService    int `yaml:"known_service"`
	DynamicName     int `yaml:"dynamic_name"`
	SenderDomain    int `yaml:"sender_domain"`
	Amount          int `yaml:"amount"`
	PaymentProvider int `yaml:"payment_provider"`
}

// DefaultWeights are applied to any weight a table file leaves at zero
var DefaultWeights = Weights{
	Keyword:         10,
	KnownService:    30,
	DynamicName:     25,
	SenderDomain:    15,
	Amount:          20,
	PaymentProvider: 10,
}

// File is the YAML shape of a pattern table file
type File struct {
	Weights  Weights `yaml:"weights"`
	Keywords struct {
		Strong []string `yaml:"strong"`
		Medium []string `yaml:"medium"`
		Other  []string `yaml:"other"`
	} `yaml:"keywords"`
	Exclusions       []string          `yaml:"exclusions"`
	ExclusionCombos  [][]string        `yaml:"exclusion_combos"`
	Services         []ServiceSpec     `yaml:"services"`
	PaymentProviders []string          `yaml:"payment_providers"`
	DynamicNames     []DynamicNameSpec `yaml:"dynamic_names"`
	StopWords        []string          `yaml:"stop_words"`
	GenericDomains   []string          `yaml:"generic_domains"`
	SenderDomain     string            `yaml:"sender_domain"`
	Amounts          []AmountSpec      `yaml:"amounts"`
	Dates            struct {
		Cues     []string `yaml:"cues"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"dates"`
}

// ServiceSpec maps a canonical display name to its matchers
type ServiceSpec struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// DynamicNameSpec is a service-name pattern and the group holding the name
type DynamicNameSpec struct {
	Pattern string `yaml:"pattern"`
	Group   int    `yaml:"group"`
}

// AmountSpec is a currency-amount pattern with one capture group for the number
type AmountSpec struct {
	Pattern  string `yaml:"pattern"`
	Currency string `yaml:"currency"`
	Period   string `yaml:"period"`
}

// KeywordCategory groups vocabulary by how strongly it signals a subscription
type KeywordCategory string

const (
	CategoryStrong KeywordCategory = "strong"
	CategoryMedium KeywordCategory = "medium"
	CategoryOther  KeywordCategory = "other"
)

// Keyword is one lowercased vocabulary entry
type Keyword struct {
	Text     string
	Category KeywordCategory
}

// Service is a compiled known-service entry
type Service struct {
	Name     string
	Patterns []*regexp.Regexp
}

// DynamicName is a compiled service-name extraction pattern
type DynamicName struct {
	Pattern *regexp.Regexp
	Group   int
}

// Amount is a compiled currency-amount pattern
type Amount struct {
	Pattern  *regexp.Regexp
	Currency string
	Period   string
}

// Tables is the compiled, read-only form of a pattern file
type Tables struct {
	Weights         Weights
	Keywords        []Keyword
	Exclusions      []string
	ExclusionCombos [][]string
	Services        []Service
	PaymentProvider *regexp.Regexp
	DynamicNames    []DynamicName
	StopWords       map[string]struct{}
	GenericDomains  map[string]struct{}
	SenderDomain    *regexp.Regexp
	Amounts         []Amount
	DateCues        []string
	DatePatterns    []*regexp.Regexp
}

// Default returns the embedded tables
func Default() (*Tables, error) {
	return Parse(defaultYAML)
}

// MustDefault returns the embedded tables and panics if they do not compile
func MustDefault() *Tables {
	t, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded pattern tables are invalid: %v", err))
	}
	return t
}

// Load reads tables from path, or the embedded defaults when path is empty
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse compiles tables from YAML
func Parse(data []byte) (*Tables, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}
	return Compile(&f)
}

// Compile validates and compiles a decoded pattern file
func Compile(f *File) (*Tables, error) {
	t := &Tables{
		Weights:        withDefaults(f.Weights),
		StopWords:      toSet(f.StopWords),
		GenericDomains: toSet(f.GenericDomains),
		DateCues:       lowerAll(f.Dates.Cues),
		Exclusions:     lowerAll(f.Exclusions),
	}

	for _, kw := range lowerAll(f.Keywords.Strong) {
		t.Keywords = append(t.Keywords, Keyword{Text: kw, Category: CategoryStrong})
	}
	for _, kw := range lowerAll(f.Keywords.Medium) {
		t.Keywords = append(t.Keywords, Keyword{Text: kw, Category: CategoryMedium})
	}
	for _, kw := range lowerAll(f.Keywords.Other) {
		t.Keywords = append(t.Keywords, Keyword{Text: kw, Category: CategoryOther})
	}

	for _, combo := range f.ExclusionCombos {
		if len(combo) > 0 {
			t.ExclusionCombos = append(t.ExclusionCombos, lowerAll(combo))
		}
	}

	for _, s := range f.Services {
		if s.Name == "" {
			return nil, fmt.Errorf("service entry without a name")
		}
		svc := Service{Name: s.Name}
		for _, p := range s.Patterns {
			re, err := compile(p)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", s.Name, err)
			}
			svc.Patterns = append(svc.Patterns, re)
		}
		t.Services = append(t.Services, svc)
	}

	if len(f.PaymentProviders) > 0 {
		quoted := make([]string, len(f.PaymentProviders))
		for i, p := range f.PaymentProviders {
			quoted[i] = regexp.QuoteMeta(p)
		}
		re, err := compile(`(?:` + strings.Join(quoted, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("payment providers: %w", err)
		}
		t.PaymentProvider = re
	}

	for _, d := range f.DynamicNames {
		re, err := compile(d.Pattern)
		if err != nil {
			return nil, fmt.Errorf("dynamic name: %w", err)
		}
		group := d.Group
		if group == 0 {
			group = 1
		}
		if group > re.NumSubexp() {
			return nil, fmt.Errorf("dynamic name %q: group %d out of range", d.Pattern, group)
		}
		t.DynamicNames = append(t.DynamicNames, DynamicName{Pattern: re, Group: group})
	}

	if f.SenderDomain != "" {
		re, err := compile(f.SenderDomain)
		if err != nil {
			return nil, fmt.Errorf("sender domain: %w", err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("sender domain pattern needs a capture group")
		}
		t.SenderDomain = re
	}

	for _, a := range f.Amounts {
		re, err := compile(a.Pattern)
		if err != nil {
			return nil, fmt.Errorf("amount: %w", err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("amount %q: want exactly one capture group, got %d", a.Pattern, re.NumSubexp())
		}
		t.Amounts = append(t.Amounts, Amount{
			Pattern:  re,
			Currency: strings.ToUpper(a.Currency),
			Period:   strings.ToLower(a.Period),
		})
	}

	for _, p := range f.Dates.Patterns {
		re, err := compile(p)
		if err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
		t.DatePatterns = append(t.DatePatterns, re)
	}

	return t, nil
}

// IsStopWord reports whether w is a stop word or a single-word keyword
func (t *Tables) IsStopWord(w string) bool {
	w = strings.ToLower(w)
	if _, ok := t.StopWords[w]; ok {
		return true
	}
	for _, kw := range t.Keywords {
		if kw.Text == w {
			return true
		}
	}
	return false
}

// IsGenericDomain reports whether a sender domain label belongs to a webmail provider
func (t *Tables) IsGenericDomain(label string) bool {
	_, ok := t.GenericDomains[strings.ToLower(label)]
	return ok
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

func withDefaults(w Weights) Weights {
	if w.Keyword == 0 {
		w.Keyword = DefaultWeights.Keyword
	}
	if w.KnownService == 0 {
		w.KnownService = DefaultWeights.KnownService
	}
	if w.DynamicName == 0 {
		w.DynamicName = DefaultWeights.DynamicName
	}
	if w.SenderDomain == 0 {
		w.SenderDomain = DefaultWeights.SenderDomain
	}
	if w.Amount == 0 {
		w.Amount = DefaultWeights.Amount
	}
	if w.PaymentProvider == 0 {
		w.PaymentProvider = DefaultWeights.PaymentProvider
	}
	return w
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, s := range lowerAll(in) {
		set[s] = struct{}{}
	}
	return set
}
