package extraction

import (
	"context"
	"strings"

	"github.com/Threadigit/BillDrop/internal/core"
)

// Strategy is one fallback stage applied to an email the batch stage could
// not resolve. A nil result passes the email to the next strategy.
type Strategy interface {
	Name() string
	TryExtract(ctx context.Context, in Input) *core.ParsedSubscription
}

// SingleStrategy re-asks the model about one email
type SingleStrategy struct {
	ai *AIExtractor
}

// NewSingleStrategy wraps the single-email AI stage
func NewSingleStrategy(ai *AIExtractor) *SingleStrategy {
	return &SingleStrategy{ai: ai}
}

func (s *SingleStrategy) Name() string { return core.SourceAISingle }

func (s *SingleStrategy) TryExtract(ctx context.Context, in Input) *core.ParsedSubscription {
	return s.ai.ExtractOne(ctx, in)
}

// RegexStrategy runs the pattern-based extractor. With requireHint set it
// only fires for emails the candidate filter already attached a service
// name to, so plain noise is not turned into records.
type RegexStrategy struct {
	regex       *RegexExtractor
	requireHint bool
}

// NewRegexStrategy wraps the regex stage
func NewRegexStrategy(regex *RegexExtractor, requireHint bool) *RegexStrategy {
	return &RegexStrategy{regex: regex, requireHint: requireHint}
}

func (s *RegexStrategy) Name() string { return core.SourceRegex }

func (s *RegexStrategy) TryExtract(_ context.Context, in Input) *core.ParsedSubscription {
	if s.requireHint && strings.TrimSpace(in.Hint) == "" {
		return nil
	}
	return s.regex.Fallback(in.Subject, in.From, in.Body, in.Hint)
}
