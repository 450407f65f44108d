// Package extraction turns candidate emails into parsed subscriptions through
// a cascade of stages: a batched model call, then per-email fallbacks.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/metrics"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	defaultConcurrency = 5
	defaultCacheTTL    = 7 * 24 * time.Hour
)

// Engine runs the extraction cascade over one sub-batch
type Engine struct {
	batch       *AIExtractor
	strategies  []Strategy
	regex       *RegexExtractor
	cache       core.CacheRepository
	ttl         time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine creates an engine. batch may be nil when no model is configured;
// strategies are tried in order for every email the batch stage leaves empty.
func NewEngine(batch *AIExtractor, strategies []Strategy, logger *zap.Logger) *Engine {
	e := &Engine{
		batch:       batch,
		strategies:  strategies,
		ttl:         defaultCacheTTL,
		concurrency: defaultConcurrency,
		logger:      logger,
		now:         time.Now,
	}
	for _, s := range strategies {
		if rs, ok := s.(*RegexStrategy); ok {
			e.regex = rs.regex
		}
	}
	return e
}

// WithCache enables result caching by message id
func (e *Engine) WithCache(cache core.CacheRepository, ttl time.Duration) *Engine {
	e.cache = cache
	if ttl > 0 {
		e.ttl = ttl
	}
	return e
}

// WithConcurrency bounds the fallback fan-out
func (e *Engine) WithConcurrency(n int) *Engine {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

// WithClock overrides the time source used for cache expiry
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SetTables forwards reloaded pattern tables to the regex stage
func (e *Engine) SetTables(t *patterns.Tables) {
	if e.regex != nil {
		e.regex.SetTables(t)
	}
}

// ExtractBatch returns one result per email, in input order. Cached outcomes
// are served first; the rest go through the batch stage, and anything still
// empty is handed to the fallback strategies concurrently.
func (e *Engine) ExtractBatch(ctx context.Context, emails []core.FilteredEmail) []core.ItemResult {
	results := make([]core.ItemResult, len(emails))
	inputs := make([]Input, len(emails))
	for i, em := range emails {
		results[i].EmailID = em.ID
		inputs[i] = InputFromEmail(em)
	}

	pending := e.lookupCache(ctx, inputs, results)
	if len(pending) == 0 {
		return results
	}

	// answered marks emails the batch stage gave a definite verdict on
	answered := make(map[int]bool, len(pending))
	if e.batch != nil {
		e.runBatch(ctx, inputs, pending, results, answered)
	}

	var empty []int
	for _, i := range pending {
		if results[i].Parsed == nil {
			empty = append(empty, i)
		}
	}
	if len(empty) > 0 && len(e.strategies) > 0 {
		e.runFallbacks(ctx, inputs, empty, results)
	}

	e.storeCache(ctx, pending, results, answered)
	return results
}

func (e *Engine) lookupCache(ctx context.Context, inputs []Input, results []core.ItemResult) []int {
	pending := make([]int, 0, len(inputs))
	if e.cache == nil {
		for i := range inputs {
			pending = append(pending, i)
		}
		return pending
	}

	now := e.now()
	for i, in := range inputs {
		entry, err := e.cache.Get(ctx, in.ID)
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				e.logger.Debug("Cache lookup failed", zap.String("email_id", in.ID), zap.Error(err))
			}
			metrics.Extractions.WithLabelValues(core.SourceCache, "miss").Inc()
			pending = append(pending, i)
			continue
		}
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			metrics.Extractions.WithLabelValues(core.SourceCache, "miss").Inc()
			pending = append(pending, i)
			continue
		}

		metrics.Extractions.WithLabelValues(core.SourceCache, "hit").Inc()
		if entry.Result != nil {
			p := *entry.Result
			p.Source = core.SourceCache
			results[i].Parsed = &p
		}
		e.logger.Debug("Using cached extraction",
			zap.String("email_id", in.ID),
			zap.Bool("found", entry.Result != nil))
	}
	return pending
}

func (e *Engine) runBatch(ctx context.Context, inputs []Input, pending []int, results []core.ItemResult, answered map[int]bool) {
	batch := make([]Input, len(pending))
	for j, i := range pending {
		batch[j] = inputs[i]
	}

	start := time.Now()
	items := e.batch.ExtractBatch(ctx, batch)
	metrics.ExtractionDuration.WithLabelValues(core.SourceAIBatch).Observe(time.Since(start).Seconds())

	for j, i := range pending {
		if j >= len(items) {
			break
		}
		results[i].Parsed = items[j].Parsed
		answered[i] = items[j].Answered
		switch {
		case items[j].Parsed != nil:
			metrics.Extractions.WithLabelValues(core.SourceAIBatch, "hit").Inc()
		case items[j].Answered:
			metrics.Extractions.WithLabelValues(core.SourceAIBatch, "miss").Inc()
		default:
			metrics.Extractions.WithLabelValues(core.SourceAIBatch, "error").Inc()
		}
	}
}

// runFallbacks tries the strategies for each empty email. One email failing,
// even by panicking, does not stop the others.
func (e *Engine) runFallbacks(ctx context.Context, inputs []Input, empty []int, results []core.ItemResult) {
	p := pool.New().WithMaxGoroutines(e.concurrency)
	for _, i := range empty {
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Fallback extraction panicked",
						zap.String("email_id", inputs[i].ID),
						zap.Any("panic", r))
					results[i].Parsed = nil
					results[i].Err = fmt.Errorf("extraction of %s panicked: %v", inputs[i].ID, r)
				}
			}()
			results[i].Parsed = e.tryStrategies(ctx, inputs[i])
		})
	}
	p.Wait()
}

func (e *Engine) tryStrategies(ctx context.Context, in Input) *core.ParsedSubscription {
	for _, s := range e.strategies {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		parsed := s.TryExtract(ctx, in)
		metrics.ExtractionDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if parsed != nil {
			metrics.Extractions.WithLabelValues(s.Name(), "hit").Inc()
			e.logger.Debug("Fallback strategy matched",
				zap.String("email_id", in.ID),
				zap.String("strategy", s.Name()))
			return parsed
		}
		metrics.Extractions.WithLabelValues(s.Name(), "miss").Inc()
	}
	return nil
}

// storeCache records model verdicts. Regex results are not cached since the
// tables can change; a negative verdict is cached only when the batch stage
// answered it and no fallback found anything.
func (e *Engine) storeCache(ctx context.Context, pending []int, results []core.ItemResult, answered map[int]bool) {
	if e.cache == nil {
		return
	}
	now := e.now()
	for _, i := range pending {
		r := results[i]
		if r.Err != nil {
			continue
		}
		switch {
		case r.Parsed != nil && (r.Parsed.Source == core.SourceAIBatch || r.Parsed.Source == core.SourceAISingle):
		case r.Parsed == nil && answered[i]:
		default:
			continue
		}
		entry := &core.CacheEntry{
			MessageID: r.EmailID,
			Result:    r.Parsed,
			CachedAt:  now,
			ExpiresAt: now.Add(e.ttl),
		}
		if err := e.cache.Set(ctx, entry); err != nil {
			e.logger.Warn("Failed to cache extraction",
				zap.String("email_id", r.EmailID),
				zap.Error(err))
		}
	}
}
