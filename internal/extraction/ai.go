package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/metrics"
	"github.com/Threadigit/BillDrop/internal/utils"
	"go.uber.org/zap"
)

// DefaultMaxBody is the per-email body budget inside a prompt
const DefaultMaxBody = 2000

// BatchItem is the Stage A outcome for one input. Parsed is nil when the model
// found nothing or the entry was missing or invalid.
type BatchItem struct {
	ID     string
	Parsed *core.ParsedSubscription
	// Answered is true when the model returned a well-formed entry for this id
	Answered bool
}

// AIExtractor turns emails into parsed subscriptions through a text-generation
// client. It runs both the batched stage and the single-email stage.
type AIExtractor struct {
	client    core.LLMClient
	limiter   *RateLimiter
	retrier   *Retrier
	validator *ResponseValidator
	text      *utils.TextProcessor
	maxBody   int
	logger    *zap.Logger
}

// NewAIExtractor creates an extractor. A nil validator skips schema checks.
func NewAIExtractor(
	client core.LLMClient,
	limiter *RateLimiter,
	retrier *Retrier,
	validator *ResponseValidator,
	text *utils.TextProcessor,
	maxBody int,
	logger *zap.Logger,
) *AIExtractor {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if retrier == nil {
		retrier = NewRetrier(nil, logger)
	}
	return &AIExtractor{
		client:    client,
		limiter:   limiter,
		retrier:   retrier,
		validator: validator,
		text:      text,
		maxBody:   maxBody,
		logger:    logger,
	}
}

// Provider returns the name of the underlying client
func (a *AIExtractor) Provider() string {
	return a.client.Name()
}

// ExtractOne runs the single-email stage. It returns nil on any failure.
func (a *AIExtractor) ExtractOne(ctx context.Context, in Input) *core.ParsedSubscription {
	p, err := a.extractOne(ctx, in)
	if err != nil {
		a.logger.Warn("Single extraction failed",
			zap.String("email_id", in.ID),
			zap.Error(err))
		return nil
	}
	return p
}

func (a *AIExtractor) extractOne(ctx context.Context, in Input) (*core.ParsedSubscription, error) {
	prompt := BuildSinglePrompt(in, a.text.ProcessText(in.Body, a.maxBody))

	reply, err := a.complete(ctx, SingleSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseSingleReply(reply, a.validator, core.SourceAISingle)
}

// ExtractBatch runs the batched stage. The result always has one item per
// input in input order; entries are matched to inputs by id.
func (a *AIExtractor) ExtractBatch(ctx context.Context, inputs []Input) []BatchItem {
	items, err := a.extractBatch(ctx, inputs)
	if err != nil {
		a.logger.Warn("Batch extraction failed",
			zap.Int("batch", len(inputs)),
			zap.Error(err))
	}
	return items
}

func (a *AIExtractor) extractBatch(ctx context.Context, inputs []Input) ([]BatchItem, error) {
	items := make([]BatchItem, len(inputs))
	for i, in := range inputs {
		items[i].ID = in.ID
	}
	if len(inputs) == 0 {
		return items, nil
	}

	bodies := make([]string, len(inputs))
	for i, in := range inputs {
		bodies[i] = a.text.ProcessText(in.Body, a.maxBody)
	}

	reply, err := a.complete(ctx, BatchSystemPrompt, BuildBatchPrompt(inputs, bodies))
	if err != nil {
		return items, err
	}

	byID, err := parseBatchReply(reply, a.validator)
	if err != nil {
		return items, err
	}

	for i, in := range inputs {
		raw, ok := byID[in.ID]
		if !ok {
			a.logger.Debug("Batch reply has no entry for email", zap.String("email_id", in.ID))
			continue
		}
		p, err := normalize(raw, core.SourceAIBatch)
		if err != nil {
			a.logger.Debug("Batch entry rejected",
				zap.String("email_id", in.ID),
				zap.Error(err))
			continue
		}
		items[i].Parsed = p
		items[i].Answered = true
	}
	return items, nil
}

// complete waits for the limiter and calls the model, retrying rate limits
func (a *AIExtractor) complete(ctx context.Context, system, user string) (string, error) {
	var reply string
	err := a.retrier.Do(ctx, func(ctx context.Context) error {
		if err := a.limiter.WaitIfNeeded(ctx); err != nil {
			return err
		}
		r, err := a.client.Complete(ctx, system, user)
		if err != nil {
			result := "error"
			if core.IsRetryable(err) {
				result = "retryable"
			}
			metrics.LLMRequests.WithLabelValues(a.client.Name(), result).Inc()
			return err
		}
		metrics.LLMRequests.WithLabelValues(a.client.Name(), "success").Inc()
		reply = r
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%s completion: %w", a.client.Name(), err)
	}
	return reply, nil
}
