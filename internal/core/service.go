package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Threadigit/BillDrop/internal/metrics"
	"github.com/Threadigit/BillDrop/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEmptyBatch is returned when phase two of the batch mode receives no emails
var ErrEmptyBatch = errors.New("no emails provided")

// ScanOptions bounds a scan run
type ScanOptions struct {
	LookbackDays    int
	MaxFetch        int
	MaxParse        int
	BatchSize       int
	BatchMaxFetch   int
	BatchBodyLimit  int
	MaxPerRequest   int
	FetchRetries    int
	FetchRetryDelay time.Duration
}

// DefaultScanOptions returns the budgets used when nothing is configured
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		LookbackDays:    30,
		MaxFetch:        50,
		MaxParse:        25,
		BatchSize:       5,
		BatchMaxFetch:   200,
		BatchBodyLimit:  3000,
		MaxPerRequest:   10,
		FetchRetries:    1,
		FetchRetryDelay: 2 * time.Second,
	}
}

// ScanService is the batch orchestrator driving fetch, filter, extraction and reconciliation
type ScanService struct {
	mailbox MailboxProvider
	filter  CandidateFilter
	engine  ExtractionEngine
	subs    SubscriptionRepository
	scans   ScanRepository
	logger  *zap.Logger
	opts    ScanOptions
	now     func() time.Time
}

// NewScanService creates a new scan service. scans may be nil.
func NewScanService(
	mailbox MailboxProvider,
	filter CandidateFilter,
	engine ExtractionEngine,
	subs SubscriptionRepository,
	scans ScanRepository,
	logger *zap.Logger,
	opts ScanOptions,
) *ScanService {
	def := DefaultScanOptions()
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = def.LookbackDays
	}
	if opts.MaxFetch <= 0 {
		opts.MaxFetch = def.MaxFetch
	}
	if opts.MaxParse <= 0 {
		opts.MaxParse = def.MaxParse
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.BatchMaxFetch <= 0 {
		opts.BatchMaxFetch = def.BatchMaxFetch
	}
	if opts.BatchBodyLimit <= 0 {
		opts.BatchBodyLimit = def.BatchBodyLimit
	}
	if opts.MaxPerRequest <= 0 {
		opts.MaxPerRequest = def.MaxPerRequest
	}
	if opts.FetchRetries < 0 {
		opts.FetchRetries = 0
	}
	if opts.FetchRetryDelay <= 0 {
		opts.FetchRetryDelay = def.FetchRetryDelay
	}

	return &ScanService{
		mailbox: mailbox,
		filter:  filter,
		engine:  engine,
		subs:    subs,
		scans:   scans,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// WithClock replaces the time source, used for next-billing-date defaults
func (s *ScanService) WithClock(now func() time.Time) *ScanService {
	s.now = now
	return s
}

// tally accumulates per-item outcomes across sub-batches
type tally struct {
	processed  int
	accepted   int
	duplicates int
	skipped    int
	failed     int
	cancelled  bool
	candidates []AcceptedCandidate
}

func (t *tally) found() int { return t.accepted + t.duplicates }

// RunScan performs a complete scan: fetch, filter, extract in sub-batches and reconcile.
// Only mailbox failures abort the run; the returned summary is never nil.
func (s *ScanService) RunScan(ctx context.Context, req ScanRequest, sink EventSink) (*ScanSummary, error) {
	emit := sinkOrNop(sink)
	summary := &ScanSummary{
		RunID:      uuid.NewString(),
		State:      StateIdle,
		Candidates: []AcceptedCandidate{},
	}
	logger := s.logger.With(zap.String("run_id", summary.RunID), zap.String("user_id", req.UserID))
	rec := s.startRecord(ctx, summary.RunID, req.UserID)

	s.transition(logger, summary, StateFetching)
	emit(Event{Type: EventStatus, Message: "Connecting to mailbox...", Progress: 5})
	emit(Event{Type: EventStatus, Message: "Fetching emails...", Progress: 10})

	msgs, err := s.fetch(ctx, req, pick(req.MaxFetch, s.opts.MaxFetch))
	if err != nil {
		s.fail(ctx, logger, summary, rec, err, emit)
		return summary, err
	}
	summary.TotalFetched = len(msgs)
	metrics.ScanEmails.WithLabelValues("fetched").Add(float64(len(msgs)))
	emit(Event{Type: EventStatus, Message: fmt.Sprintf("Found %d emails to analyze...", len(msgs)), Progress: 20, EmailsFound: len(msgs)})

	if len(msgs) == 0 {
		s.complete(ctx, logger, summary, rec, &tally{}, "No subscription emails found", emit)
		return summary, nil
	}

	s.transition(logger, summary, StateFiltering)
	emit(Event{Type: EventStatus, Message: "Filtering subscription emails...", Progress: 25})

	filtered := s.filter.Filter(msgs)
	summary.TotalFiltered = len(filtered)
	metrics.ScanEmails.WithLabelValues("filtered").Add(float64(len(filtered)))

	maxParse := pick(req.MaxParse, s.opts.MaxParse)
	if len(filtered) > maxParse {
		logger.Debug("Capping filtered emails", zap.Int("filtered", len(filtered)), zap.Int("max_parse", maxParse))
		filtered = filtered[:maxParse]
	}

	if len(filtered) == 0 {
		s.complete(ctx, logger, summary, rec, &tally{}, fmt.Sprintf("Scanned %d emails, found 0 subscriptions", len(msgs)), emit)
		return summary, nil
	}
	emit(Event{Type: EventStatus, Message: fmt.Sprintf("Analyzing %d potential subscriptions...", len(filtered)), Progress: 30})

	s.transition(logger, summary, StateExtracting)
	known := s.knownSubscriptions(ctx, logger, req.UserID)
	t := s.processEmails(ctx, logger, req.UserID, filtered, &known, emit, 30, 95)

	found := t.found()
	plural := "s"
	if found == 1 {
		plural = ""
	}
	s.complete(ctx, logger, summary, rec, t, fmt.Sprintf("Found %d subscription%s in %d emails", found, plural, len(msgs)), emit)
	return summary, nil
}

// PrepareBatch is phase one of the batch mode: fetch and filter, returning the
// candidate list for the caller to select from
func (s *ScanService) PrepareBatch(ctx context.Context, req ScanRequest) (*BatchPreparation, error) {
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID), zap.String("user_id", req.UserID))

	msgs, err := s.fetch(ctx, req, pick(req.MaxFetch, s.opts.BatchMaxFetch))
	if err != nil {
		logger.Error("Batch preparation failed", zap.Error(err))
		return nil, err
	}
	metrics.ScanEmails.WithLabelValues("fetched").Add(float64(len(msgs)))

	filtered := s.filter.Filter(msgs)
	metrics.ScanEmails.WithLabelValues("filtered").Add(float64(len(filtered)))

	for i := range filtered {
		filtered[i].Body = utils.CutUTF8(filtered[i].Body, s.opts.BatchBodyLimit)
	}

	logger.Info("Prepared batch",
		zap.Int("fetched", len(msgs)),
		zap.Int("filtered", len(filtered)))

	return &BatchPreparation{
		RunID:         runID,
		TotalEmails:   len(msgs),
		FilteredCount: len(filtered),
		Emails:        filtered,
		UserID:        req.UserID,
	}, nil
}

// ProcessBatch is phase two of the batch mode: extract and reconcile a caller-chosen
// subset of the phase one output. At most MaxPerRequest emails are processed.
func (s *ScanService) ProcessBatch(ctx context.Context, userID string, emails []FilteredEmail, sink EventSink) (*BatchOutcome, error) {
	if len(emails) == 0 {
		return nil, ErrEmptyBatch
	}
	emit := sinkOrNop(sink)
	logger := s.logger.With(zap.String("user_id", userID))

	toProcess := emails
	if len(toProcess) > s.opts.MaxPerRequest {
		logger.Info("Limiting batch request",
			zap.Int("requested", len(emails)),
			zap.Int("limit", s.opts.MaxPerRequest))
		toProcess = toProcess[:s.opts.MaxPerRequest]
	}

	known := s.knownSubscriptions(ctx, logger, userID)
	t := s.processEmails(ctx, logger, userID, toProcess, &known, emit, 0, 100)

	subs := t.candidates
	if subs == nil {
		subs = []AcceptedCandidate{}
	}
	return &BatchOutcome{
		Processed:     t.processed,
		Remaining:     max(0, len(emails)-s.opts.MaxPerRequest),
		Subscriptions: subs,
		Failed:        t.failed,
	}, nil
}

// LatestScan returns the user's most recent scan record
func (s *ScanService) LatestScan(ctx context.Context, userID string) (*ScanRecord, error) {
	if s.scans == nil {
		return nil, ErrNotFound
	}
	return s.scans.LatestScan(ctx, userID)
}

// processEmails partitions emails into sub-batches and handles them one after another.
// Cancellation is honoured at sub-batch boundaries; finished work is kept.
func (s *ScanService) processEmails(
	ctx context.Context,
	logger *zap.Logger,
	userID string,
	emails []FilteredEmail,
	known *[]Subscription,
	emit EventSink,
	progressStart, progressEnd int,
) *tally {
	t := &tally{}
	total := len(emails)
	size := s.opts.BatchSize

	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			logger.Warn("Scan cancelled at sub-batch boundary",
				zap.Int("processed", t.processed),
				zap.Int("total", total),
				zap.Error(err))
			t.cancelled = true
			break
		}

		end := min(start+size, total)
		batch := emails[start:end]
		batchNum := start/size + 1

		logger.Debug("Processing sub-batch",
			zap.Int("batch", batchNum),
			zap.Int("size", len(batch)))

		results := s.extract(ctx, logger, batch)
		for i, email := range batch {
			t.processed++
			progress := progressStart + (progressEnd-progressStart)*t.processed/total
			emit(Event{Type: EventStatus, Message: fmt.Sprintf("Analyzing email %d/%d...", t.processed, total), Progress: progress})

			r := results[i]
			if r.Err != nil {
				t.failed++
				logger.Warn("Extraction failed for email",
					zap.String("email_id", email.ID),
					zap.Error(r.Err))
				continue
			}
			if r.Parsed == nil {
				continue
			}

			cand, err := s.reconcile(ctx, logger, userID, email.ID, r.Parsed, known)
			if err != nil {
				t.failed++
				logger.Error("Failed to reconcile candidate",
					zap.String("email_id", email.ID),
					zap.String("service", r.Parsed.ServiceName),
					zap.Error(err))
				continue
			}
			metrics.Candidates.WithLabelValues(string(cand.Decision)).Inc()

			switch cand.Decision {
			case DecisionCreate:
				t.accepted++
			case DecisionSkipDuplicate:
				t.duplicates++
			case DecisionSkipZeroAmount:
				t.skipped++
			}
			t.candidates = append(t.candidates, cand)

			if cand.Subscription != nil {
				emit(Event{
					Type:      EventCandidateFound,
					Candidate: summarize(cand),
					Count:     t.found(),
				})
			}
		}
	}

	metrics.ScanEmails.WithLabelValues("processed").Add(float64(t.processed))
	return t
}

// extract runs the engine over one sub-batch and guarantees one result per email
func (s *ScanService) extract(ctx context.Context, logger *zap.Logger, batch []FilteredEmail) (results []ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Extraction engine panicked", zap.Any("panic", r))
			results = failAll(batch, fmt.Errorf("extraction panicked: %v", r))
		}
	}()

	results = s.engine.ExtractBatch(ctx, batch)
	if len(results) != len(batch) {
		logger.Error("Extraction engine returned wrong result count",
			zap.Int("want", len(batch)),
			zap.Int("got", len(results)))
		return failAll(batch, fmt.Errorf("extraction returned %d results for %d emails", len(results), len(batch)))
	}
	return results
}

// reconcile decides the fate of one parsed candidate and persists new records
func (s *ScanService) reconcile(
	ctx context.Context,
	logger *zap.Logger,
	userID, emailID string,
	p *ParsedSubscription,
	known *[]Subscription,
) (AcceptedCandidate, error) {
	cand := AcceptedCandidate{EmailID: emailID, Parsed: p}

	if p.ServiceName == "" || p.Amount < 0 {
		return cand, fmt.Errorf("%w: service %q amount %.2f", ErrValidation, p.ServiceName, p.Amount)
	}
	if !p.BillingCycle.Valid() {
		p.BillingCycle = ParseBillingCycle(string(p.BillingCycle))
	}

	key := DedupKey(p.ServiceName)
	existing, err := s.subs.FindExisting(ctx, userID, key)
	switch {
	case err == nil:
		cand.Decision = DecisionSkipDuplicate
		cand.Subscription = existing
		logger.Debug("Candidate already exists",
			zap.String("service", p.ServiceName),
			zap.String("action", "skip_duplicate"))
		return cand, nil
	case !errors.Is(err, ErrNotFound):
		return cand, fmt.Errorf("failed to look up existing subscription: %w", err)
	}

	decision, dup := Decide(p, *known)
	cand.Decision = decision
	switch decision {
	case DecisionSkipDuplicate:
		cand.Subscription = dup
		logger.Debug("Candidate matches existing subscription",
			zap.String("service", p.ServiceName),
			zap.Float64("amount", p.Amount),
			zap.String("action", "skip_duplicate"))
		return cand, nil
	case DecisionSkipZeroAmount:
		logger.Info("Skipping zero-amount candidate",
			zap.String("service", p.ServiceName),
			zap.String("action", "skip_zero_amount"))
		return cand, nil
	}

	created, err := s.subs.CreateSubscription(ctx, s.newRecord(userID, p))
	if err != nil {
		return cand, fmt.Errorf("failed to create subscription: %w", err)
	}
	*known = append(*known, *created)
	cand.Subscription = created

	logger.Info("Created pending subscription",
		zap.String("service", created.ServiceName),
		zap.Float64("amount", created.Amount),
		zap.String("currency", created.Currency),
		zap.String("source", p.Source),
		zap.String("action", "create"))
	return cand, nil
}

// newRecord builds an unconfirmed record. A missing next billing date is
// defaulted to one cycle from today.
func (s *ScanService) newRecord(userID string, p *ParsedSubscription) *Subscription {
	next := p.NextBillingDate
	if next == nil {
		d := p.BillingCycle.Next(s.now())
		next = &d
	}
	return &Subscription{
		UserID:          userID,
		ServiceName:     p.ServiceName,
		ServiceSlug:     DedupKey(p.ServiceName),
		Description:     p.Description,
		Amount:          p.Amount,
		Currency:        p.Currency,
		BillingCycle:    p.BillingCycle,
		NextBillingDate: next,
		CancellationURL: p.CancellationURL,
		Confidence:      p.Confidence,
		DetectedFrom:    "email",
		Confirmed:       false,
		IsTracked:       false,
		Status:          StatusPending,
	}
}

// fetch retrieves messages, retrying transient failures up to FetchRetries times
func (s *ScanService) fetch(ctx context.Context, req ScanRequest, maxCount int) ([]RawMessage, error) {
	cred := req.Credential
	if cred.UserID == "" {
		cred.UserID = req.UserID
	}
	days := pick(req.LookbackDays, s.opts.LookbackDays)

	for attempt := 0; ; attempt++ {
		msgs, err := s.mailbox.FetchRecentMessages(ctx, cred, days, maxCount)
		if err == nil {
			return msgs, nil
		}
		if !IsAuthError(err) && !IsFetchError(err) {
			err = &FetchError{Provider: s.mailbox.Name(), Cause: err}
		}
		if IsAuthError(err) || attempt >= s.opts.FetchRetries || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("Mailbox fetch failed, retrying",
			zap.String("provider", s.mailbox.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", s.opts.FetchRetryDelay),
			zap.Error(err))

		timer := time.NewTimer(s.opts.FetchRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

func (s *ScanService) knownSubscriptions(ctx context.Context, logger *zap.Logger, userID string) []Subscription {
	known, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		logger.Error("Failed to load existing subscriptions", zap.Error(err))
		return nil
	}
	return known
}

func (s *ScanService) transition(logger *zap.Logger, summary *ScanSummary, to ScanState) {
	logger.Debug("Scan state changed",
		zap.String("from", string(summary.State)),
		zap.String("to", string(to)))
	summary.State = to
}

func (s *ScanService) startRecord(ctx context.Context, runID, userID string) *ScanRecord {
	if s.scans == nil {
		return nil
	}
	rec := &ScanRecord{
		ID:        runID,
		UserID:    userID,
		Provider:  s.mailbox.Name(),
		Status:    ScanStatusScanning,
		StartedAt: s.now(),
	}
	if err := s.scans.CreateScan(ctx, rec); err != nil {
		s.logger.Error("Failed to create scan record", zap.Error(err))
		return nil
	}
	return rec
}

func (s *ScanService) finishRecord(ctx context.Context, rec *ScanRecord) {
	if rec == nil {
		return
	}
	done := s.now()
	rec.CompletedAt = &done
	if err := s.scans.UpdateScan(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("Failed to update scan record", zap.Error(err))
	}
}

func (s *ScanService) complete(ctx context.Context, logger *zap.Logger, summary *ScanSummary, rec *ScanRecord, t *tally, message string, emit EventSink) {
	summary.TotalProcessed = t.processed
	summary.TotalAccepted = t.accepted
	summary.TotalDuplicates = t.duplicates
	summary.TotalSkipped = t.skipped
	summary.TotalFailed = t.failed
	summary.Cancelled = t.cancelled
	if t.candidates != nil {
		summary.Candidates = t.candidates
	}
	s.transition(logger, summary, StateComplete)

	emit(Event{
		Type:         EventComplete,
		Message:      message,
		Progress:     100,
		TotalFound:   t.found(),
		TotalScanned: summary.TotalFetched,
	})

	result := "completed"
	if t.cancelled {
		result = "cancelled"
	}
	metrics.ScanRuns.WithLabelValues(result).Inc()

	logger.Info("Scan complete",
		zap.Int("fetched", summary.TotalFetched),
		zap.Int("filtered", summary.TotalFiltered),
		zap.Int("processed", summary.TotalProcessed),
		zap.Int("accepted", summary.TotalAccepted),
		zap.Int("duplicates", summary.TotalDuplicates),
		zap.Int("skipped", summary.TotalSkipped),
		zap.Int("failed", summary.TotalFailed),
		zap.Bool("cancelled", summary.Cancelled))

	if rec != nil {
		rec.Status = ScanStatusCompleted
		if t.cancelled {
			rec.Status = ScanStatusCancelled
		}
		rec.EmailsFound = summary.TotalFetched
		rec.SubsFound = t.found()
		s.finishRecord(ctx, rec)
	}
}

func (s *ScanService) fail(ctx context.Context, logger *zap.Logger, summary *ScanSummary, rec *ScanRecord, err error, emit EventSink) {
	s.transition(logger, summary, StateError)
	summary.Error = err.Error()

	message := "Scan failed. Please try again."
	result := "fetch_error"
	if IsAuthError(err) {
		message = "Mailbox access token not found or expired. Please reconnect your account."
		result = "auth_error"
	}
	emit(Event{Type: EventError, Message: message})
	metrics.ScanRuns.WithLabelValues(result).Inc()
	logger.Error("Scan aborted", zap.String("reason", result), zap.Error(err))

	if rec != nil {
		rec.Status = ScanStatusError
		rec.Error = err.Error()
		s.finishRecord(ctx, rec)
	}
}

func summarize(c AcceptedCandidate) *CandidateSummary {
	sub := c.Subscription
	return &CandidateSummary{
		ID:           sub.ID,
		ServiceName:  sub.ServiceName,
		Amount:       sub.Amount,
		Currency:     sub.Currency,
		BillingCycle: sub.BillingCycle,
		Confidence:   sub.Confidence,
		Duplicate:    c.Decision == DecisionSkipDuplicate,
	}
}

func failAll(batch []FilteredEmail, err error) []ItemResult {
	out := make([]ItemResult, len(batch))
	for i, e := range batch {
		out[i] = ItemResult{EmailID: e.ID, Err: err}
	}
	return out
}

func sinkOrNop(sink EventSink) EventSink {
	if sink == nil {
		return func(Event) {}
	}
	return sink
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
