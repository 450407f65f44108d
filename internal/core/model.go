package core

import (
	"strings"
	"time"
)

// BillingCycle is the recurrence of a subscription charge
type BillingCycle string

const (
	CycleWeekly  BillingCycle = "weekly"
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// ParseBillingCycle normalizes free-form cycle text. Anything unrecognized is monthly.
func ParseBillingCycle(s string) BillingCycle {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "week", "wk":
		return CycleWeekly
	case "yearly", "year", "annual", "annually", "yr", "annum":
		return CycleYearly
	default:
		return CycleMonthly
	}
}

// Valid reports whether c is one of the three supported cycles
func (c BillingCycle) Valid() bool {
	return c == CycleWeekly || c == CycleMonthly || c == CycleYearly
}

// Next returns t advanced by one billing cycle
func (c BillingCycle) Next(t time.Time) time.Time {
	switch c {
	case CycleWeekly:
		return t.AddDate(0, 0, 7)
	case CycleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// RawMessage is a message as fetched from a mailbox
type RawMessage struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId,omitempty"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet,omitempty"`
	Body     string    `json:"body"`
}

// FilteredEmail is a raw message that passed the candidate filter
type FilteredEmail struct {
	RawMessage
	MatchedKeywords      []string `json:"matchedKeywords"`
	Confidence           float64  `json:"confidence"`
	ExtractedServiceName string   `json:"extractedServiceName,omitempty"`
}

// Extraction stage names
const (
	SourceAIBatch  = "ai_batch"
	SourceAISingle = "ai_single"
	SourceRegex    = "regex"
	SourceCache    = "cache"
)

// ParsedSubscription is the result of the extraction cascade for one email
type ParsedSubscription struct {
	ServiceName     string       `json:"serviceName"`
	Description     string       `json:"description,omitempty"`
	Amount          float64      `json:"amount"`
	Currency        string       `json:"currency"`
	BillingCycle    BillingCycle `json:"billingCycle"`
	NextBillingDate *time.Time   `json:"nextBillingDate,omitempty"`
	CancellationURL string       `json:"cancellationUrl,omitempty"`
	Confidence      float64      `json:"confidence"`
	Source          string       `json:"source,omitempty"`
}

// Subscription status values
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusDismissed = "dismissed"
)

// Subscription is a persisted subscription record
type Subscription struct {
	ID              string       `json:"id"`
	UserID          string       `json:"userId"`
	ServiceName     string       `json:"serviceName"`
	ServiceSlug     string       `json:"serviceSlug"`
	Description     string       `json:"description,omitempty"`
	Amount          float64      `json:"amount"`
	Currency        string       `json:"currency"`
	BillingCycle    BillingCycle `json:"billingCycle"`
	NextBillingDate *time.Time   `json:"nextBillingDate,omitempty"`
	CancellationURL string       `json:"cancellationUrl,omitempty"`
	Confidence      float64      `json:"confidence"`
	DetectedFrom    string       `json:"detectedFrom"`
	Confirmed       bool         `json:"confirmed"`
	IsTracked       bool         `json:"isTracked"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Decision is the orchestrator's verdict on a parsed candidate
type Decision string

const (
	DecisionCreate         Decision = "create"
	DecisionSkipDuplicate  Decision = "skip_duplicate"
	DecisionSkipZeroAmount Decision = "skip_zero_amount"
)

// AcceptedCandidate pairs a parsed subscription with the decision taken for it.
// Subscription is the created record, or the existing one for duplicates.
type AcceptedCandidate struct {
	EmailID      string              `json:"emailId"`
	Parsed       *ParsedSubscription `json:"parsed"`
	Decision     Decision            `json:"decision"`
	Subscription *Subscription       `json:"subscription,omitempty"`
}

// ItemResult is the per-email outcome of extraction. Exactly one of Parsed or
// Err may be set; both nil means nothing was found.
type ItemResult struct {
	EmailID string
	Parsed  *ParsedSubscription
	Err     error
}

// ScanState is the state of a scan run
type ScanState string

const (
	StateIdle       ScanState = "idle"
	StateFetching   ScanState = "fetching"
	StateFiltering  ScanState = "filtering"
	StateExtracting ScanState = "extracting"
	StateComplete   ScanState = "complete"
	StateError      ScanState = "error"
)

// EventType identifies a progress event
type EventType string

const (
	EventStatus         EventType = "status"
	EventCandidateFound EventType = "candidate"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// CandidateSummary is the condensed view of a found candidate sent to clients
type CandidateSummary struct {
	ID           string       `json:"id"`
	ServiceName  string       `json:"serviceName"`
	Amount       float64      `json:"amount"`
	Currency     string       `json:"currency"`
	BillingCycle BillingCycle `json:"billingCycle"`
	Confidence   float64      `json:"confidence"`
	Duplicate    bool         `json:"duplicate,omitempty"`
}

// Event is one entry of the progress stream
type Event struct {
	Type         EventType         `json:"type"`
	Message      string            `json:"message,omitempty"`
	Progress     int               `json:"progress,omitempty"`
	Candidate    *CandidateSummary `json:"candidate,omitempty"`
	Count        int               `json:"count,omitempty"`
	EmailsFound  int               `json:"emailsFound,omitempty"`
	TotalFound   int               `json:"totalFound,omitempty"`
	TotalScanned int               `json:"totalScanned,omitempty"`
}

// EventSink receives progress events. It must not block for long.
type EventSink func(Event)

// Credential identifies the mailbox owner and carries an access token when the
// caller already has one
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ScanRequest starts a scan run
type ScanRequest struct {
	UserID     string
	Credential Credential
	// zero values fall back to the service defaults
	LookbackDays int
	MaxFetch     int
	MaxParse     int
}

// ScanSummary is the final report of a run
type ScanSummary struct {
	RunID           string              `json:"runId"`
	State           ScanState           `json:"state"`
	TotalFetched    int                 `json:"totalFetched"`
	TotalFiltered   int                 `json:"totalFiltered"`
	TotalProcessed  int                 `json:"totalProcessed"`
	TotalAccepted   int                 `json:"totalAccepted"`
	TotalDuplicates int                 `json:"totalDuplicates"`
	TotalSkipped    int                 `json:"totalSkipped"`
	TotalFailed     int                 `json:"totalFailed"`
	Cancelled       bool                `json:"cancelled,omitempty"`
	Candidates      []AcceptedCandidate `json:"candidates"`
	Error           string              `json:"error,omitempty"`
}

// BatchPreparation is the output of phase one of the batch mode
type BatchPreparation struct {
	RunID         string          `json:"runId"`
	TotalEmails   int             `json:"totalEmails"`
	FilteredCount int             `json:"filteredCount"`
	Emails        []FilteredEmail `json:"emails"`
	UserID        string          `json:"userId"`
}

// BatchOutcome is the output of phase two of the batch mode
type BatchOutcome struct {
	Processed     int                 `json:"processed"`
	Remaining     int                 `json:"remaining"`
	Subscriptions []AcceptedCandidate `json:"subscriptions"`
	Failed        int                 `json:"failed"`
}

// Scan record status values
const (
	ScanStatusScanning  = "scanning"
	ScanStatusCompleted = "completed"
	ScanStatusCancelled = "cancelled"
	ScanStatusError     = "error"
)

// ScanRecord is the persisted log entry of a scan run
type ScanRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	EmailsFound int        `json:"emailsFound"`
	SubsFound   int        `json:"subsFound"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// CacheEntry is a cached extraction outcome for one message
type CacheEntry struct {
	MessageID string
	Result    *ParsedSubscription // nil when nothing was found
	CachedAt  time.Time
	ExpiresAt time.Time
}
