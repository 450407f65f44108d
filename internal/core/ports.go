package core

import (
	"context"
)

// LLMClient defines the interface for text-generation services
type LLMClient interface {
	// Complete sends a system and a user prompt and returns the raw reply text
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the provider and model for logs and metrics
	Name() string
}

// MailboxProvider fetches recent messages from a mailbox.
// It fails with *AuthError when the credential is unusable and with *FetchError
// on transport failures.
type MailboxProvider interface {
	FetchRecentMessages(ctx context.Context, cred Credential, sinceDays, maxCount int) ([]RawMessage, error)

	// Name identifies the mailbox provider
	Name() string
}

// SubscriptionRepository persists subscription records
type SubscriptionRepository interface {
	// FindExisting returns the user's record with the given dedup key, or ErrNotFound
	FindExisting(ctx context.Context, userID, dedupKey string) (*Subscription, error)

	// ListByUser returns all records of a user
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)

	// CreateSubscription stores a new record and returns it with its ID set
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)
}

// ScanRepository persists scan run records
type ScanRepository interface {
	CreateScan(ctx context.Context, rec *ScanRecord) error
	UpdateScan(ctx context.Context, rec *ScanRecord) error
	// LatestScan returns the most recent run of a user, or ErrNotFound
	LatestScan(ctx context.Context, userID string) (*ScanRecord, error)
}

// CacheRepository caches extraction outcomes per message
type CacheRepository interface {
	// Get retrieves a cached entry, or ErrNotFound
	Get(ctx context.Context, messageID string) (*CacheEntry, error)

	// Set stores a cache entry
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry
	Delete(ctx context.Context, messageID string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}

// CandidateFilter ranks raw messages by subscription likelihood
type CandidateFilter interface {
	Filter(messages []RawMessage) []FilteredEmail
}

// ExtractionEngine runs the extraction cascade over one sub-batch.
// The result has one entry per input, in input order.
type ExtractionEngine interface {
	ExtractBatch(ctx context.Context, emails []FilteredEmail) []ItemResult
}
