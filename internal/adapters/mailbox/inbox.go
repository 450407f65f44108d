package mailbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// DefaultInboxCapacity is the number of messages kept per user
const DefaultInboxCapacity = 500

// Inbox is an in-memory mailbox fed by forwarded mail
type Inbox struct {
	messages map[string][]core.RawMessage
	mu       sync.RWMutex
	capacity int
	logger   *zap.Logger
	now      func() time.Time
}

// NewInbox creates a new in-memory inbox keeping at most capacity messages per user
func NewInbox(capacity int, logger *zap.Logger) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{
		messages: make(map[string][]core.RawMessage),
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Name identifies the mailbox provider
func (b *Inbox) Name() string {
	return "inbox"
}

// Append stores a message for a user, evicting the oldest entries beyond capacity.
// A message with an ID already present is ignored.
func (b *Inbox) Append(userID string, msg core.RawMessage) bool {
	userID = normalizeUser(userID)

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.messages[userID]
	for _, m := range list {
		if m.ID == msg.ID {
			return false
		}
	}
	if msg.Date.IsZero() {
		msg.Date = b.now()
	}

	list = append(list, msg)
	if over := len(list) - b.capacity; over > 0 {
		list = list[over:]
		b.logger.Debug("Inbox capacity reached, evicted oldest messages",
			zap.String("user_id", userID),
			zap.Int("evicted", over))
	}
	b.messages[userID] = list
	return true
}

// Len returns the number of stored messages of a user
func (b *Inbox) Len(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages[normalizeUser(userID)])
}

// FetchRecentMessages returns the user's messages inside the lookback window
func (b *Inbox) FetchRecentMessages(ctx context.Context, cred core.Credential, sinceDays, maxCount int) ([]core.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	stored := make([]core.RawMessage, len(b.messages[normalizeUser(cred.UserID)]))
	copy(stored, b.messages[normalizeUser(cred.UserID)])
	b.mu.RUnlock()

	return filterRecent(stored, b.now(), sinceDays, maxCount), nil
}

func normalizeUser(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}
