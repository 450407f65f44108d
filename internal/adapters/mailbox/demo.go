package mailbox

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoFixtures []byte

type demoMessage struct {
	ID         string `yaml:"id"`
	ThreadID   string `yaml:"thread_id"`
	From       string `yaml:"from"`
	Subject    string `yaml:"subject"`
	Snippet    string `yaml:"snippet"`
	DaysAgo    int    `yaml:"days_ago"`
	NextInDays int    `yaml:"next_in_days"`
	Body       string `yaml:"body"`
}

// DemoMailbox serves a fixed set of subscription emails dated relative to now
type DemoMailbox struct {
	fixtures []demoMessage
	logger   *zap.Logger
	now      func() time.Time
}

// NewDemoMailbox creates a new demo mailbox from the embedded fixtures
func NewDemoMailbox(logger *zap.Logger) (*DemoMailbox, error) {
	var doc struct {
		Messages []demoMessage `yaml:"messages"`
	}
	if err := yaml.Unmarshal(demoFixtures, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse demo fixtures: %w", err)
	}
	return &DemoMailbox{
		fixtures: doc.Messages,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Name identifies the mailbox provider
func (d *DemoMailbox) Name() string {
	return "demo"
}

// FetchRecentMessages returns the fixtures that fall inside the lookback window
func (d *DemoMailbox) FetchRecentMessages(ctx context.Context, cred core.Credential, sinceDays, maxCount int) ([]core.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := d.now()
	msgs := make([]core.RawMessage, 0, len(d.fixtures))
	for _, f := range d.fixtures {
		next := now.AddDate(0, 0, f.NextInDays).Format("January 2, 2006")
		msgs = append(msgs, core.RawMessage{
			ID:       f.ID,
			ThreadID: f.ThreadID,
			Subject:  f.Subject,
			From:     f.From,
			Date:     now.AddDate(0, 0, -f.DaysAgo),
			Snippet:  f.Snippet,
			Body:     strings.TrimSpace(strings.ReplaceAll(f.Body, "{next}", next)),
		})
	}

	d.logger.Debug("Serving demo mailbox", zap.String("user_id", cred.UserID), zap.Int("messages", len(msgs)))
	return filterRecent(msgs, now, sinceDays, maxCount), nil
}
