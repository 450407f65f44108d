package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// Maildir reads messages from a directory of .eml files or a maildir tree.
// When the root holds a directory named after the user, that directory is used.
type Maildir struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewMaildir creates a new directory-backed mailbox
func NewMaildir(root string, logger *zap.Logger) *Maildir {
	return &Maildir{
		root:   root,
		logger: logger,
		now:    time.Now,
	}
}

// Name identifies the mailbox provider
func (m *Maildir) Name() string {
	return "maildir"
}

// FetchRecentMessages parses every message file under the user's directory
func (m *Maildir) FetchRecentMessages(ctx context.Context, cred core.Credential, sinceDays, maxCount int) ([]core.RawMessage, error) {
	dir := m.userDir(cred.UserID)
	if _, err := os.Stat(dir); err != nil {
		return nil, &core.FetchError{Provider: m.Name(), Cause: err}
	}

	var msgs []core.RawMessage
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			// maildir tmp holds partially delivered files
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMessageFile(path, dir) {
			return nil
		}

		msg, err := m.readFile(path, d)
		if err != nil {
			m.logger.Warn("Skipping unreadable message file",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		msgs = append(msgs, *msg)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &core.FetchError{Provider: m.Name(), Cause: err}
	}

	recent := filterRecent(msgs, m.now(), sinceDays, maxCount)
	m.logger.Debug("Read maildir",
		zap.String("dir", dir),
		zap.Int("files", len(msgs)),
		zap.Int("recent", len(recent)))
	return recent, nil
}

func (m *Maildir) userDir(userID string) string {
	if userID != "" && !strings.ContainsAny(userID, `/\`) && userID != ".." {
		candidate := filepath.Join(m.root, userID)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return m.root
}

func (m *Maildir) readFile(path string, d fs.DirEntry) (*core.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := ParseMessage(f)
	if err != nil {
		return nil, err
	}

	rel, _ := filepath.Rel(m.root, path)
	if msg.ID == "" {
		msg.ID = rel
	}
	msg.ThreadID = rel
	if msg.Date.IsZero() {
		info, err := d.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		msg.Date = info.ModTime()
	}
	return msg, nil
}

// isMessageFile accepts .eml files anywhere and any file inside maildir cur/new
func isMessageFile(path, root string) bool {
	if strings.EqualFold(filepath.Ext(path), ".eml") {
		return true
	}
	parent := filepath.Base(filepath.Dir(path))
	return filepath.Dir(path) != root && (parent == "cur" || parent == "new")
}
