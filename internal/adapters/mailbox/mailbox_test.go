package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestFilterRecent(t *testing.T) {
	msgs := []core.RawMessage{
		{ID: "old", Date: fixedNow.AddDate(0, 0, -40)},
		{ID: "mid", Date: fixedNow.AddDate(0, 0, -10)},
		{ID: "undated"},
		{ID: "new", Date: fixedNow.AddDate(0, 0, -1)},
		{ID: "edge", Date: fixedNow.AddDate(0, 0, -30)},
	}

	got := filterRecent(msgs, fixedNow, 30, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "edge", got[2].ID)

	got = filterRecent(msgs, fixedNow, 30, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
}

func TestInbox(t *testing.T) {
	inbox := NewInbox(2, zap.NewNop())
	inbox.now = func() time.Time { return fixedNow }

	assert.True(t, inbox.Append("Alice", core.RawMessage{ID: "1", Date: fixedNow.Add(-3 * time.Hour)}))
	assert.False(t, inbox.Append("alice", core.RawMessage{ID: "1"}), "duplicate id")
	assert.True(t, inbox.Append("alice", core.RawMessage{ID: "2", Date: fixedNow.Add(-2 * time.Hour)}))
	assert.True(t, inbox.Append("alice", core.RawMessage{ID: "3"}))
	assert.Equal(t, 2, inbox.Len("alice"))

	msgs, err := inbox.FetchRecentMessages(context.Background(), core.Credential{UserID: "ALICE"}, 30, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "3", msgs[0].ID)
	assert.Equal(t, fixedNow, msgs[0].Date)
	assert.Equal(t, "2", msgs[1].ID)

	msgs, err = inbox.FetchRecentMessages(context.Background(), core.Credential{UserID: "bob"}, 30, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func writeEML(t *testing.T, path, subject string, date time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	raw := fmt.Sprintf("From: Billing <billing@example.com>\r\nSubject: %s\r\nDate: %s\r\n\r\nTotal $9.99\r\n",
		subject, date.Format(time.RFC1123Z))
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
}

func TestMaildir(t *testing.T) {
	root := t.TempDir()
	writeEML(t, filepath.Join(root, "alice", "receipt.eml"), "loose eml", fixedNow.AddDate(0, 0, -2))
	writeEML(t, filepath.Join(root, "alice", "cur", "1700000000.M1P1.host:2,S"), "maildir cur", fixedNow.AddDate(0, 0, -1))
	writeEML(t, filepath.Join(root, "alice", "new", "1700000001.M2P1.host"), "too old", fixedNow.AddDate(0, 0, -60))
	writeEML(t, filepath.Join(root, "alice", "tmp", "partial"), "partial", fixedNow)
	require.NoError(t, os.WriteFile(filepath.Join(root, "alice", "broken.eml"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "alice", "notes.txt"), []byte("not mail"), 0o644))
	writeEML(t, filepath.Join(root, "shared.eml"), "shared", fixedNow.AddDate(0, 0, -3))

	md := NewMaildir(root, zap.NewNop())
	md.now = func() time.Time { return fixedNow }

	t.Run("user directory", func(t *testing.T) {
		msgs, err := md.FetchRecentMessages(context.Background(), core.Credential{UserID: "alice"}, 30, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "maildir cur", msgs[0].Subject)
		assert.Equal(t, "loose eml", msgs[1].Subject)
		assert.Equal(t, filepath.Join("alice", "receipt.eml"), msgs[1].ID)
		assert.Equal(t, "Total $9.99", msgs[1].Body)
	})

	t.Run("falls back to root", func(t *testing.T) {
		msgs, err := md.FetchRecentMessages(context.Background(), core.Credential{UserID: "bob"}, 30, 10)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := NewMaildir(filepath.Join(root, "nope"), zap.NewNop()).
			FetchRecentMessages(context.Background(), core.Credential{}, 30, 10)
		assert.True(t, core.IsFetchError(err))
	})
}

func TestDemoMailbox(t *testing.T) {
	demo, err := NewDemoMailbox(zap.NewNop())
	require.NoError(t, err)
	demo.now = func() time.Time { return fixedNow }

	msgs, err := demo.FetchRecentMessages(context.Background(), core.Credential{UserID: "u"}, 30, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 7)
	assert.Equal(t, "demo-4", msgs[0].ID, "newest first")
	for _, m := range msgs {
		assert.NotContains(t, m.Body, "{next}")
		assert.NotEmpty(t, m.From)
	}

	msgs, err = demo.FetchRecentMessages(context.Background(), core.Credential{UserID: "u"}, 4, 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}
