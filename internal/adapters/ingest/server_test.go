package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/Threadigit/BillDrop/internal/adapters/mailbox"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const forwarded = "From: Netflix <info@mailer.netflix.com>\r\n" +
	"Subject: Your Netflix receipt\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Amount charged: $15.99\r\n"

func TestUserFor(t *testing.T) {
	s := NewServer(nil, zap.NewNop(), "", "Bills.Example.com", 0)
	tests := map[string]string{
		"alice@bills.example.com":         "alice",
		"<Alice@BILLS.example.com>":       "alice",
		"alice+netflix@bills.example.com": "alice",
		"alice@other.example.com":         "",
		"not-an-address":                  "",
		"@bills.example.com":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, s.userFor(in), in)
	}
}

func TestSession(t *testing.T) {
	inbox := mailbox.NewInbox(0, zap.NewNop())
	s := NewServer(inbox, zap.NewNop(), "", "bills.example.com", 0)
	sess, err := (&smtpBackend{server: s}).NewSession(nil)
	require.NoError(t, err)

	require.NoError(t, sess.Mail("forwarder@gmail.com", nil))
	require.NoError(t, sess.Rcpt("alice@bills.example.com", nil))
	require.NoError(t, sess.Rcpt("alice+dup@bills.example.com", nil))
	require.NoError(t, sess.Rcpt("bob@bills.example.com", nil))

	err = sess.Rcpt("carol@elsewhere.com", nil)
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)

	require.NoError(t, sess.Data(strings.NewReader(forwarded)))

	assert.Equal(t, 1, inbox.Len("alice"))
	assert.Equal(t, 1, inbox.Len("bob"))

	msgs, err := inbox.FetchRecentMessages(context.Background(), core.Credential{UserID: "alice"}, 30, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Your Netflix receipt", msgs[0].Subject)
	assert.Equal(t, "Amount charged: $15.99", msgs[0].Body)
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, msgs[0].Date.IsZero())

	sess.Reset()
	require.NoError(t, sess.Rcpt("alice@bills.example.com", nil))
	err = sess.Data(strings.NewReader("garbage"))
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 554, smtpErr.Code)
}

func TestServerEndToEnd(t *testing.T) {
	inbox := mailbox.NewInbox(0, zap.NewNop())
	s := NewServer(inbox, zap.NewNop(), "127.0.0.1:0", "bills.example.com", 0)
	require.NoError(t, s.Start())
	defer s.Stop()

	c, err := smtp.Dial(s.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("client.example.com"))
	require.NoError(t, c.Mail("forwarder@gmail.com", nil))
	require.NoError(t, c.Rcpt("alice@bills.example.com", nil))
	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write([]byte(forwarded))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	assert.Equal(t, 1, inbox.Len("alice"))
}
