package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
)

func b64url(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

type fakeGmail struct {
	messages map[string]*gmail.Message
	order    []string
	status   int
	bearer   atomic.Value
	lists    atomic.Int32
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.bearer.Store(r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error": {"code": 401, "message": "Invalid Credentials"}}`))
		return
	}

	const prefix = "/gmail/v1/users/me/messages"
	switch {
	case r.URL.Path == prefix:
		f.lists.Add(1)
		resp := gmail.ListMessagesResponse{}
		// two ids per page
		start := 0
		if tok := r.URL.Query().Get("pageToken"); tok == "p2" {
			start = 2
		}
		for i := start; i < len(f.order) && i < start+2; i++ {
			resp.Messages = append(resp.Messages, &gmail.Message{Id: f.order[i]})
		}
		if start+2 < len(f.order) {
			resp.NextPageToken = "p2"
		}
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasPrefix(r.URL.Path, prefix+"/"):
		id := strings.TrimPrefix(r.URL.Path, prefix+"/")
		msg, ok := f.messages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"code": 404, "message": "not found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(msg)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func gmailMessage(id, subject string, date time.Time, parts ...*gmail.MessagePart) *gmail.Message {
	return &gmail.Message{
		Id:       id,
		ThreadId: "t-" + id,
		Snippet:  "Your payment of $9.99 &amp; more",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: subject},
				{Name: "From", Value: "Spotify <no-reply@spotify.com>"},
				{Name: "Date", Value: date.Format(time.RFC1123Z)},
			},
			Parts: parts,
		},
	}
}

func newGmailFixture(now time.Time) *fakeGmail {
	return &fakeGmail{
		order: []string{"m1", "m2", "m3"},
		messages: map[string]*gmail.Message{
			"m1": gmailMessage("m1", "Spotify receipt", now.Add(-24*time.Hour),
				&gmail.MessagePart{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64url("<p>html</p>")}},
				&gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64url("Amount: $9.99")}},
			),
			"m2": gmailMessage("m2", "Old receipt", now.AddDate(0, 0, -45),
				&gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64url("old")}},
			),
			"m3": gmailMessage("m3", "Invoice", now.Add(-2*time.Hour),
				&gmail.MessagePart{MimeType: "multipart/related", Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64url("<div>Total <b>$54.99</b></div>")}},
					{MimeType: "application/pdf", Filename: "invoice.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1"}},
				}},
			),
		},
	}
}

func TestGmailFetchRecentMessages(t *testing.T) {
	now := time.Now()
	fake := newGmailFixture(now)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g := NewGmailMailbox(nil, nil, "", 0, 2, zap.NewNop()).WithEndpoint(srv.URL + "/")

	msgs, err := g.FetchRecentMessages(context.Background(), core.Credential{UserID: "u", AccessToken: "tok"}, 30, 10)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", fake.bearer.Load())
	assert.EqualValues(t, 2, fake.lists.Load(), "two pages")

	require.Len(t, msgs, 2, "the 45 day old message is dropped")
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "SNIPPET: Your payment of $9.99 & more END_SNIPPET. Total $54.99", msgs[0].Body)
	assert.Equal(t, "m1", msgs[1].ID)
	assert.Equal(t, "t-m1", msgs[1].ThreadID)
	assert.Equal(t, "Spotify receipt", msgs[1].Subject)
	assert.Equal(t, "Spotify <no-reply@spotify.com>", msgs[1].From)
	assert.True(t, strings.HasSuffix(msgs[1].Body, "END_SNIPPET. Amount: $9.99"))
}

func TestGmailStopsAtMaxCount(t *testing.T) {
	fake := newGmailFixture(time.Now())
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g := NewGmailMailbox(nil, nil, "", 0, 2, zap.NewNop()).WithEndpoint(srv.URL + "/")
	msgs, err := g.FetchRecentMessages(context.Background(), core.Credential{AccessToken: "tok"}, 30, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.lists.Load())
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestGmailAuthFailures(t *testing.T) {
	t.Run("rejected token", func(t *testing.T) {
		fake := newGmailFixture(time.Now())
		fake.status = http.StatusUnauthorized
		srv := httptest.NewServer(fake)
		defer srv.Close()

		g := NewGmailMailbox(nil, nil, "", 0, 2, zap.NewNop()).WithEndpoint(srv.URL + "/")
		_, err := g.FetchRecentMessages(context.Background(), core.Credential{AccessToken: "stale"}, 30, 10)
		assert.True(t, core.IsAuthError(err), "got %v", err)
	})

	t.Run("no token", func(t *testing.T) {
		g := NewGmailMailbox(nil, NewTokenStore(t.TempDir()), "", 0, 2, zap.NewNop())
		_, err := g.FetchRecentMessages(context.Background(), core.Credential{UserID: "nobody"}, 30, 10)
		assert.True(t, core.IsAuthError(err))
	})

	t.Run("refresh rejected", func(t *testing.T) {
		tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		}))
		defer tokenSrv.Close()
		api := httptest.NewServer(newGmailFixture(time.Now()))
		defer api.Close()

		oauthCfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret", Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL}}
		g := NewGmailMailbox(oauthCfg, nil, "", 0, 2, zap.NewNop()).WithEndpoint(api.URL + "/")
		_, err := g.FetchRecentMessages(context.Background(), core.Credential{
			AccessToken:  "expired",
			RefreshToken: "refresh",
			Expiry:       time.Now().Add(-time.Hour),
		}, 30, 10)
		assert.True(t, core.IsAuthError(err), "got %v", err)
	})
}

func TestGmailRefreshPersistsToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "fresh", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer tokenSrv.Close()
	fake := newGmailFixture(time.Now())
	api := httptest.NewServer(fake)
	defer api.Close()

	store := NewTokenStore(t.TempDir())
	require.NoError(t, store.Save("alice", &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	oauthCfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret", Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL}}
	g := NewGmailMailbox(oauthCfg, store, "", 0, 2, zap.NewNop()).WithEndpoint(api.URL + "/")

	msgs, err := g.FetchRecentMessages(context.Background(), core.Credential{UserID: "alice"}, 30, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "Bearer fresh", fake.bearer.Load())

	saved, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh", saved.RefreshToken, "refresh token carried over")
}

func TestSearchQuery(t *testing.T) {
	g := NewGmailMailbox(nil, nil, "", 0, 0, zap.NewNop())
	assert.True(t, strings.HasPrefix(g.searchQuery(30), "newer_than:30d (subject:(receipt"))

	g = NewGmailMailbox(nil, nil, "newer_than:7d label:bills", 0, 0, zap.NewNop())
	assert.Equal(t, "newer_than:7d label:bills", g.searchQuery(30))
}
