package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/utils"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser     = "me"
	gmailPageSize = 100

	defaultMaxPages    = 20
	defaultConcurrency = 5
)

// DefaultGmailQuery narrows the search to billing-looking mail. The lookback
// term is prepended per request.
const DefaultGmailQuery = `(` +
	`subject:(receipt OR subscription OR billing OR invoice OR payment OR charged OR renew OR renewal OR membership OR statement OR trial OR plan OR order) ` +
	`OR from:(noreply OR billing OR receipt OR invoice OR orders OR amazon OR prime OR netflix OR hbo OR spotify OR apple OR google OR adobe)` +
	`) ` +
	`-subject:(newsletter OR shipping OR shipped OR delivered OR tracking OR "verification code" OR "security alert" OR "password reset" OR refund OR return OR "job alert" OR "job recommendation" OR digest OR "new post" OR published) ` +
	`-category:(social OR promotions)`

// LoadOAuthConfig reads a Google client secret file for read-only Gmail access
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return cfg, nil
}

// GmailMailbox fetches messages through the Gmail API
type GmailMailbox struct {
	oauth       *oauth2.Config
	tokens      *TokenStore
	query       string
	maxPages    int
	concurrency int
	endpoint    string
	logger      *zap.Logger
	now         func() time.Time
}

// NewGmailMailbox creates a new Gmail mailbox. oauthCfg may be nil, in which
// case tokens are used as they are and never refreshed.
func NewGmailMailbox(
	oauthCfg *oauth2.Config,
	tokens *TokenStore,
	query string,
	maxPages int,
	concurrency int,
	logger *zap.Logger,
) *GmailMailbox {
	if strings.TrimSpace(query) == "" {
		query = DefaultGmailQuery
	}
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &GmailMailbox{
		oauth:       oauthCfg,
		tokens:      tokens,
		query:       query,
		maxPages:    maxPages,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// WithEndpoint points the client at another API base URL
func (g *GmailMailbox) WithEndpoint(endpoint string) *GmailMailbox {
	g.endpoint = endpoint
	return g
}

// Name identifies the mailbox provider
func (g *GmailMailbox) Name() string {
	return "gmail"
}

// FetchRecentMessages lists matching message ids page by page, then fetches
// the full messages concurrently
func (g *GmailMailbox) FetchRecentMessages(ctx context.Context, cred core.Credential, sinceDays, maxCount int) ([]core.RawMessage, error) {
	srv, err := g.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	query := g.searchQuery(sinceDays)
	ids, err := g.listIDs(ctx, srv, query, maxCount)
	if err != nil {
		return nil, g.classify(err)
	}
	g.logger.Debug("Listed Gmail messages",
		zap.String("user_id", cred.UserID),
		zap.Int("ids", len(ids)))
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := g.fetchAll(ctx, srv, ids)
	if err != nil {
		return nil, g.classify(err)
	}

	// the search operator is day-granular, the window is not
	return filterRecent(msgs, g.now(), sinceDays, maxCount), nil
}

func (g *GmailMailbox) service(ctx context.Context, cred core.Credential) (*gmail.Service, error) {
	tok, err := g.token(cred)
	if err != nil {
		return nil, &core.AuthError{Provider: g.Name(), Cause: err}
	}

	var src oauth2.TokenSource = oauth2.StaticTokenSource(tok)
	if g.oauth != nil && tok.RefreshToken != "" {
		src = &persistingSource{
			base:   oauth2.ReuseTokenSource(tok, g.oauth.TokenSource(ctx, tok)),
			store:  g.tokens,
			userID: cred.UserID,
			logger: g.logger,
			last:   tok.AccessToken,
		}
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, &core.FetchError{Provider: g.Name(), Cause: fmt.Errorf("unable to create Gmail service: %w", err)}
	}
	return srv, nil
}

// token prefers the credential's token and falls back to the token store
func (g *GmailMailbox) token(cred core.Credential) (*oauth2.Token, error) {
	if cred.AccessToken != "" || cred.RefreshToken != "" {
		return &oauth2.Token{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       cred.Expiry,
		}, nil
	}
	if g.tokens == nil {
		return nil, errors.New("no access token")
	}
	tok, err := g.tokens.Load(cred.UserID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no stored token for user %q", cred.UserID)
		}
		return nil, err
	}
	return tok, nil
}

func (g *GmailMailbox) searchQuery(sinceDays int) string {
	if strings.Contains(g.query, "newer_than:") || sinceDays <= 0 {
		return g.query
	}
	return fmt.Sprintf("newer_than:%dd %s", sinceDays, g.query)
}

func (g *GmailMailbox) listIDs(ctx context.Context, srv *gmail.Service, query string, maxCount int) ([]string, error) {
	var ids []string
	pageToken := ""
	for page := 0; page < g.maxPages; page++ {
		call := srv.Users.Messages.List(gmailUser).Q(query).MaxResults(gmailPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		if maxCount > 0 && len(ids) >= maxCount {
			return ids[:maxCount], nil
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

// fetchAll skips messages that fail individually. It only fails when nothing
// could be fetched.
func (g *GmailMailbox) fetchAll(ctx context.Context, srv *gmail.Service, ids []string) ([]core.RawMessage, error) {
	results := make([]*core.RawMessage, len(ids))

	var firstErr error
	var errOnce sync.Once

	p := pool.New().WithMaxGoroutines(g.concurrency)
	for i, id := range ids {
		p.Go(func() {
			msg, err := srv.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				g.logger.Warn("Failed to fetch Gmail message",
					zap.String("message_id", id),
					zap.Error(err))
				return
			}
			results[i] = convertMessage(msg)
		})
	}
	p.Wait()

	msgs := make([]core.RawMessage, 0, len(ids))
	for _, m := range results {
		if m != nil {
			msgs = append(msgs, *m)
		}
	}
	if len(msgs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return msgs, nil
}

// classify maps API failures onto the mailbox error taxonomy
func (g *GmailMailbox) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &core.AuthError{Provider: g.Name(), Cause: err}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) &&
		(apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return &core.AuthError{Provider: g.Name(), Cause: err}
	}
	return &core.FetchError{Provider: g.Name(), Cause: err}
}

func convertMessage(msg *gmail.Message) *core.RawMessage {
	raw := &core.RawMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  html.UnescapeString(msg.Snippet),
	}

	var b bodies
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				raw.Subject = decodeHeader(h.Value)
			case "from":
				raw.From = decodeHeader(h.Value)
			case "date":
				raw.Date = ParseDate(h.Value)
			}
		}
		collectParts(msg.Payload, 0, &b)
	}
	if raw.Date.IsZero() && msg.InternalDate > 0 {
		raw.Date = time.UnixMilli(msg.InternalDate)
	}

	body := b.text()
	if raw.Snippet != "" {
		body = "SNIPPET: " + raw.Snippet + " END_SNIPPET. " + body
	}
	raw.Body = utils.CutUTF8(body, MaxBodyBytes)
	return raw
}

// collectParts walks the payload tree keeping the first plain and html bodies
func collectParts(part *gmail.MessagePart, depth int, out *bodies) {
	if part == nil || depth > maxPartDepth || part.Filename != "" {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch {
		case part.MimeType == "text/plain" && out.plain == "":
			out.plain = decodePartData(part)
		case part.MimeType == "text/html" && out.html == "":
			out.html = decodePartData(part)
		}
	}
	for _, child := range part.Parts {
		collectParts(child, depth+1, out)
	}
}

func decodePartData(part *gmail.MessagePart) string {
	data, err := base64.URLEncoding.DecodeString(part.Body.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "="))
		if err != nil {
			return ""
		}
	}

	charset := ""
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			if _, params, err := mime.ParseMediaType(h.Value); err == nil {
				charset = params["charset"]
			}
		}
	}
	return decodeCharset(charset, data)
}
