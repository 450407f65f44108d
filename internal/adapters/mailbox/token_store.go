package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var reUnsafeFileChar = regexp.MustCompile(`[^a-zA-Z0-9._@-]`)

// TokenStore keeps one OAuth2 token JSON file per user
type TokenStore struct {
	dir string
	mu  sync.Mutex
}

// NewTokenStore creates a token store rooted at dir
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

func (s *TokenStore) path(userID string) string {
	name := reUnsafeFileChar.ReplaceAllString(userID, "_")
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	return filepath.Join(s.dir, name+".json")
}

// Load reads the stored token of a user
func (s *TokenStore) Load(userID string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(userID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return tok, nil
}

// Save writes the token of a user, readable by the owner only
func (s *TokenStore) Save(userID string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	f, err := os.OpenFile(s.path(userID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return nil
}

// persistingSource saves tokens handed out by a refreshing source whenever the
// access token changes
type persistingSource struct {
	base   oauth2.TokenSource
	store  *TokenStore
	userID string
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken

	if s.store != nil {
		if err := s.store.Save(s.userID, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token",
				zap.String("user_id", s.userID),
				zap.Error(err))
		} else {
			s.logger.Info("Persisted refreshed token", zap.String("user_id", s.userID))
		}
	}
	return tok, nil
}
