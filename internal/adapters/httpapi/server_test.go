package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Threadigit/BillDrop/internal/adapters/store"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) RunScan(ctx context.Context, req core.ScanRequest, sink core.EventSink) (*core.ScanSummary, error) {
	args := m.Called(ctx, req, sink)
	summary, _ := args.Get(0).(*core.ScanSummary)
	return summary, args.Error(1)
}

func (m *MockScanner) PrepareBatch(ctx context.Context, req core.ScanRequest) (*core.BatchPreparation, error) {
	args := m.Called(ctx, req)
	prep, _ := args.Get(0).(*core.BatchPreparation)
	return prep, args.Error(1)
}

func (m *MockScanner) ProcessBatch(ctx context.Context, userID string, emails []core.FilteredEmail, sink core.EventSink) (*core.BatchOutcome, error) {
	args := m.Called(ctx, userID, emails, sink)
	outcome, _ := args.Get(0).(*core.BatchOutcome)
	return outcome, args.Error(1)
}

func (m *MockScanner) LatestScan(ctx context.Context, userID string) (*core.ScanRecord, error) {
	args := m.Called(ctx, userID)
	rec, _ := args.Get(0).(*core.ScanRecord)
	return rec, args.Error(1)
}

func setupTestServer(t *testing.T, scanner Scanner) (*Server, *store.MemoryStore) {
	t.Helper()
	subs := store.NewMemoryStore(zap.NewNop())
	server, err := NewServer(scanner, subs, zap.NewNop(), Config{})
	require.NoError(t, err)
	return server, subs
}

func do(server *Server, method, target, user string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, store.NewMemoryStore(zap.NewNop()), zap.NewNop(), Config{})
	assert.Error(t, err)

	_, err = NewServer(&MockScanner{}, store.NewMemoryStore(zap.NewNop()), nil, Config{})
	assert.Error(t, err)

	server, err := NewServer(&MockScanner{}, store.NewMemoryStore(zap.NewNop()), zap.NewNop(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", server.config.ListenAddress)
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, &MockScanner{})
	rec := do(server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleScan(t *testing.T) {
	t.Run("passes user, token and limits", func(t *testing.T) {
		scanner := &MockScanner{}
		want := core.ScanRequest{
			UserID:       "alice",
			Credential:   core.Credential{UserID: "alice", AccessToken: "tok"},
			LookbackDays: 7,
			MaxFetch:     20,
		}
		scanner.On("RunScan", mock.Anything, want, mock.Anything).
			Return(&core.ScanSummary{RunID: "run-1", State: core.StateComplete, TotalAccepted: 2}, nil)
		server, _ := setupTestServer(t, scanner)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scan?days=7&max=20", nil)
		req.Header.Set(HeaderUserID, "alice")
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var summary core.ScanSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, "run-1", summary.RunID)
		assert.Equal(t, 2, summary.TotalAccepted)
		scanner.AssertExpectations(t)
	})

	t.Run("missing user", func(t *testing.T) {
		server, _ := setupTestServer(t, &MockScanner{})
		rec := do(server, http.MethodPost, "/api/v1/scan", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("blank user header", func(t *testing.T) {
		scanner := &MockScanner{}
		server, _ := setupTestServer(t, scanner)
		rec := do(server, http.MethodPost, "/api/v1/scan", "   ", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		scanner.AssertNotCalled(t, "RunScan", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("bad query", func(t *testing.T) {
		server, _ := setupTestServer(t, &MockScanner{})
		rec := do(server, http.MethodPost, "/api/v1/scan?days=abc", "alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"auth", &core.AuthError{Provider: "gmail"}, http.StatusUnauthorized},
		{"fetch", &core.FetchError{Provider: "gmail", Cause: errors.New("timeout")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			scanner := &MockScanner{}
			scanner.On("RunScan", mock.Anything, mock.Anything, mock.Anything).
				Return(&core.ScanSummary{State: core.StateError}, tc.err)
			server, _ := setupTestServer(t, scanner)

			rec := do(server, http.MethodPost, "/api/v1/scan", "alice", nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	t.Run("auth message", func(t *testing.T) {
		scanner := &MockScanner{}
		scanner.On("RunScan", mock.Anything, mock.Anything, mock.Anything).
			Return(&core.ScanSummary{}, &core.AuthError{Provider: "gmail"})
		server, _ := setupTestServer(t, scanner)

		rec := do(server, http.MethodPost, "/api/v1/scan", "alice", nil)
		assert.Contains(t, rec.Body.String(), "reconnect required")
	})
}

func TestHandleScanStream(t *testing.T) {
	scanner := &MockScanner{}
	scanner.On("RunScan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sink := args.Get(2).(core.EventSink)
			sink(core.Event{Type: core.EventStatus, Message: "Fetching emails...", Progress: 10})
			sink(core.Event{Type: core.EventCandidateFound, Candidate: &core.CandidateSummary{ServiceName: "Netflix", Amount: 15.99}})
			sink(core.Event{Type: core.EventComplete, Progress: 100, TotalFound: 1, TotalScanned: 3})
		}).
		Return(&core.ScanSummary{}, nil)
	server, _ := setupTestServer(t, scanner)

	rec := do(server, http.MethodGet, "/api/v1/scan/stream", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	chunks := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, chunks, 3)
	var events []core.Event
	for _, chunk := range chunks {
		require.True(t, strings.HasPrefix(chunk, "data: "))
		var ev core.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &ev))
		events = append(events, ev)
	}
	assert.Equal(t, core.EventStatus, events[0].Type)
	assert.Equal(t, "Netflix", events[1].Candidate.ServiceName)
	assert.Equal(t, core.EventComplete, events[2].Type)
	assert.Equal(t, 1, events[2].TotalFound)
}

func TestHandleScanStreamFailure(t *testing.T) {
	scanner := &MockScanner{}
	scanner.On("RunScan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(2).(core.EventSink)(core.Event{Type: core.EventError, Message: "reconnect"})
		}).
		Return(&core.ScanSummary{}, &core.AuthError{Provider: "gmail"})
	server, _ := setupTestServer(t, scanner)

	rec := do(server, http.MethodGet, "/api/v1/scan/stream", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "headers are already sent")
	assert.Contains(t, rec.Body.String(), `"type":"error"`)
}

func TestHandleBatch(t *testing.T) {
	t.Run("prepare", func(t *testing.T) {
		scanner := &MockScanner{}
		scanner.On("PrepareBatch", mock.Anything, mock.MatchedBy(func(req core.ScanRequest) bool {
			return req.UserID == "alice"
		})).Return(&core.BatchPreparation{RunID: "r", TotalEmails: 4, FilteredCount: 1, UserID: "alice",
			Emails: []core.FilteredEmail{{RawMessage: core.RawMessage{ID: "m1"}}}}, nil)
		server, _ := setupTestServer(t, scanner)

		rec := do(server, http.MethodGet, "/api/v1/scan/batch", "alice", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		var prep core.BatchPreparation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prep))
		assert.Equal(t, 4, prep.TotalEmails)
		require.Len(t, prep.Emails, 1)
		assert.Equal(t, "m1", prep.Emails[0].ID)
	})

	t.Run("process", func(t *testing.T) {
		scanner := &MockScanner{}
		scanner.On("ProcessBatch", mock.Anything, "alice", mock.MatchedBy(func(emails []core.FilteredEmail) bool {
			return len(emails) == 2 && emails[0].ID == "m1"
		}), mock.Anything).Return(&core.BatchOutcome{Processed: 2, Subscriptions: []core.AcceptedCandidate{}}, nil)
		server, _ := setupTestServer(t, scanner)

		body := []byte(`{"emails": [{"id": "m1", "subject": "Receipt"}, {"id": "m2"}]}`)
		rec := do(server, http.MethodPost, "/api/v1/scan/batch", "alice", body)
		assert.Equal(t, http.StatusOK, rec.Code)
		var outcome core.BatchOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.Equal(t, 2, outcome.Processed)
		scanner.AssertExpectations(t)
	})

	t.Run("empty list", func(t *testing.T) {
		scanner := &MockScanner{}
		server, _ := setupTestServer(t, scanner)

		rec := do(server, http.MethodPost, "/api/v1/scan/batch", "alice", []byte(`{"emails": []}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		scanner.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed body", func(t *testing.T) {
		server, _ := setupTestServer(t, &MockScanner{})
		rec := do(server, http.MethodPost, "/api/v1/scan/batch", "alice", []byte(`{"emails": `))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleLatestScan(t *testing.T) {
	scanner := &MockScanner{}
	scanner.On("LatestScan", mock.Anything, "alice").
		Return(&core.ScanRecord{ID: "run-1", UserID: "alice", Status: core.ScanStatusCompleted}, nil)
	scanner.On("LatestScan", mock.Anything, "bob").Return(nil, core.ErrNotFound)
	server, _ := setupTestServer(t, scanner)

	rec := do(server, http.MethodGet, "/api/v1/scans/latest", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp LatestScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.Scan.ID)

	rec = do(server, http.MethodGet, "/api/v1/scans/latest", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSubscriptions(t *testing.T) {
	server, subs := setupTestServer(t, &MockScanner{})
	_, err := subs.CreateSubscription(context.Background(), &core.Subscription{
		UserID: "alice", ServiceName: "Netflix", ServiceSlug: "netflix", Amount: 15.99,
	})
	require.NoError(t, err)

	rec := do(server, http.MethodGet, "/api/v1/subscriptions", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp SubscriptionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, "Netflix", resp.Subscriptions[0].ServiceName)

	rec = do(server, http.MethodGet, "/api/v1/subscriptions", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subscriptions": []}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t, &MockScanner{})
	rec := do(server, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
