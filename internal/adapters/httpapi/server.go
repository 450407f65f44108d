// Package httpapi exposes the scan pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HeaderUserID carries the id of the mailbox owner. The server does not
// authenticate it: deploy behind a proxy that authenticates the caller and
// sets this header, stripping any value the client sent.
const HeaderUserID = "X-User-ID"

// Scanner is the scan pipeline served by the API
type Scanner interface {
	RunScan(ctx context.Context, req core.ScanRequest, sink core.EventSink) (*core.ScanSummary, error)
	PrepareBatch(ctx context.Context, req core.ScanRequest) (*core.BatchPreparation, error)
	ProcessBatch(ctx context.Context, userID string, emails []core.FilteredEmail, sink core.EventSink) (*core.BatchOutcome, error)
	LatestScan(ctx context.Context, userID string) (*core.ScanRecord, error)
}

// Config holds HTTP server configuration
type Config struct {
	ListenAddress string
	// DefaultUserID serves requests without an X-User-ID header; empty rejects them
	DefaultUserID string
}

// Server provides the HTTP endpoints. It trusts HeaderUserID as given, and
// mailbox adapters resolve stored credentials from that id, so it must only
// be reachable through an authenticating proxy.
type Server struct {
	echo    *echo.Echo
	scanner Scanner
	subs    core.SubscriptionRepository
	logger  *zap.Logger
	config  Config
}

// NewServer creates a new HTTP server
func NewServer(scanner Scanner, subs core.SubscriptionRepository, logger *zap.Logger, cfg Config) (*Server, error) {
	if scanner == nil {
		return nil, fmt.Errorf("scanner cannot be nil")
	}
	if subs == nil {
		return nil, fmt.Errorf("subscription repository cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0:8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		scanner: scanner,
		subs:    subs,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.POST("/scan", s.handleScan)
	v1.GET("/scan/stream", s.handleScanStream)
	v1.GET("/scan/batch", s.handlePrepareBatch)
	v1.POST("/scan/batch", s.handleProcessBatch)
	v1.GET("/scans/latest", s.handleLatestScan)
	v1.GET("/subscriptions", s.handleSubscriptions)
}

// HealthResponse is the response body for GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// BatchRequest is the request body for POST /api/v1/scan/batch
type BatchRequest struct {
	Emails []core.FilteredEmail `json:"emails"`
}

// LatestScanResponse is the response body for GET /api/v1/scans/latest
type LatestScanResponse struct {
	Scan *core.ScanRecord `json:"scan"`
}

// SubscriptionsResponse is the response body for GET /api/v1/subscriptions
type SubscriptionsResponse struct {
	Subscriptions []core.Subscription `json:"subscriptions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleScan(c echo.Context) error {
	req, err := s.scanRequest(c)
	if err != nil {
		return err
	}

	summary, err := s.scanner.RunScan(c.Request().Context(), req, nil)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

// handleScanStream runs a scan and streams its progress as server-sent events
func (s *Server) handleScanStream(c echo.Context) error {
	req, err := s.scanRequest(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	sink := func(ev core.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("Failed to encode event", zap.Error(err))
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			s.logger.Debug("Stream client went away", zap.Error(err))
			return
		}
		w.Flush()
	}

	// failures reach the client as an error event
	if _, err := s.scanner.RunScan(c.Request().Context(), req, sink); err != nil {
		s.logger.Warn("Streamed scan failed", zap.String("user_id", req.UserID), zap.Error(err))
	}
	return nil
}

func (s *Server) handlePrepareBatch(c echo.Context) error {
	req, err := s.scanRequest(c)
	if err != nil {
		return err
	}

	prep, err := s.scanner.PrepareBatch(c.Request().Context(), req)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, prep)
}

func (s *Server) handleProcessBatch(c echo.Context) error {
	userID, err := s.userID(c)
	if err != nil {
		return err
	}

	var body BatchRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn("invalid batch request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(body.Emails) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, core.ErrEmptyBatch.Error())
	}

	outcome, err := s.scanner.ProcessBatch(c.Request().Context(), userID, body.Emails, nil)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleLatestScan(c echo.Context) error {
	userID, err := s.userID(c)
	if err != nil {
		return err
	}

	rec, err := s.scanner.LatestScan(c.Request().Context(), userID)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, LatestScanResponse{Scan: rec})
}

func (s *Server) handleSubscriptions(c echo.Context) error {
	userID, err := s.userID(c)
	if err != nil {
		return err
	}

	subs, err := s.subs.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return s.httpError(err)
	}
	if subs == nil {
		subs = []core.Subscription{}
	}
	return c.JSON(http.StatusOK, SubscriptionsResponse{Subscriptions: subs})
}

// userID returns the caller's id from the trusted proxy header, or the
// configured default
func (s *Server) userID(c echo.Context) (string, error) {
	userID := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if userID == "" {
		userID = s.config.DefaultUserID
	}
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+HeaderUserID+" header")
	}
	return userID, nil
}

// scanRequest reads the user, the optional bearer token and the days, max
// and parse query parameters
func (s *Server) scanRequest(c echo.Context) (core.ScanRequest, error) {
	userID, err := s.userID(c)
	if err != nil {
		return core.ScanRequest{}, err
	}

	req := core.ScanRequest{
		UserID:     userID,
		Credential: core.Credential{UserID: userID},
	}
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		req.Credential.AccessToken = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}

	err = echo.QueryParamsBinder(c).
		Int("days", &req.LookbackDays).
		Int("max", &req.MaxFetch).
		Int("parse", &req.MaxParse).
		BindError()
	if err != nil {
		return core.ScanRequest{}, echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if req.LookbackDays < 0 || req.MaxFetch < 0 || req.MaxParse < 0 {
		return core.ScanRequest{}, echo.NewHTTPError(http.StatusBadRequest, "query parameters must not be negative")
	}
	return req, nil
}

// httpError maps pipeline errors onto status codes
func (s *Server) httpError(err error) error {
	switch {
	case core.IsAuthError(err):
		return echo.NewHTTPError(http.StatusUnauthorized, "reconnect required").SetInternal(err)
	case core.IsFetchError(err):
		return echo.NewHTTPError(http.StatusBadGateway, "mailbox unavailable").SetInternal(err)
	case errors.Is(err, core.ErrEmptyBatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		s.logger.Error("Request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.ListenAddress))
	return s.echo.Start(s.config.ListenAddress)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.echo
}
