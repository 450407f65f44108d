// Package ingest runs an SMTP server accepting receipts forwarded by users.
// A message sent to <user>@<domain> lands in that user's inbox mailbox.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Threadigit/BillDrop/internal/adapters/mailbox"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/metrics"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deliverer stores a parsed message for a user
type Deliverer interface {
	Append(userID string, msg core.RawMessage) bool
}

// Server is the SMTP forwarding inbox
type Server struct {
	inbox           Deliverer
	logger          *zap.Logger
	listenAddr      string
	domain          string
	maxMessageBytes int64
	server          *smtp.Server
	listener        net.Listener
}

// NewServer creates a new SMTP ingest server
func NewServer(
	inbox Deliverer,
	logger *zap.Logger,
	listenAddr string,
	domain string,
	maxMessageBytes int64,
) *Server {
	if maxMessageBytes <= 0 {
		maxMessageBytes = 10 * 1024 * 1024
	}
	return &Server{
		inbox:           inbox,
		logger:          logger,
		listenAddr:      listenAddr,
		domain:          strings.ToLower(strings.TrimSpace(domain)),
		maxMessageBytes: maxMessageBytes,
	}
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	s.server = smtp.NewServer(&smtpBackend{server: s})

	s.server.Addr = s.listenAddr
	s.server.Domain = s.domain
	if s.server.Domain == "" {
		s.server.Domain = "localhost"
	}
	s.server.ReadTimeout = 30 * time.Second
	s.server.WriteTimeout = 30 * time.Second
	s.server.MaxMessageBytes = s.maxMessageBytes
	s.server.MaxRecipients = 50

	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.listener = l

	s.logger.Info("SMTP ingest starting",
		zap.String("address", l.Addr().String()),
		zap.String("domain", s.domain))

	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			s.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.listenAddr
	}
	return s.listener.Addr().String()
}

// Stop stops the SMTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// userFor maps a recipient address onto an inbox user, or "" when the
// address is not ours
func (s *Server) userFor(rcpt string) string {
	rcpt = strings.ToLower(strings.Trim(strings.TrimSpace(rcpt), "<>"))
	at := strings.LastIndex(rcpt, "@")
	if at <= 0 {
		return ""
	}
	local, domain := rcpt[:at], rcpt[at+1:]
	if s.domain != "" && domain != s.domain {
		return ""
	}
	// plus addressing: alice+receipts@ belongs to alice
	if plus := strings.Index(local, "+"); plus > 0 {
		local = local[:plus]
	}
	return local
}

// deliver parses raw message data and appends it to every recipient's inbox
func (s *Server) deliver(sender string, users []string, raw []byte) error {
	msg, err := mailbox.ParseBytes(raw)
	if err != nil {
		metrics.IngestedMessages.WithLabelValues("rejected").Inc()
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.From == "" {
		msg.From = sender
	}

	for _, user := range users {
		added := s.inbox.Append(user, *msg)
		s.logger.Info("Ingested forwarded message",
			zap.String("user_id", user),
			zap.String("message_id", msg.ID),
			zap.String("from", msg.From),
			zap.Bool("duplicate", !added))
	}
	metrics.IngestedMessages.WithLabelValues("accepted").Inc()
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	server *Server
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{server: b.server}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	server *Server
	sender string
	users  []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.users = nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt accepts recipients of the ingest domain only
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	user := s.server.userFor(to)
	if user == "" {
		metrics.IngestedMessages.WithLabelValues("rejected").Inc()
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	for _, u := range s.users {
		if u == user {
			return nil
		}
	}
	s.users = append(s.users, user)
	return nil
}

// Data reads the message and hands it to the inbox
func (s *smtpSession) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.server.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}
	return s.server.deliver(s.sender, s.users, buf.Bytes())
}

// Logout handles SMTP logout
func (s *smtpSession) Logout() error {
	return nil
}
