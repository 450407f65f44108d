package factory

import (
	"fmt"

	"github.com/Threadigit/BillDrop/internal/adapters/mailbox"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// MailboxFactory creates the mailbox provider
type MailboxFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	inbox  *mailbox.Inbox
}

// NewMailboxFactory creates a new mailbox factory. inbox backs the "inbox"
// type and is shared with the SMTP ingest server.
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger, inbox *mailbox.Inbox) *MailboxFactory {
	return &MailboxFactory{
		cfg:    cfg,
		logger: logger,
		inbox:  inbox,
	}
}

// CreateMailbox creates the configured mailbox provider
func (f *MailboxFactory) CreateMailbox() (core.MailboxProvider, error) {
	mbCfg := f.cfg.GetMailbox()

	switch mbCfg.Type {
	case "demo":
		return mailbox.NewDemoMailbox(f.logger)
	case "maildir":
		return mailbox.NewMaildir(mbCfg.MaildirPath, f.logger), nil
	case "inbox":
		if f.inbox == nil {
			return nil, fmt.Errorf("inbox mailbox requires an inbox")
		}
		return f.inbox, nil
	case "gmail":
		oauthCfg, err := mailbox.LoadOAuthConfig(mbCfg.Gmail.CredentialsFile)
		if err != nil {
			// access tokens passed per request still work, they just never refresh
			f.logger.Warn("Gmail OAuth client not configured, tokens will not be refreshed",
				zap.String("credentials_file", mbCfg.Gmail.CredentialsFile),
				zap.Error(err))
			oauthCfg = nil
		}
		return mailbox.NewGmailMailbox(
			oauthCfg,
			mailbox.NewTokenStore(mbCfg.Gmail.TokenDir),
			mbCfg.Gmail.Query,
			mbCfg.Gmail.MaxPages,
			mbCfg.Gmail.Concurrency,
			f.logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox type: %s", mbCfg.Type)
	}
}
