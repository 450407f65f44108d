package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/Threadigit/BillDrop/internal/adapters/httpapi"
	"github.com/Threadigit/BillDrop/internal/adapters/ingest"
	"github.com/Threadigit/BillDrop/internal/adapters/mailbox"
	"github.com/Threadigit/BillDrop/internal/candidate"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/extraction"
	"github.com/Threadigit/BillDrop/internal/factory"
	"github.com/Threadigit/BillDrop/internal/logging"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/Threadigit/BillDrop/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
// for the server
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := providePipeline(container); err != nil {
		return nil, err
	}

	// Register HTTP API
	if err := container.Provide(func(
		svc *core.ScanService,
		st factory.Store,
		logger *zap.Logger,
		cfg *config.Config,
	) (*httpapi.Server, error) {
		serverCfg, err := cfg.GetServer()
		if err != nil {
			return nil, err
		}
		return httpapi.NewServer(svc, st, logger, httpapi.Config{
			ListenAddress: serverCfg.ListenAddress,
			DefaultUserID: serverCfg.DefaultUserID,
		})
	}); err != nil {
		return nil, err
	}

	// Register SMTP ingest server
	if err := container.Provide(func(inbox *mailbox.Inbox, logger *zap.Logger, cfg *config.Config) *ingest.Server {
		ingestCfg := cfg.GetIngest()
		return ingest.NewServer(
			inbox,
			logger,
			ingestCfg.ListenAddress,
			ingestCfg.Domain,
			ingestCfg.MaxMessageBytes,
		)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// providePipeline registers everything between the mailbox and the store.
// It expects *config.Config and *zap.Logger to be provided already.
func providePipeline(container *dig.Container) error {
	// Register factories
	for _, ctor := range []interface{}{
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewStoreFactory,
		factory.NewMailboxFactory,
		factory.NewFilterFactory,
		factory.NewEngineFactory,
	} {
		if err := container.Provide(ctor); err != nil {
			return err
		}
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return err
	}

	// Register LLM client, nil when extraction runs on patterns only
	if err := container.Provide(func(f *factory.LLMFactory) (core.LLMClient, error) {
		return f.CreateLLMClient()
	}); err != nil {
		return err
	}

	// Register cache repository, nil when disabled
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return err
	}

	// Register store
	if err := container.Provide(func(f *factory.StoreFactory) (factory.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return err
	}

	// Register the forwarding inbox shared by the mailbox and the ingest server
	if err := container.Provide(func(logger *zap.Logger) *mailbox.Inbox {
		return mailbox.NewInbox(mailbox.DefaultInboxCapacity, logger)
	}); err != nil {
		return err
	}

	// Register mailbox provider
	if err := container.Provide(func(f *factory.MailboxFactory) (core.MailboxProvider, error) {
		return f.CreateMailbox()
	}); err != nil {
		return err
	}

	// Register pattern tables
	if err := container.Provide(func(f *factory.FilterFactory) (*patterns.Tables, error) {
		return f.LoadTables()
	}); err != nil {
		return err
	}

	// Register candidate filter
	if err := container.Provide(func(f *factory.FilterFactory, tables *patterns.Tables) *candidate.Filter {
		return f.CreateCandidateFilter(tables)
	}); err != nil {
		return err
	}

	// Register extraction engine
	if err := container.Provide(func(
		f *factory.EngineFactory,
		client core.LLMClient,
		cache core.CacheRepository,
		tables *patterns.Tables,
	) (*extraction.Engine, error) {
		return f.CreateEngine(client, cache, tables)
	}); err != nil {
		return err
	}

	// Register scan service
	if err := container.Provide(func(
		mb core.MailboxProvider,
		filter *candidate.Filter,
		engine *extraction.Engine,
		st factory.Store,
		logger *zap.Logger,
		cfg *config.Config,
	) (*core.ScanService, error) {
		opts, err := factory.ScanOptions(cfg)
		if err != nil {
			return nil, err
		}
		return core.NewScanService(mb, filter, engine, st, st, logger, opts), nil
	}); err != nil {
		return err
	}

	return nil
}
