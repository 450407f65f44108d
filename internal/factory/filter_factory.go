package factory

import (
	"context"
	"fmt"

	"github.com/Threadigit/BillDrop/internal/candidate"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/Threadigit/BillDrop/internal/senderlist"
	"go.uber.org/zap"
)

// FilterFactory loads the pattern tables and builds the candidate filter
type FilterFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger) *FilterFactory {
	return &FilterFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// LoadTables reads the configured pattern file, or the embedded defaults
func (f *FilterFactory) LoadTables() (*patterns.Tables, error) {
	path := f.cfg.GetFilter().PatternsFile
	tables, err := patterns.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern tables: %w", err)
	}
	if path != "" {
		f.logger.Info("Loaded pattern file",
			zap.String("path", path),
			zap.Int("services", len(tables.Services)))
	}
	return tables, nil
}

// CreateCandidateFilter creates the candidate filter over tables
func (f *FilterFactory) CreateCandidateFilter(tables *patterns.Tables) *candidate.Filter {
	filter := candidate.NewFilter(tables, f.logger)
	if domains := f.cfg.GetFilter().IgnoredDomains; len(domains) > 0 {
		filter.WithIgnoredSenders(senderlist.NewChecker(domains, f.logger))
	}
	return filter
}

// TableConsumer accepts reloaded pattern tables
type TableConsumer interface {
	SetTables(*patterns.Tables)
}

// WatchPatterns reloads the pattern file into every consumer until ctx is
// done. It does nothing unless filter.watch is set and a file is configured.
func (f *FilterFactory) WatchPatterns(ctx context.Context, consumers ...TableConsumer) {
	filterCfg := f.cfg.GetFilter()
	if !filterCfg.Watch || filterCfg.PatternsFile == "" {
		return
	}

	w := patterns.NewWatcher(filterCfg.PatternsFile, func(t *patterns.Tables) {
		for _, c := range consumers {
			c.SetTables(t)
		}
	}, f.logger)

	go func() {
		if err := w.Run(ctx); err != nil {
			f.logger.Error("Pattern watcher stopped", zap.Error(err))
		}
	}()
}
