package factory

import (
	"fmt"

	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/extraction"
	"github.com/Threadigit/BillDrop/internal/patterns"
	"github.com/Threadigit/BillDrop/internal/utils"
	"go.uber.org/zap"
)

// EngineFactory assembles the extraction cascade
type EngineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
	text   *utils.TextProcessor
}

// NewEngineFactory creates a new engine factory
func NewEngineFactory(cfg *config.Config, logger *zap.Logger, text *utils.TextProcessor) *EngineFactory {
	return &EngineFactory{
		cfg:    cfg,
		logger: logger,
		text:   text,
	}
}

// CreateEngine wires the stages. client and cache may be nil: without a
// client only the regex stage runs, without a cache nothing is remembered.
func (f *EngineFactory) CreateEngine(client core.LLMClient, cache core.CacheRepository, tables *patterns.Tables) (*extraction.Engine, error) {
	extCfg, err := f.cfg.GetExtraction()
	if err != nil {
		return nil, fmt.Errorf("invalid extraction configuration: %w", err)
	}

	var ai *extraction.AIExtractor
	var strategies []extraction.Strategy
	if client != nil {
		var validator *extraction.ResponseValidator
		if extCfg.ValidateSchema {
			validator, err = extraction.NewResponseValidator()
			if err != nil {
				return nil, fmt.Errorf("failed to compile response schemas: %w", err)
			}
		}

		ai = extraction.NewAIExtractor(
			client,
			extraction.NewRateLimiter(extCfg.MinInterval),
			extraction.NewRetrier(extCfg.RetryDelays, f.logger),
			validator,
			f.text,
			f.cfg.MaxBodySize(),
			f.logger,
		)
		if extCfg.SingleFallback {
			strategies = append(strategies, extraction.NewSingleStrategy(ai))
		}
	}
	strategies = append(strategies, extraction.NewRegexStrategy(
		extraction.NewRegexExtractor(tables),
		extCfg.RegexRequiresHint,
	))

	engine := extraction.NewEngine(ai, strategies, f.logger).
		WithConcurrency(extCfg.Concurrency)

	if cache != nil {
		cacheCfg, err := f.cfg.GetCache()
		if err != nil {
			return nil, fmt.Errorf("invalid cache configuration: %w", err)
		}
		engine.WithCache(cache, cacheCfg.TTL)
	}

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	f.logger.Info("Extraction engine ready",
		zap.Bool("batch_stage", ai != nil),
		zap.Strings("fallbacks", names),
		zap.Bool("cache", cache != nil))

	return engine, nil
}

// ScanOptions maps the scan configuration onto orchestrator budgets
func ScanOptions(cfg *config.Config) (core.ScanOptions, error) {
	extCfg, err := cfg.GetExtraction()
	if err != nil {
		return core.ScanOptions{}, err
	}
	scanCfg, err := cfg.GetScan()
	if err != nil {
		return core.ScanOptions{}, err
	}
	return core.ScanOptions{
		LookbackDays:    scanCfg.LookbackDays,
		MaxFetch:        scanCfg.MaxFetch,
		MaxParse:        scanCfg.MaxParse,
		BatchSize:       extCfg.BatchSize,
		BatchMaxFetch:   scanCfg.BatchMaxFetch,
		BatchBodyLimit:  scanCfg.BatchBodyLimit,
		MaxPerRequest:   scanCfg.MaxPerRequest,
		FetchRetries:    scanCfg.FetchRetries,
		FetchRetryDelay: scanCfg.FetchRetryDelay,
	}, nil
}
