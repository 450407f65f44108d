package factory

import (
	"fmt"
	"strings"

	"github.com/Threadigit/BillDrop/internal/adapters/bedrock"
	"github.com/Threadigit/BillDrop/internal/adapters/gemini"
	"github.com/Threadigit/BillDrop/internal/adapters/openai"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// ProviderNone disables the model stages; extraction runs on patterns only
const ProviderNone = "none"

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateLLMClient creates a new LLM client based on the configuration. It
// returns a nil client when no provider is usable, which leaves the regex
// stage as the only extractor.
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(f.cfg.GetLLM().Provider))

	switch provider {
	case "", ProviderNone:
		f.logger.Info("No LLM provider configured, using pattern extraction only")
		return nil, nil
	case "bedrock":
		return bedrock.NewFactory(f.cfg, f.logger).CreateClient()
	case "gemini":
		if f.cfg.GetGemini().APIKey == "" {
			f.logger.Warn("Gemini API key missing, using pattern extraction only")
			return nil, nil
		}
		return gemini.NewFactory(f.cfg, f.logger).CreateClient()
	case "openai":
		if f.cfg.GetOpenAI().APIKey == "" {
			f.logger.Warn("OpenAI API key missing, using pattern extraction only")
			return nil, nil
		}
		return openai.NewFactory(f.cfg, f.logger).CreateClient()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}
