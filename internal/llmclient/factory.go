package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

// NewClient builds the tiered router from configuration. Each tier picks its
// backend independently so the fast tier can stay on the cheap HTTP path
// while the powerful tier uses the SDK.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fast, err := newTierClient(ctx, cfg.Fast, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	powerful, err := newTierClient(ctx, cfg.Powerful, logger)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}

	return NewRouter(logger, fast, powerful, cfg.RequestsPerMinute)
}

func newTierClient(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(cfg, logger)
	case config.ProviderGeminiSDK:
		return NewSDKClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGeminiSDK)
	}
}
