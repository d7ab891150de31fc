package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/docurag/docurag/pkg/config"
)

// New builds the adapter for one named backend using its section of the
// provider map.
func New(ctx context.Context, name string, cfg *config.Config) (Adapter, error) {
	pc := cfg.Provider(name)
	switch name {
	case config.ProviderOpenAI:
		return NewOpenAI(pc)
	case config.ProviderAzureOpenAI:
		return NewAzureOpenAI(pc)
	case config.ProviderAnthropic:
		return NewAnthropic(pc)
	case config.ProviderGemini:
		return NewGemini(ctx, pc)
	case config.ProviderCustom:
		return NewCustom(pc)
	}
	return nil, fmt.Errorf("provider: unknown provider %q", name)
}

// NewCallerFromConfig builds the resilient caller for the configured
// primary provider and, when enabled, its fallback chain. A fallback
// that fails to construct is skipped with a warning rather than
// aborting startup: a missing secondary key should not take down the
// primary path.
func NewCallerFromConfig(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*Caller, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	primary, err := New(ctx, cfg.AIProvider, cfg)
	if err != nil {
		return nil, err
	}

	var fallbacks []Adapter
	if cfg.EnableFallbackProviders {
		for _, name := range cfg.FallbackProviders {
			if name == cfg.AIProvider {
				continue
			}
			fb, err := New(ctx, name, cfg)
			if err != nil {
				logger.Warn("skipping fallback provider", "provider", name, "error", err)
				continue
			}
			fallbacks = append(fallbacks, fb)
		}
	}
	return NewCaller(primary, fallbacks, cfg.Retry, logger), nil
}
