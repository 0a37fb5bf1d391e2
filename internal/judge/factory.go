package judge

import (
	"context"
	"fmt"

	"github.com/hakim/readyscan/internal/config"
)

// New builds the configured judge. It returns a nil Judge and no error when
// the judge is disabled, which makes the filter an identity stage.
func New(ctx context.Context, cfg config.JudgeConfig) (*LLMJudge, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "claude":
		provider, err = NewClaudeProvider(ClaudeConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    cfg.CallTimeout(),
			MaxRetries: cfg.MaxRetries,
		})
	case "gemini":
		provider, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLLMJudge(provider), nil
}
