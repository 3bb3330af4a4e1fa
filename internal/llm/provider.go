// Package llm provides answer generation with ordered provider fallback.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wfan24990-glitch/rag-fastapi/internal/metrics"
)

// Provider generates text from a system instruction and a user turn.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
}

// Chain tries providers in order, returning the first success. Fallback
// on any provider error is unconditional; only when every provider fails
// does the combined error propagate.
type Chain struct {
	providers []Provider
	logger    *zap.Logger
}

// NewChain builds a Chain over providers in priority order.
func NewChain(logger *zap.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{providers: providers, logger: logger}
}

// Generate runs the fallback sequence with the same prompt content for
// every provider.
func (c *Chain) Generate(ctx context.Context, system, user string) (string, error) {
	if len(c.providers) == 0 {
		return "", errors.New("no generation providers configured")
	}
	var errs []error
	for i, p := range c.providers {
		answer, err := p.Generate(ctx, system, user)
		if err == nil {
			return answer, nil
		}
		c.logger.Warn("generation provider failed", zap.String("provider", p.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if i < len(c.providers)-1 {
			metrics.RecordFallback()
		}
	}
	return "", fmt.Errorf("all generation providers failed: %w", errors.Join(errs...))
}
