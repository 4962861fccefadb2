package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/tracing"
	"github.com/rs/zerolog/log"
)

// RetryingEngine wraps an Engine with exponential backoff on transient
// failures. Retry policy lives here, at the engine client, so callers
// see a single Invoke.
type RetryingEngine struct {
	inner      Engine
	maxRetries int
}

// NewRetryingEngine wraps an engine with retry behavior
func NewRetryingEngine(inner Engine, maxRetries int) *RetryingEngine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryingEngine{
		inner:      inner,
		maxRetries: maxRetries,
	}
}

// Provider returns the wrapped engine's provider name
func (e *RetryingEngine) Provider() string {
	return e.inner.Provider()
}

// Invoke calls the wrapped engine, retrying transient failures with
// exponential backoff (1s, 2s, 4s, ...)
func (e *RetryingEngine) Invoke(ctx context.Context, req Request) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		start := time.Now()
		response, err := e.inner.Invoke(ctx, req)
		observability.RecordEngineCall(e.inner.Provider(), time.Since(start), err == nil)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}

		if attempt == e.maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying engine call after transient error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", e.maxRetries, lastErr)
}
