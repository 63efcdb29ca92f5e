package assistant

import (
	"context"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// FallbackClient wraps a primary model backend with a secondary. If the
// primary fails the request is retried against the secondary.
type FallbackClient struct {
	primary   LLMClient
	secondary LLMClient
	logger    *logging.Logger
}

// NewFallbackClient creates a fallback-enabled client. With a nil secondary
// only the primary is used.
func NewFallbackClient(primary, secondary LLMClient, logger *logging.Logger) *FallbackClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, secondary: secondary, logger: logger}
}

// Complete tries the primary backend, then the secondary.
func (c *FallbackClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary model failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.secondary != nil,
	)

	if c.secondary == nil {
		return LLMResponse{}, err
	}

	fallbackResp, fallbackErr := c.secondary.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback model also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback model succeeded after primary failure")
	return fallbackResp, nil
}
