package perception

import (
	"context"
	"sync/atomic"
	"time"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"
)

// slowCallThreshold marks a model call worth a warning.
const slowCallThreshold = 20 * time.Second

// TracingClient wraps an LLMClient with timing, logging and error kinds.
// Every error it returns wraps types.ErrCollaborator.
type TracingClient struct {
	inner    types.LLMClient
	calls    atomic.Int64
	failures atomic.Int64
}

// NewTracingClient wraps inner.
func NewTracingClient(inner types.LLMClient) *TracingClient {
	return &TracingClient{inner: inner}
}

// Name delegates to the wrapped client.
func (c *TracingClient) Name() string {
	return c.inner.Name()
}

// Complete forwards the request and records the outcome.
func (c *TracingClient) Complete(ctx context.Context, req types.CompletionRequest) (string, error) {
	c.calls.Add(1)
	timer := logging.StartTimer(logging.CategoryPerception, "llm "+c.inner.Name())
	defer timer.StopWithThreshold(slowCallThreshold)

	logging.PerceptionDebug("llm request: system=%d chars prompt=%d chars", len(req.System), len(req.Prompt))
	out, err := c.inner.Complete(ctx, req)
	if err != nil {
		c.failures.Add(1)
		logging.PerceptionWarn("llm call failed: %v", err)
		return "", types.CollaboratorFailure(c.inner.Name(), err)
	}
	logging.PerceptionDebug("llm response: %d chars", len(out))
	return out, nil
}

// Stats returns the number of calls and failures seen so far.
func (c *TracingClient) Stats() (calls, failures int64) {
	return c.calls.Load(), c.failures.Load()
}
