package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/resilience"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// llmClient wraps the two LLM capability slots with their circuit breakers
// and token budget, and carries the stage-building methods that use them
// (extractEntities, extractRelations). Grounded on the teacher's
// resilience.CircuitBreaker.Execute synchronous wrapping style.
type llmClient struct {
	small        llm.Provider
	large        llm.Provider
	smallBreaker *resilience.CircuitBreaker
	largeBreaker *resilience.CircuitBreaker
	smallTimeout time.Duration
	largeTimeout time.Duration
	budget       *budget

	// degrade is non-nil only when cfg.FallbackPolicy is FallbackDegrade and
	// both capabilities are configured. It is a last resort tried once both
	// direct completeSmall attempts in completeSmallWithRetry have failed.
	degrade *resilience.LLMFallback

	cfg Config
}

func newLLMClient(cfg Config) *llmClient {
	smallBreakerCfg := cfg.SmallBreaker.orDefault(defaultSmallBreaker())
	largeBreakerCfg := cfg.LargeBreaker.orDefault(defaultLargeBreaker())

	var degrade *resilience.LLMFallback
	if cfg.FallbackPolicy == FallbackDegrade && cfg.LLMSmall != nil && cfg.LLMLarge != nil {
		degrade = resilience.NewLLMFallback(cfg.LLMSmall, "llm_small", resilience.FallbackConfig{
			CircuitBreaker: smallBreakerCfg.toCircuitBreakerConfig("llm_small_degrade"),
		})
		degrade.AddFallback("llm_large", cfg.LLMLarge)
	}

	return &llmClient{
		small:        cfg.LLMSmall,
		large:        cfg.LLMLarge,
		smallBreaker: resilience.NewCircuitBreaker(smallBreakerCfg.toCircuitBreakerConfig("llm_small")),
		largeBreaker: resilience.NewCircuitBreaker(largeBreakerCfg.toCircuitBreakerConfig("llm_large")),
		smallTimeout: smallBreakerCfg.CallTimeout,
		largeTimeout: largeBreakerCfg.CallTimeout,
		budget:       newBudget(cfg.SmallTokensPerDay, cfg.LargeTokensPerDay),
		degrade:      degrade,
		cfg:          cfg,
	}
}

// completeSmall runs req against the small LLM capability through its
// circuit breaker, call timeout, and token budget gate.
func (c *llmClient) completeSmall(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return c.complete(ctx, "small", c.small, c.smallBreaker, c.smallTimeout, c.budget.waitSmall, req)
}

// completeLarge runs req against the large LLM capability.
func (c *llmClient) completeLarge(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return c.complete(ctx, "large", c.large, c.largeBreaker, c.largeTimeout, c.budget.waitLarge, req)
}

func (c *llmClient) complete(
	ctx context.Context,
	tier string,
	provider llm.Provider,
	breaker *resilience.CircuitBreaker,
	timeout time.Duration,
	wait func(context.Context, int) error,
	req llm.CompletionRequest,
) (*llm.CompletionResponse, error) {
	if provider == nil {
		return nil, fmt.Errorf("extraction: llm capability not configured")
	}
	estimated, err := provider.CountTokens(req.Messages)
	if err != nil {
		estimated = 0 // a token-count failure degrades the budget check, not the request
	}
	if err := wait(ctx, estimated); err != nil {
		return nil, fmt.Errorf("extraction: token budget: %w", err)
	}

	start := time.Now()
	var resp *llm.CompletionResponse
	execErr := breaker.Execute(func() error {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		r, err := provider.Complete(callCtx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	status := "ok"
	if execErr != nil {
		status = "error"
	}
	c.cfg.metrics().RecordLLMCall(ctx, tier, status, time.Since(start).Seconds())

	if execErr != nil {
		return nil, execErr
	}
	return resp, nil
}

// completeSmallWithRetry is Stage 2/3's "retry once with a shorter context"
// rule, applied after any failed first attempt (not only a timeout):
// reduceContext halves req.Messages before the retry. Stage 2/3 requests
// carry a single message, which reduceContext leaves unchanged.
func (c *llmClient) completeSmallWithRetry(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := c.completeSmall(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err // the caller's context is already done, a retry cannot help
	}
	resp, err = c.completeSmall(ctx, reduceContext(req))
	if err == nil {
		return resp, nil
	}
	if c.degrade == nil || ctx.Err() != nil {
		return nil, err
	}
	degraded, degradeErr := c.degrade.Complete(ctx, req)
	if degradeErr != nil {
		return nil, err // report the original small-capability error, not the fallback's
	}
	c.cfg.metrics().RecordLLMCall(ctx, "degrade", "ok", 0)
	return degraded, nil
}

// reduceContext keeps only the system prompt and the most recent half of
// the message history, the pipeline's "shorter context" retry fallback. A
// request with at most one message is returned unchanged.
func reduceContext(req llm.CompletionRequest) llm.CompletionRequest {
	if len(req.Messages) <= 1 {
		return req
	}
	keep := (len(req.Messages) + 1) / 2
	reduced := req
	reduced.Messages = req.Messages[len(req.Messages)-keep:]
	return reduced
}
