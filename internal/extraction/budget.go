package extraction

import (
	"context"

	"golang.org/x/time/rate"
)

// budget gates LLM token spend against the per-day small/large budgets from
// spec §5, smoothing a daily allowance into a per-second token rate so a
// single burst of turns cannot exhaust a whole day's budget at once. New
// dependency grounded on the pack's use of golang.org/x/time/rate for
// request-rate limiting (r3e-network-service_layer).
type budget struct {
	small *rate.Limiter
	large *rate.Limiter
}

const secondsPerDay = 24 * 60 * 60

func newBudget(smallTokensPerDay, largeTokensPerDay int) *budget {
	return &budget{
		small: tokenLimiter(smallTokensPerDay),
		large: tokenLimiter(largeTokensPerDay),
	}
}

// tokenLimiter returns a limiter allowing perDay tokens per day, with burst
// equal to one tenth of the daily allowance (minimum 64) so a single large
// request is not rejected outright. perDay <= 0 disables the gate.
func tokenLimiter(perDay int) *rate.Limiter {
	if perDay <= 0 {
		return nil
	}
	burst := perDay / 10
	if burst < 64 {
		burst = 64
	}
	return rate.NewLimiter(rate.Limit(float64(perDay)/secondsPerDay), burst)
}

// waitSmall blocks until n tokens of small-capability budget are available,
// or ctx is done. A nil limiter (budget disabled) never blocks.
func (b *budget) waitSmall(ctx context.Context, n int) error {
	return waitTokens(ctx, b.small, n)
}

func (b *budget) waitLarge(ctx context.Context, n int) error {
	return waitTokens(ctx, b.large, n)
}

func waitTokens(ctx context.Context, l *rate.Limiter, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	if n > l.Burst() {
		n = l.Burst() // never reject a single request outright; clamp to the burst ceiling
	}
	return l.WaitN(ctx, n)
}
