package llmgateway

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls the wait between retried Chat/Embed attempts: an
// exponential delay (InitialMs * Factor^(attempt-1)), clamped to MaxMs,
// with up to Jitter*base of randomized slack added on top so concurrent
// callers hitting the same rate limit don't retry in lockstep.
type RetryPolicy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// gatewayRateLimitPolicy is the default policy applied to rate-limit and
// transient-server responses: a 3s floor keeps the first retry outside
// most providers' per-second rate-limit windows, a 20s ceiling keeps
// pipeline stages from stalling for minutes on a flaky backend, and the
// x3 factor clears the window fast given only 3 attempts total.
func gatewayRateLimitPolicy() RetryPolicy {
	return RetryPolicy{InitialMs: 3000, MaxMs: 20000, Factor: 3, Jitter: 0.1}
}

func computeDelay(policy RetryPolicy, attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryChat and retryEmbed apply the gateway's retry policy: retryable
// classes (rate_limit, server, timeout) are retried up to maxAttempts
// with backoff; everything else (auth, bad_request) fails fast. A
// Gemini-reported retry_delay is honoured as a hard lower bound on the
// next wait, per spec §4.1.
func retryChat(ctx context.Context, log *slog.Logger, policy RetryPolicy, maxAttempts int, fn func() (ChatResponse, error)) (ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == maxAttempts {
			return ChatResponse{}, err
		}
		log.Warn("llmgateway: retrying chat call", "attempt", attempt, "error", err)
		if waitErr := waitBeforeRetry(ctx, policy, attempt, err); waitErr != nil {
			return ChatResponse{}, waitErr
		}
	}
	return ChatResponse{}, lastErr
}

func retryEmbed(ctx context.Context, log *slog.Logger, policy RetryPolicy, maxAttempts int, fn func() (EmbedResponse, error)) (EmbedResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == maxAttempts {
			return EmbedResponse{}, err
		}
		log.Warn("llmgateway: retrying embed call", "attempt", attempt, "error", err)
		if waitErr := waitBeforeRetry(ctx, policy, attempt, err); waitErr != nil {
			return EmbedResponse{}, waitErr
		}
	}
	return EmbedResponse{}, lastErr
}

func shouldRetry(err error) bool {
	pe, ok := GetProviderError(err)
	if !ok {
		// Unclassified errors (e.g. raw network failures) are retried
		// under the same attempt budget as a server error; once that
		// budget is spent the last error is returned to the caller.
		return true
	}
	return pe.Class.IsRetryable()
}

func waitBeforeRetry(ctx context.Context, policy RetryPolicy, attempt int, err error) error {
	wait := computeDelay(policy, attempt)
	if pe, ok := GetProviderError(err); ok && pe.RetryDelay > 0 {
		hint := time.Duration(pe.RetryDelay * float64(time.Second))
		if hint > wait {
			wait = hint
		}
	}
	return sleepWithContext(ctx, wait)
}
