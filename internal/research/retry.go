package research

import (
	"context"
	"time"

	"aletheia/internal"
	"aletheia/ports"
)

// DefaultRetryBackoff is the pause before the single retry of a model call
const DefaultRetryBackoff = 500 * time.Millisecond

// completeWithRetry calls the model and, on any error, retries exactly once after backoff
func completeWithRetry(ctx context.Context, client ports.ModelClientPort, logger *internal.Logger, backoff time.Duration, messages []ports.Message, maxTokens int, temperature float64) (*ports.Completion, error) {
	out, err := client.Complete(ctx, messages, maxTokens, temperature)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	logger.Warn("model call failed, retrying once in %s: %v", backoff, err)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return client.Complete(ctx, messages, maxTokens, temperature)
}
