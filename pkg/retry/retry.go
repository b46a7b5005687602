package retry

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff  time.Duration `json:"initialBackoff" yaml:"initialBackoff"`
	MaxBackoff      time.Duration `json:"maxBackoff" yaml:"maxBackoff"`
	BackoffMultiple float64       `json:"backoffMultiple" yaml:"backoffMultiple"`
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// Do calls fn until it succeeds, returns an error shouldRetry rejects, or
// MaxAttempts is reached. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, shouldRetry func(error) bool, fn func(attempt int) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.InitialBackoff

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiple)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
