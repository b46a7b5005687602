package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollRate     = 5
	DefaultPollBurst    = 1
)

// PollFunc polls the proposal with the given ID once and returns its status
// afterwards. The wallet supplies one that holds its lock for the duration.
type PollFunc func(ctx context.Context, id string) (proposal.Status, error)

type PollerConfig struct {
	// Interval between polls of the same proposal
	Interval time.Duration
	// Rate bounds status queries per second across all watchers
	Rate  float64
	Burst int
}

// Poller repeatedly polls submitted proposals. All watchers share one rate
// limiter so a burst of submissions cannot flood the node.
type Poller struct {
	interval time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewPoller(cfg *PollerConfig, logger *zap.Logger) *Poller {
	interval := DefaultPollInterval
	limit := rate.Limit(DefaultPollRate)
	burst := DefaultPollBurst
	if cfg != nil {
		if cfg.Interval > 0 {
			interval = cfg.Interval
		}
		if cfg.Rate > 0 {
			limit = rate.Limit(cfg.Rate)
		}
		if cfg.Burst > 0 {
			burst = cfg.Burst
		}
	}
	return &Poller{
		interval: interval,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// Throttle blocks until the next status query is allowed. The limiter
// refuses early when the wait would outlast the deadline of ctx; that is
// reported as context.DeadlineExceeded.
func (p *Poller) Throttle(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

// Watch polls proposal id until it reaches a terminal status or ctx ends.
// Retryable poll errors are logged and polling continues; any other error
// stops the watch.
func (p *Poller) Watch(ctx context.Context, id string, poll PollFunc) (proposal.Status, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last proposal.Status
	for {
		if err := p.Throttle(ctx); err != nil {
			return last, err
		}
		status, err := poll(ctx, id)
		if status != "" {
			last = status
		}
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return last, err
		case types.IsRetryable(err):
			p.logger.Sugar().Warnw("Poll failed, will retry", "proposal", id, "error", err)
		default:
			return last, err
		}
		if last != "" && last.IsTerminal() {
			p.logger.Sugar().Infow("Proposal reached a terminal status", "proposal", id, "status", string(last))
			return last, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
