package submission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultReconcileSchedule = "@every 30s"

type ReconcilerConfig struct {
	// Schedule is a cron spec, e.g. "@every 30s"
	Schedule string
	// Network is recorded in the wallet state on first run
	Network string
	Clock   func() time.Time
}

// Reconciler periodically polls every stored Submitted proposal so that
// outcomes are picked up even when nobody is watching a particular
// proposal, for example after a restart.
type Reconciler struct {
	store    persistence.IProposalPersistence
	poll     PollFunc
	poller   *Poller
	schedule string
	network  string
	clock    func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
}

// NewReconciler creates a reconciler. poller may be nil, in which case
// status queries are not throttled.
func NewReconciler(store persistence.IProposalPersistence, poll PollFunc, poller *Poller, cfg *ReconcilerConfig, logger *zap.Logger) *Reconciler {
	r := &Reconciler{
		store:    store,
		poll:     poll,
		poller:   poller,
		schedule: DefaultReconcileSchedule,
		clock:    time.Now,
		logger:   logger,
	}
	if cfg != nil {
		if cfg.Schedule != "" {
			r.schedule = cfg.Schedule
		}
		if cfg.Clock != nil {
			r.clock = cfg.Clock
		}
		r.network = cfg.Network
	}
	return r
}

// RunOnce polls each Submitted proposal once and returns how many reached
// a terminal status. A failing proposal is logged and does not stop the
// pass. Passes never overlap.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	r.running.Lock()
	defer r.running.Unlock()

	pending, err := r.store.ListProposals(proposal.StatusSubmitted)
	if err != nil {
		return 0, fmt.Errorf("failed to list submitted proposals: %w", err)
	}

	resolved := 0
	for _, p := range pending {
		if r.poller != nil {
			if err := r.poller.Throttle(ctx); err != nil {
				return resolved, err
			}
		} else if err := ctx.Err(); err != nil {
			return resolved, err
		}
		status, err := r.poll(ctx, p.ID)
		if err != nil {
			r.logger.Sugar().Warnw("Failed to reconcile proposal", "proposal", p.ID, "error", err)
			continue
		}
		if status.IsTerminal() {
			resolved++
		}
	}

	if err := r.recordPass(); err != nil {
		return resolved, err
	}
	r.logger.Sugar().Debugw("Reconciliation pass complete", "submitted", len(pending), "resolved", resolved)
	return resolved, nil
}

func (r *Reconciler) recordPass() error {
	state, err := r.store.LoadWalletState()
	if err != nil {
		return fmt.Errorf("failed to load wallet state: %w", err)
	}
	if state == nil {
		state = &persistence.WalletState{Network: r.network, StartTime: r.clock().Unix()}
	}
	state.LastReconciledAt = r.clock().Unix()
	if err := r.store.SaveWalletState(state); err != nil {
		return fmt.Errorf("failed to save wallet state: %w", err)
	}
	return nil
}

// Start schedules reconciliation passes until Stop is called or ctx ends
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Sugar().Errorw("Reconciliation pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Sugar().Infow("Reconciler started", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Sugar().Infow("Reconciler stopped")
}
