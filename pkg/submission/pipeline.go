package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/metrics"
	"github.com/ccdwallet/multisig-go/pkg/node"
	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

type PipelineConfig struct {
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Pipeline turns signed proposals into chain transactions and folds node
// reports back into the proposal status. Callers serialize access to a
// proposal; the pipeline persists every status change it applies.
type Pipeline struct {
	node    node.INodeClient
	store   persistence.IProposalPersistence
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewPipeline(nodeClient node.INodeClient, store persistence.IProposalPersistence, cfg *PipelineConfig, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		node:   nodeClient,
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
	if cfg != nil {
		p.metrics = cfg.Metrics
		if cfg.Clock != nil {
			p.clock = cfg.Clock
		}
	}
	return p
}

// Assemble produces the signed wire bytes of p: the canonical unsigned
// bytes with the collected signatures in index order.
func Assemble(p *proposal.Proposal) ([]byte, error) {
	if !p.ThresholdMet() {
		return nil, fmt.Errorf("%w: have %d of %d", types.ErrThresholdNotMet, p.SignatureCount(), p.Threshold)
	}
	return codec.Assemble(p.Family(), p.Unsigned, p.OrderedSignatures())
}

// Submit hands the signed transaction to the node and moves p to
// Submitted. A failed send leaves p untouched and can simply be repeated.
// Submitting an already submitted proposal sends the same bytes again and
// returns the recorded hash.
func (pl *Pipeline) Submit(ctx context.Context, p *proposal.Proposal) (types.Hash, error) {
	switch p.Status {
	case proposal.StatusOpen:
	case proposal.StatusSubmitted:
		return pl.resubmit(ctx, p)
	default:
		return types.Hash{}, &types.TransitionError{From: string(p.Status), To: string(proposal.StatusSubmitted)}
	}

	if p.ExpiresAt().HasPassed(pl.clock()) {
		return types.Hash{}, types.ErrProposalExpired
	}
	signed, err := Assemble(p)
	if err != nil {
		return types.Hash{}, err
	}

	hash, err := pl.node.SubmitTransaction(ctx, p.Family(), signed)
	if err != nil {
		pl.metrics.Submission("failed")
		pl.logger.Sugar().Warnw("Submission failed, proposal stays open",
			"proposal", p.ID,
			"retryable", types.IsRetryable(err),
			"error", err,
		)
		return types.Hash{}, err
	}
	if err := p.MarkSubmitted(hash, pl.clock()); err != nil {
		return types.Hash{}, err
	}
	pl.metrics.Submission("accepted")
	pl.logger.Sugar().Infow("Proposal submitted",
		"proposal", p.ID,
		"hash", hash.String(),
		"signatures", p.SignatureCount(),
	)
	if err := pl.save(p); err != nil {
		return hash, err
	}
	return hash, nil
}

func (pl *Pipeline) resubmit(ctx context.Context, p *proposal.Proposal) (types.Hash, error) {
	signed, err := Assemble(p)
	if err != nil {
		return types.Hash{}, err
	}
	hash, err := pl.node.SubmitTransaction(ctx, p.Family(), signed)
	if err != nil {
		return p.TransactionHash, err
	}
	if hash != p.TransactionHash {
		pl.logger.Sugar().Warnw("Node reported a different hash for a resubmitted transaction",
			"proposal", p.ID,
			"recorded", p.TransactionHash.String(),
			"reported", hash.String(),
		)
	}
	pl.metrics.Submission("resubmitted")
	return p.TransactionHash, nil
}

// Poll asks the node about a submitted proposal and applies the outcome.
// Once the transaction expiry has passed and the node has not included it
// in a block, the proposal is forced to Expired. Polling a proposal that
// is not Submitted does nothing. The resulting status is returned.
func (pl *Pipeline) Poll(ctx context.Context, p *proposal.Proposal) (proposal.Status, error) {
	if p.Status != proposal.StatusSubmitted {
		return p.Status, nil
	}

	start := time.Now()
	status, err := pl.node.GetTransactionStatus(ctx, p.TransactionHash)
	pl.metrics.ObservePoll(time.Since(start).Seconds())
	now := pl.clock()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return p.Status, err
		}
		expired, expErr := pl.expire(p, now)
		if expErr != nil {
			return p.Status, expErr
		}
		if expired {
			return p.Status, nil
		}
		return p.Status, err
	}

	outcome, reason := outcomeOf(status)
	if outcome == proposal.OutcomePending {
		if status.State == node.StateCommitted {
			return p.Status, nil
		}
		if _, err := pl.expire(p, now); err != nil {
			return p.Status, err
		}
		return p.Status, nil
	}

	if err := p.Resolve(outcome, reason, now); err != nil {
		return p.Status, err
	}
	pl.metrics.Outcome(string(p.Status))
	pl.logger.Sugar().Infow("Proposal resolved",
		"proposal", p.ID,
		"status", string(p.Status),
		"reason", reason,
	)
	return p.Status, pl.save(p)
}

func (pl *Pipeline) expire(p *proposal.Proposal, now time.Time) (bool, error) {
	expired, err := p.Expire(now)
	if err != nil || !expired {
		return false, err
	}
	pl.metrics.Outcome(string(proposal.StatusExpired))
	pl.logger.Sugar().Infow("Proposal expired before finalization",
		"proposal", p.ID,
		"expiry", p.ExpiresAt().Time(),
	)
	return true, pl.save(p)
}

// outcomeOf maps a node report to a proposal outcome. A finalized
// transaction whose execution was rejected is a failure; a transaction the
// node dropped without executing is a rejection.
func outcomeOf(status *node.TransactionStatus) (proposal.Outcome, string) {
	switch status.State {
	case node.StateFinalized:
		if status.Outcome == node.OutcomeReject {
			return proposal.OutcomeFailed, status.RejectReason
		}
		return proposal.OutcomeFinalized, "finalized"
	case node.StateRejected:
		reason := status.RejectReason
		if reason == "" {
			reason = "rejected by node"
		}
		return proposal.OutcomeRejected, reason
	default:
		return proposal.OutcomePending, ""
	}
}

func (pl *Pipeline) save(p *proposal.Proposal) error {
	if pl.store == nil {
		return nil
	}
	if err := pl.store.SaveProposal(p); err != nil {
		pl.logger.Sugar().Errorw("Failed to persist proposal", "proposal", p.ID, "status", string(p.Status), "error", err)
		return fmt.Errorf("proposal %s is %s but could not be saved: %w", p.ID, p.Status, err)
	}
	return nil
}
