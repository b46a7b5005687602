package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/metrics"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/retry"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

// ErrKeyMismatch is returned when a signer's public key is not the key of
// the slot it was asked to sign for
var ErrKeyMismatch = errors.New("signer public key does not match the slot")

type CoordinatorConfig struct {
	Retry   retry.RetryConfig
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Coordinator requests signatures for proposal slots and attaches them
// only after verification. Callers serialize access to a proposal.
type Coordinator struct {
	logger  *zap.Logger
	retry   retry.RetryConfig
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewCoordinator(cfg *CoordinatorConfig, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		logger: logger,
		retry:  retry.DefaultRetryConfig,
		clock:  time.Now,
	}
	if cfg != nil {
		if cfg.Retry.MaxAttempts > 0 {
			c.retry = cfg.Retry
		}
		if cfg.Clock != nil {
			c.clock = cfg.Clock
		}
		c.metrics = cfg.Metrics
	}
	return c
}

// RequestSignature obtains the signature for slot from s and adds it to p.
// A slot that already holds a signature is left alone and s is not asked.
// Busy devices, timeouts and transport failures are retried; a decline is
// returned at once as types.ErrUserDeclined and leaves p unchanged.
func (c *Coordinator) RequestSignature(ctx context.Context, p *proposal.Proposal, slot types.SignatureIndex, s ISigner) error {
	if p.Status != proposal.StatusOpen {
		return fmt.Errorf("proposal %s is %s, signatures can only be added while open", p.ID, p.Status)
	}
	expected, ok := p.Slot(slot)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownSlot, slot)
	}
	if _, signed := p.Signatures[slot]; signed {
		c.logger.Sugar().Debugw("Slot already signed", "proposal", p.ID, "slot", slot.String())
		return nil
	}
	if p.ExpiresAt().HasPassed(c.clock()) {
		return types.ErrProposalExpired
	}

	family := p.Family()
	unsigned := p.Unsigned
	digest := p.Digest

	var sig []byte
	err := retry.Do(ctx, c.retry, c.shouldRetry, func(attempt int) error {
		if attempt > 0 {
			c.logger.Sugar().Infow("Retrying signature request",
				"proposal", p.ID,
				"slot", slot.String(),
				"attempt", attempt+1,
			)
		}
		pub, err := s.PublicKey(ctx)
		if err != nil {
			return err
		}
		if !bytes.Equal(pub, expected.PublicKey) {
			return fmt.Errorf("%w %s", ErrKeyMismatch, slot)
		}
		sig, err = s.Sign(ctx, family, unsigned, digest)
		return err
	})
	if err != nil {
		c.recordFailure(err)
		if types.IsCancellation(err) {
			c.logger.Sugar().Infow("Signature declined", "proposal", p.ID, "slot", slot.String())
			return types.ErrUserDeclined
		}
		c.logger.Sugar().Warnw("Signature request failed", "proposal", p.ID, "slot", slot.String(), "error", err)
		return err
	}

	if err := p.AddSignature(types.Signature{Index: slot, Bytes: sig}, c.clock()); err != nil {
		c.metrics.SignatureRejected("invalid")
		c.logger.Sugar().Warnw("Rejected signature", "proposal", p.ID, "slot", slot.String(), "error", err)
		return err
	}
	c.metrics.SignatureAccepted(family.String())
	c.logger.Sugar().Infow("Signature accepted",
		"proposal", p.ID,
		"slot", slot.String(),
		"obtained", p.SignatureCount(),
		"threshold", p.Threshold,
	)
	return nil
}

// CollectAll walks the unsigned slots in order, asking the signer mapped to
// each, until the threshold is met. It stops at the first error that
// retrying did not resolve and returns the number of signatures added.
func (c *Coordinator) CollectAll(ctx context.Context, p *proposal.Proposal, signers map[types.SignatureIndex]ISigner) (int, error) {
	added := 0
	for _, slot := range p.MissingSlots() {
		if p.ThresholdMet() {
			break
		}
		s, ok := signers[slot.Index]
		if !ok {
			continue
		}
		if err := c.RequestSignature(ctx, p, slot.Index, s); err != nil {
			return added, err
		}
		added++
	}
	if !p.ThresholdMet() {
		return added, fmt.Errorf("%w: have %d of %d", types.ErrThresholdNotMet, p.SignatureCount(), p.Threshold)
	}
	return added, nil
}

func (c *Coordinator) shouldRetry(err error) bool {
	if types.IsCancellation(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return types.IsRetryable(err)
}

func (c *Coordinator) recordFailure(err error) {
	var devErr *ledger.DeviceError
	if errors.As(err, &devErr) {
		c.metrics.DeviceError(devErr.Category.String())
	}
	switch {
	case types.IsCancellation(err):
		c.metrics.SignatureRejected("declined")
	case errors.Is(err, ErrKeyMismatch):
		c.metrics.SignatureRejected("key_mismatch")
	default:
		c.metrics.SignatureRejected("error")
	}
}
