package wallet

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/persistence"
	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/signer"
	"github.com/ccdwallet/multisig-go/pkg/submission"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

// Config wires the wallet to its collaborators. Session may be nil for a
// wallet without a hardware device.
type Config struct {
	Store       persistence.IProposalPersistence
	Coordinator *signer.Coordinator
	Pipeline    *submission.Pipeline
	Poller      *submission.Poller
	Session     *ledger.Session
	Clock       func() time.Time
}

// Wallet is the command surface over stored proposals. Every command loads
// the proposal, applies one event and stores the result while holding the
// proposal's lock, so there is a single writer per proposal.
type Wallet struct {
	store       persistence.IProposalPersistence
	coordinator *signer.Coordinator
	pipeline    *submission.Pipeline
	poller      *submission.Poller
	session     *ledger.Session
	clock       func() time.Time
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[string]*proposalLock
}

// proposalLock is dropped from the map once nobody holds or waits for it
type proposalLock struct {
	sync.Mutex
	refs int
}

func NewWallet(cfg *Config, logger *zap.Logger) (*Wallet, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("wallet requires a proposal store")
	}
	if cfg.Coordinator == nil || cfg.Pipeline == nil {
		return nil, fmt.Errorf("wallet requires a coordinator and a submission pipeline")
	}
	w := &Wallet{
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		pipeline:    cfg.Pipeline,
		poller:      cfg.Poller,
		session:     cfg.Session,
		clock:       cfg.Clock,
		logger:      logger,
		locks:       make(map[string]*proposalLock),
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.poller == nil {
		w.poller = submission.NewPoller(nil, logger)
	}
	return w, nil
}

func (w *Wallet) lock(id string) func() {
	w.mu.Lock()
	l, ok := w.locks[id]
	if !ok {
		l = &proposalLock{}
		w.locks[id] = l
	}
	l.refs++
	w.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, id)
		}
		w.mu.Unlock()
	}
}

// update runs fn on the stored proposal under its lock. The proposal is
// saved when fn reports a change, even if fn also returns an error.
func (w *Wallet) update(id string, fn func(p *proposal.Proposal) (bool, error)) (*proposal.Proposal, error) {
	unlock := w.lock(id)
	defer unlock()

	p, err := w.load(id)
	if err != nil {
		return nil, err
	}
	changed, fnErr := fn(p)
	if changed {
		if err := w.store.SaveProposal(p); err != nil {
			return p, fmt.Errorf("failed to save proposal %s: %w", id, err)
		}
	}
	return p, fnErr
}

func (w *Wallet) load(id string) (*proposal.Proposal, error) {
	p, err := w.store.LoadProposal(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: proposal %s", types.ErrNotFound, id)
	}
	return p, nil
}

// CreateProposal opens a new proposal for tx
func (w *Wallet) CreateProposal(tx codec.Transaction, threshold int, slots []proposal.Slot) (*ProposalView, error) {
	p, err := proposal.New(tx, threshold, slots, w.clock())
	if err != nil {
		return nil, err
	}
	if err := w.store.SaveProposal(p); err != nil {
		return nil, fmt.Errorf("failed to save proposal: %w", err)
	}
	w.logger.Sugar().Infow("Proposal created",
		"proposal", p.ID,
		"kind", p.Kind(),
		"threshold", threshold,
		"slots", len(slots),
		"digest", p.Digest.String(),
	)
	return newProposalView(p), nil
}

// View returns the read-only state of a proposal
func (w *Wallet) View(id string) (*ProposalView, error) {
	p, err := w.load(id)
	if err != nil {
		return nil, err
	}
	return newProposalView(p), nil
}

// List returns the views of the stored proposals, optionally filtered by status
func (w *Wallet) List(statuses ...proposal.Status) ([]*ProposalView, error) {
	ps, err := w.store.ListProposals(statuses...)
	if err != nil {
		return nil, err
	}
	views := make([]*ProposalView, 0, len(ps))
	for _, p := range ps {
		views = append(views, newProposalView(p))
	}
	return views, nil
}

// DeviceStatus reports the state of the hardware device session
func (w *Wallet) DeviceStatus() DeviceStatus {
	return newDeviceStatus(w.session)
}

// RequestSignature asks s for the signature of slot and records it
func (w *Wallet) RequestSignature(ctx context.Context, id string, slot types.SignatureIndex, s signer.ISigner) (*ProposalView, error) {
	p, err := w.update(id, func(p *proposal.Proposal) (bool, error) {
		before := p.SignatureCount()
		err := w.coordinator.RequestSignature(ctx, p, slot, s)
		return p.SignatureCount() != before, err
	})
	if p == nil {
		return nil, err
	}
	return newProposalView(p), err
}

// CollectSignatures requests every missing slot that has a signer until
// the threshold is met
func (w *Wallet) CollectSignatures(ctx context.Context, id string, signers map[types.SignatureIndex]signer.ISigner) (*ProposalView, error) {
	p, err := w.update(id, func(p *proposal.Proposal) (bool, error) {
		added, err := w.coordinator.CollectAll(ctx, p, signers)
		return added > 0, err
	})
	if p == nil {
		return nil, err
	}
	return newProposalView(p), err
}

// ReplaceTransaction swaps the transaction of an unsigned Open proposal
func (w *Wallet) ReplaceTransaction(id string, tx codec.Transaction) (*ProposalView, error) {
	p, err := w.update(id, func(p *proposal.Proposal) (bool, error) {
		if err := p.ReplaceTransaction(tx, w.clock()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return newProposalView(p), nil
}

// Discard closes an Open proposal. Nothing was sent to the chain.
func (w *Wallet) Discard(id, reason string) (*ProposalView, error) {
	if reason == "" {
		reason = "discarded by user"
	}
	p, err := w.update(id, func(p *proposal.Proposal) (bool, error) {
		if err := p.Close(reason, w.clock()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	w.logger.Sugar().Infow("Proposal discarded", "proposal", id, "reason", reason)
	return newProposalView(p), nil
}

// Archive removes a proposal that reached a terminal status or was closed
func (w *Wallet) Archive(id string) error {
	unlock := w.lock(id)
	defer unlock()

	p, err := w.load(id)
	if err != nil {
		return err
	}
	if !p.IsTerminal() {
		return fmt.Errorf("cannot archive a %s proposal", p.Status)
	}
	return w.store.DeleteProposal(id)
}

// Submit sends the assembled transaction to the node
func (w *Wallet) Submit(ctx context.Context, id string) (types.Hash, error) {
	unlock := w.lock(id)
	defer unlock()

	p, err := w.load(id)
	if err != nil {
		return types.Hash{}, err
	}
	return w.pipeline.Submit(ctx, p)
}

// Poll queries the node once about a submitted proposal. It satisfies
// submission.PollFunc.
func (w *Wallet) Poll(ctx context.Context, id string) (proposal.Status, error) {
	unlock := w.lock(id)
	defer unlock()

	p, err := w.load(id)
	if err != nil {
		return "", err
	}
	return w.pipeline.Poll(ctx, p)
}

// Watch polls a submitted proposal until it is terminal or ctx ends
func (w *Wallet) Watch(ctx context.Context, id string) (proposal.Status, error) {
	return w.poller.Watch(ctx, id, w.Poll)
}

// Export writes the proposal document for co-signers to w
func (w *Wallet) Export(id string, out io.Writer) error {
	p, err := w.load(id)
	if err != nil {
		return err
	}
	return p.Export(out)
}

// Import reads a proposal document. A document for a proposal that is
// already stored contributes its signatures; otherwise it is stored as a
// new proposal. It returns the resulting view and the number of
// signatures added to an existing proposal.
func (w *Wallet) Import(in io.Reader) (*ProposalView, int, error) {
	imported, err := proposal.Import(in)
	if err != nil {
		return nil, 0, err
	}

	unlock := w.lock(imported.ID)
	defer unlock()

	existing, err := w.store.LoadProposal(imported.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load proposal %s: %w", imported.ID, err)
	}
	if existing == nil {
		if err := w.store.SaveProposal(imported); err != nil {
			return nil, 0, fmt.Errorf("failed to save proposal: %w", err)
		}
		w.logger.Sugar().Infow("Proposal imported",
			"proposal", imported.ID,
			"status", string(imported.Status),
			"signatures", imported.SignatureCount(),
		)
		return newProposalView(imported), 0, nil
	}

	added, mergeErr := existing.MergeSignatures(imported, w.clock())
	if added > 0 {
		if err := w.store.SaveProposal(existing); err != nil {
			return nil, added, fmt.Errorf("failed to save proposal %s: %w", existing.ID, err)
		}
	}
	w.logger.Sugar().Infow("Merged imported signatures",
		"proposal", existing.ID,
		"added", added,
		"signatures", existing.SignatureCount(),
	)
	return newProposalView(existing), added, mergeErr
}
