package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// State is the connection state of a device session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const DefaultDeadline = 15 * time.Second

var (
	// ErrNotConnected is returned for commands issued to a session that is not open
	ErrNotConnected = errors.New("device is not connected")

	// ErrIncompatibleApp is returned when the device app is too old for a command
	ErrIncompatibleApp = errors.New("device app version is not supported")

	// MinUpdateVersion is the oldest app version that can sign update instructions
	MinUpdateVersion = Version{Major: 1, Minor: 0, Patch: 0}
)

// Opener connects to a device
type Opener func(ctx context.Context) (Transport, error)

// Session owns the connection to one device. At most one command is in
// flight at a time; a second caller gets ErrDeviceBusy instead of waiting.
// A command that outlives its deadline is abandoned: the caller gets a
// TimeoutError but the session stays busy until the device answers or
// Reset is called.
type Session struct {
	opener   Opener
	deadline time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	client  *Client
	version Version
	sem     *semaphore.Weighted
	gen     uint64
	keys    map[string]ed25519.PublicKey
}

// NewSession creates a disconnected session. A zero deadline means DefaultDeadline.
func NewSession(opener Opener, deadline time.Duration, logger *zap.Logger) *Session {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Session{
		opener:   opener,
		deadline: deadline,
		logger:   logger,
		state:    StateDisconnected,
		sem:      semaphore.NewWeighted(1),
		keys:     make(map[string]ed25519.PublicKey),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns the app version read when the session was opened
func (s *Session) Version() (Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.state == StateReady || s.state == StateBusy
}

// Open connects to the device and checks that the app responds
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot open a session that is %s", state)
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return err
	}

	transport, err := s.opener(ctx)
	if err != nil {
		return fail(newTransportError(err))
	}
	client := NewClient(transport, s.logger)
	version, err := await(ctx, "get version", s.deadline, client.GetVersion)
	if err != nil {
		_ = client.Close()
		return fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		_ = client.Close()
		return fmt.Errorf("session was closed while connecting")
	}
	s.client = client
	s.version = version
	s.sem = semaphore.NewWeighted(1)
	s.state = StateReady
	s.logger.Sugar().Infow("Device session opened", "version", version.String())
	return nil
}

// Close disconnects from the device
func (s *Session) Close() error {
	return s.disconnect("closed")
}

// Reset abandons any command still in flight and disconnects. The session
// can be opened again afterwards.
func (s *Session) Reset() error {
	return s.disconnect("reset")
}

func (s *Session) disconnect(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.client != nil {
		err = s.client.Close()
		s.client = nil
	}
	if s.state != StateDisconnected {
		s.logger.Sugar().Infow("Device session disconnected", "reason", reason, "state", s.state.String())
	}
	s.state = StateDisconnected
	s.gen++
	s.keys = make(map[string]ed25519.PublicKey)
	return err
}

// acquire claims the session for one command
func (s *Session) acquire(op string) (*Client, *semaphore.Weighted, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
	case StateBusy:
		return nil, nil, 0, fmt.Errorf("%s: %w", op, types.ErrDeviceBusy)
	default:
		return nil, nil, 0, fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	if !s.sem.TryAcquire(1) {
		return nil, nil, 0, fmt.Errorf("%s: %w", op, types.ErrDeviceBusy)
	}
	s.state = StateBusy
	return s.client, s.sem, s.gen, nil
}

// release ends a command. A transport failure drops the connection.
func (s *Session) release(sem *semaphore.Weighted, gen uint64, err error) {
	s.mu.Lock()
	if s.gen == gen && s.state == StateBusy {
		var devErr *DeviceError
		if errors.As(err, &devErr) && devErr.Category == CategoryTransport {
			s.logger.Sugar().Warnw("Device transport failed, disconnecting", "error", err)
			if s.client != nil {
				_ = s.client.Close()
				s.client = nil
			}
			s.state = StateDisconnected
			s.gen++
		} else {
			s.state = StateReady
		}
	}
	s.mu.Unlock()
	sem.Release(1)
}

func run[T any](ctx context.Context, s *Session, op string, fn func(c *Client) (T, error)) (T, error) {
	var zero T
	client, sem, gen, err := s.acquire(op)
	if err != nil {
		return zero, err
	}
	return await(ctx, op, s.deadline, func() (T, error) {
		v, err := fn(client)
		s.release(sem, gen, err)
		return v, err
	})
}

// await runs fn in the background and waits for it, the deadline or ctx,
// whichever comes first. fn keeps running after a timeout.
func await[T any](ctx context.Context, op string, deadline time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		return zero, &types.TimeoutError{Op: op, Deadline: deadline}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, &types.TimeoutError{Op: op, Deadline: deadline}
		}
		return zero, ctx.Err()
	}
}

// GetPublicKey returns the public key at path. Keys are cached for the
// lifetime of the connection.
func (s *Session) GetPublicKey(ctx context.Context, path Path) (ed25519.PublicKey, error) {
	key := path.String()
	s.mu.Lock()
	cached, ok := s.keys[key]
	gen := s.gen
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	pub, err := run(ctx, s, "get public key", func(c *Client) (ed25519.PublicKey, error) {
		return c.GetPublicKey(path)
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	// a key read before a reconnect may belong to another device
	if s.gen == gen {
		s.keys[key] = pub
	}
	s.mu.Unlock()
	return pub, nil
}

// SignAccountTransaction has the device sign the unsigned bytes of an account transaction
func (s *Session) SignAccountTransaction(ctx context.Context, path Path, unsigned []byte) ([]byte, error) {
	return run(ctx, s, "sign account transaction", func(c *Client) ([]byte, error) {
		return c.Sign(InsSignAccountTransaction, path, unsigned)
	})
}

// SignUpdateInstruction has the device sign the unsigned bytes of an update instruction
func (s *Session) SignUpdateInstruction(ctx context.Context, path Path, unsigned []byte) ([]byte, error) {
	if v, ok := s.Version(); ok && !v.AtLeast(MinUpdateVersion) {
		return nil, fmt.Errorf("%w: update signing needs %s, device runs %s", ErrIncompatibleApp, MinUpdateVersion, v)
	}
	return run(ctx, s, "sign update instruction", func(c *Client) ([]byte, error) {
		return c.Sign(InsSignUpdateInstruction, path, unsigned)
	})
}
