package inMemorySigner

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/keystore"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

// InMemorySigner signs with an ed25519 key held in process memory
type InMemorySigner struct {
	logger     *zap.Logger
	privateKey ed25519.PrivateKey
}

func NewInMemorySigner(privateKey ed25519.PrivateKey, logger *zap.Logger) (*InMemorySigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return &InMemorySigner{logger: logger, privateKey: privateKey}, nil
}

// NewFromKeyStore loads the key stored under label
func NewFromKeyStore(ks *keystore.KeyStore, label string, logger *zap.Logger) (*InMemorySigner, error) {
	key, err := ks.Get(label)
	if err != nil {
		return nil, fmt.Errorf("error loading key %q: %w", label, err)
	}
	return NewInMemorySigner(key, logger)
}

func (s *InMemorySigner) PublicKey(_ context.Context) (ed25519.PublicKey, error) {
	return s.privateKey.Public().(ed25519.PublicKey), nil
}

func (s *InMemorySigner) Sign(ctx context.Context, family codec.Family, unsigned []byte, digest types.Hash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if codec.Digest(unsigned) != digest {
		return nil, fmt.Errorf("digest %s does not match the %s transaction bytes", digest, family)
	}
	s.logger.Sugar().Debugw("Signing transaction with local key",
		"family", family.String(),
		"digest", digest.String(),
	)
	return ed25519.Sign(s.privateKey, digest[:]), nil
}
