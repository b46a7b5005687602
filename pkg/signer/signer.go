package signer

import (
	"context"
	"crypto/ed25519"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/types"
)

// ISigner produces signatures for one signer slot. The digest is always
// the SHA-256 of unsigned; signers that show the transaction to a human
// (hardware devices) need the full bytes.
type ISigner interface {
	PublicKey(ctx context.Context) (ed25519.PublicKey, error)
	Sign(ctx context.Context, family codec.Family, unsigned []byte, digest types.Hash) ([]byte, error)
}
