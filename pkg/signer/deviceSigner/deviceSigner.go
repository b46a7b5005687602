package deviceSigner

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/ccdwallet/multisig-go/pkg/codec"
	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"go.uber.org/zap"
)

// DeviceSigner signs with the key at Path on a hardware device. The device
// hashes the streamed bytes itself and asks the user to confirm.
type DeviceSigner struct {
	logger  *zap.Logger
	session *ledger.Session
	path    ledger.Path
}

func NewDeviceSigner(session *ledger.Session, path ledger.Path, logger *zap.Logger) (*DeviceSigner, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	return &DeviceSigner{logger: logger, session: session, path: path}, nil
}

func (s *DeviceSigner) Path() ledger.Path {
	return s.path
}

func (s *DeviceSigner) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	return s.session.GetPublicKey(ctx, s.path)
}

func (s *DeviceSigner) Sign(ctx context.Context, family codec.Family, unsigned []byte, digest types.Hash) ([]byte, error) {
	if codec.Digest(unsigned) != digest {
		return nil, fmt.Errorf("digest %s does not match the %s transaction bytes", digest, family)
	}
	s.logger.Sugar().Infow("Requesting device signature, confirm on the device",
		"family", family.String(),
		"path", s.path.String(),
		"digest", digest.String(),
	)
	switch family {
	case codec.FamilyAccount:
		return s.session.SignAccountTransaction(ctx, s.path, unsigned)
	case codec.FamilyUpdate:
		return s.session.SignUpdateInstruction(ctx, s.path, unsigned)
	default:
		return nil, fmt.Errorf("unsupported transaction family %s", family)
	}
}
