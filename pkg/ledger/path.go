package ledger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
)

const (
	hardened = 0x80000000

	purpose  = 44 + hardened
	coinType = 919 + hardened

	accountSubtree    = 0 + hardened
	governanceSubtree = 1 + hardened

	// MaxPathLength is the largest number of components a device accepts
	MaxPathLength = 10
)

// GovernanceLevel selects the governance key subtree
type GovernanceLevel uint32

const (
	GovernanceRoot   GovernanceLevel = 0
	GovernanceLevel1 GovernanceLevel = 1
	GovernanceLevel2 GovernanceLevel = 2
)

// Path is a BIP-32 style derivation path. Every component must be hardened.
type Path []uint32

// AccountPath is m/44'/919'/0'/identity'/credential'/key'
func AccountPath(identity, credential, key uint32) Path {
	return Path{purpose, coinType, accountSubtree, identity | hardened, credential | hardened, key | hardened}
}

// GovernancePath is m/44'/919'/1'/level'/key'
func GovernancePath(level GovernanceLevel, key uint32) Path {
	return Path{purpose, coinType, governanceSubtree, uint32(level) | hardened, key | hardened}
}

// ParsePath parses the text form m/44'/919'/... of an absolute path
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "m/") {
		return nil, fmt.Errorf("derivation path %q must start with m/", s)
	}
	parsed, err := accounts.ParseDerivationPath(s)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", s, err)
	}
	p := Path(parsed)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the constraints the device enforces
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty derivation path")
	}
	if len(p) > MaxPathLength {
		return fmt.Errorf("derivation path has %d components, at most %d are allowed", len(p), MaxPathLength)
	}
	for i, c := range p {
		if c < hardened {
			return fmt.Errorf("derivation path component %d (%d) is not hardened", i, c)
		}
	}
	return nil
}

func (p Path) String() string {
	return accounts.DerivationPath(p).String()
}

// Encode returns count u8 ‖ component u32 ... as sent to the device
func (p Path) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 1+4*len(p))
	out[0] = byte(len(p))
	for i, c := range p {
		binary.BigEndian.PutUint32(out[1+4*i:], c)
	}
	return out, nil
}

// DecodePath is the inverse of Encode. It returns the path and the number
// of bytes consumed.
func DecodePath(b []byte) (Path, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("missing derivation path")
	}
	n := int(b[0])
	if len(b) < 1+4*n {
		return nil, 0, fmt.Errorf("truncated derivation path")
	}
	p := make(Path, n)
	for i := range p {
		p[i] = binary.BigEndian.Uint32(b[1+4*i:])
	}
	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	return p, 1 + 4*n, nil
}
