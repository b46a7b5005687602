package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ccdwallet/multisig-go/pkg/proposal"
	"github.com/ccdwallet/multisig-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// parseSlot parses INDEX=PUBLICKEY[=LABEL], e.g. 0/1=0x3b6a...=alice
func parseSlot(s string) (proposal.Slot, error) {
	parts := strings.SplitN(s, "=", 3)
	if len(parts) < 2 {
		return proposal.Slot{}, fmt.Errorf("slot %q must have the form INDEX=PUBLICKEY[=LABEL]", s)
	}
	var slot proposal.Slot
	if err := slot.Index.UnmarshalText([]byte(parts[0])); err != nil {
		return proposal.Slot{}, err
	}
	key, err := hexutil.Decode(parts[1])
	if err != nil {
		return proposal.Slot{}, fmt.Errorf("slot %s: invalid public key: %w", parts[0], err)
	}
	if len(key) != ed25519.PublicKeySize {
		return proposal.Slot{}, fmt.Errorf("slot %s: public key has %d bytes, want %d", parts[0], len(key), ed25519.PublicKeySize)
	}
	slot.PublicKey = ed25519.PublicKey(key)
	if len(parts) == 3 {
		slot.Label = parts[2]
	}
	return slot, nil
}

func parseSlots(values []string) ([]proposal.Slot, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --slot is required")
	}
	slots := make([]proposal.Slot, 0, len(values))
	for _, v := range values {
		slot, err := parseSlot(v)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func parseIndex(s string) (types.SignatureIndex, error) {
	var index types.SignatureIndex
	err := index.UnmarshalText([]byte(s))
	return index, err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
