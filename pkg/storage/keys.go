package storage

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/morrowlabs/royaltylock/pkg/assets"
)

// Pebble key schema. Prefix-based so each record family supports range scans
// at startup; all components are fixed-width hex for lexicographic stability.
const (
	prefixStatus  = "ord:"  // order status by canonical hash
	prefixCounter = "ctr:"  // maker counter
	prefixLock    = "lock:" // escrow lock by owner + item
)

// statusKey: "ord:{orderHash}"
func statusKey(hash common.Hash) []byte {
	return []byte(prefixStatus + hash.Hex())
}

// counterKey: "ctr:{maker}"
func counterKey(maker common.Address) []byte {
	return []byte(prefixCounter + maker.Hex())
}

// lockKey: "lock:{owner}:{asset}:{identifier}"
func lockKey(owner common.Address, key assets.ItemKey) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixLock, owner.Hex(), key.Asset.Hex(), key.Identifier.Hex()))
}

// parseLockKey inverts lockKey.
func parseLockKey(k []byte) (common.Address, assets.ItemKey, error) {
	parts := strings.Split(strings.TrimPrefix(string(k), prefixLock), ":")
	if len(parts) != 3 {
		return common.Address{}, assets.ItemKey{}, fmt.Errorf("malformed lock key %q", k)
	}
	return common.HexToAddress(parts[0]), assets.ItemKey{
		Asset:      common.HexToAddress(parts[1]),
		Identifier: common.HexToHash(parts[2]),
	}, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
