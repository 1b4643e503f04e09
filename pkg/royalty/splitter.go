// Package royalty adapts the external royalty-distribution lookup. Splits are
// untrusted data: they are re-queried at every decision point (fill time,
// unlock time, resale-authorization time), never cached, because the service
// can change its answer between any two events.
package royalty

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Splitter resolves the royalty distribution for a sale of (asset,
// identifier) at the given price. The returned slices are index-paired.
// An empty split is valid (zero royalty). Amounts are not guaranteed to sum
// to any particular fraction of price; callers must tolerate that.
type Splitter interface {
	GetSplit(asset common.Address, identifier *big.Int, price *big.Int) (recipients []common.Address, amounts []*big.Int, err error)
}

// Sum adds up split amounts to obtain the total royalty.
func Sum(amounts []*big.Int) *big.Int {
	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	return total
}

// Entry is a per-asset distribution: recipients with basis-point weights.
type Entry struct {
	Recipients []common.Address
	Bps        []int64
}

// StaticRegistry is an in-process Splitter backed by per-asset entries.
// It stands in for the external royalty service in the devnet node and in
// tests; amounts are price × bps / 10000 with floor division.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries map[common.Address]Entry
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{entries: make(map[common.Address]Entry)}
}

func (r *StaticRegistry) SetEntry(asset common.Address, recipients []common.Address, bps []int64) error {
	if len(recipients) != len(bps) {
		return fmt.Errorf("recipients/bps length mismatch: %d vs %d", len(recipients), len(bps))
	}
	var total int64
	for _, b := range bps {
		if b < 0 {
			return fmt.Errorf("negative bps: %d", b)
		}
		total += b
	}
	if total > 10000 {
		return fmt.Errorf("total bps %d exceeds 10000", total)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[asset] = Entry{Recipients: recipients, Bps: bps}
	return nil
}

func (r *StaticRegistry) GetSplit(asset common.Address, identifier *big.Int, price *big.Int) ([]common.Address, []*big.Int, error) {
	r.mu.RLock()
	entry, ok := r.entries[asset]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, nil
	}

	recipients := make([]common.Address, len(entry.Recipients))
	copy(recipients, entry.Recipients)
	amounts := make([]*big.Int, len(entry.Bps))
	for i, bps := range entry.Bps {
		a := new(big.Int).Mul(price, big.NewInt(bps))
		amounts[i] = a.Div(a, big.NewInt(10000))
	}
	return recipients, amounts, nil
}
