package registry

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotRegistryOwner is returned when a non-owner calls the setter.
var ErrNotRegistryOwner = errors.New("caller is not the registry owner")

// FlagRegistry is an owner-gated blacklist/opt-out list of asset contracts.
// Flagged assets are rejected at the escrow deposit gate.
type FlagRegistry struct {
	mu      sync.RWMutex
	owner   common.Address
	flagged map[common.Address]bool
}

func NewFlagRegistry(owner common.Address) *FlagRegistry {
	return &FlagRegistry{
		owner:   owner,
		flagged: make(map[common.Address]bool),
	}
}

func (r *FlagRegistry) SetFlagged(caller, asset common.Address, flag bool) error {
	if caller != r.owner {
		return ErrNotRegistryOwner
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if flag {
		r.flagged[asset] = true
	} else {
		delete(r.flagged, asset)
	}
	return nil
}

func (r *FlagRegistry) IsFlagged(asset common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flagged[asset]
}
