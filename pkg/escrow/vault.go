// Package escrow implements per-owner custody vaults. A vault holds assets
// bought through the settlement engine together with the royalty amount
// withheld from the purchase price, and releases that royalty either to the
// royalty recipients (owner-authorized forced unlock) or back to the owner
// (permissionless refund after a verified royalty-paying resale).
package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/events"
	"github.com/morrowlabs/royaltylock/pkg/royalty"
)

var (
	ErrNotOwner         = errors.New("caller is not the vault owner")
	ErrNoLock           = errors.New("no royalty lock for item")
	ErrExceedsLocked    = errors.New("unlock quantity exceeds locked amount")
	ErrNotEngine        = errors.New("transfer not originated by the settlement engine")
	ErrNotApproved      = errors.New("resale not authorized")
	ErrListingIntegrity = errors.New("resale listing does not satisfy royalty requirements")
)

// Lock is the withheld-royalty record for one item held in a vault.
// LockedAmount is 1 for unique items and the cumulative deposited quantity
// for fungible items; it is additive across fills until unlocked.
type Lock struct {
	Royalty      *big.Int `json:"royalty"`
	LockedAmount uint64   `json:"locked_amount"`
	Unique       bool     `json:"unique"`
}

// LockStore persists lock records. Implemented by the pebble store.
type LockStore interface {
	SaveLock(owner common.Address, key assets.ItemKey, lock Lock) error
	DeleteLock(owner common.Address, key assets.ItemKey) error
}

type vault struct {
	owner   common.Address
	address common.Address
	locks   map[assets.ItemKey]*Lock
	// resale quantities authorized but not yet completed, per item
	approved map[assets.ItemKey]uint64
}

// Manager is the keyed registry of vaults: one logical escrow account per
// owner address rather than a deployed sub-ledger per user. All state
// transitions run under one mutex; there is no partially-applied state
// observable between operations.
type Manager struct {
	mu     sync.Mutex
	vaults map[common.Address]*vault

	splitter royalty.Splitter
	funds    *assets.FundsLedger
	unique   *assets.UniqueLedger
	fungible *assets.FungibleLedger

	engineAddr common.Address
	minDiffBps int64

	store LockStore // optional
	bus   *events.Broadcaster
	log   *zap.SugaredLogger
}

type ManagerDeps struct {
	Splitter   royalty.Splitter
	Funds      *assets.FundsLedger
	Unique     *assets.UniqueLedger
	Fungible   *assets.FungibleLedger
	EngineAddr common.Address
	MinDiffBps int64
	Store      LockStore
	Events     *events.Broadcaster
	Log        *zap.SugaredLogger
}

func NewManager(deps ManagerDeps) *Manager {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &Manager{
		vaults:     make(map[common.Address]*vault),
		splitter:   deps.Splitter,
		funds:      deps.Funds,
		unique:     deps.Unique,
		fungible:   deps.Fungible,
		engineAddr: deps.EngineAddr,
		minDiffBps: deps.MinDiffBps,
		store:      deps.Store,
		bus:        deps.Events,
		log:        deps.Log,
	}
}

// receiver rejects any asset transfer into a vault that was not driven by
// the settlement engine itself.
type receiver struct{ m *Manager }

func (r receiver) OnAssetReceived(operator, from common.Address, asset common.Address, identifier *big.Int, quantity uint64) error {
	if operator != r.m.engineAddr {
		return ErrNotEngine
	}
	return nil
}

// VaultAddress returns (creating if needed) the custody address for an owner.
func (m *Manager) VaultAddress(owner common.Address) common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureVault(owner).address
}

func (m *Manager) ensureVault(owner common.Address) *vault {
	if v, ok := m.vaults[owner]; ok {
		return v
	}
	addr := deriveVaultAddress(owner)
	v := &vault{
		owner:    owner,
		address:  addr,
		locks:    make(map[assets.ItemKey]*Lock),
		approved: make(map[assets.ItemKey]uint64),
	}
	m.vaults[owner] = v
	m.unique.RegisterReceiver(addr, receiver{m})
	m.fungible.RegisterReceiver(addr, receiver{m})
	return v
}

func deriveVaultAddress(owner common.Address) common.Address {
	h := gethcrypto.Keccak256(owner.Bytes(), []byte("royaltylock/vault"))
	return common.BytesToAddress(h[12:])
}

// LockOf returns a copy of the lock record for an item, if any.
func (m *Manager) LockOf(owner common.Address, asset common.Address, identifier *big.Int) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[owner]
	if !ok {
		return Lock{}, false
	}
	lock, ok := v.locks[assets.KeyOf(asset, identifier)]
	if !ok {
		return Lock{}, false
	}
	return Lock{Royalty: new(big.Int).Set(lock.Royalty), LockedAmount: lock.LockedAmount, Unique: lock.Unique}, true
}

// RestoreLock reinstates a persisted lock at startup.
func (m *Manager) RestoreLock(owner common.Address, key assets.ItemKey, lock Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.ensureVault(owner)
	v.locks[key] = &Lock{Royalty: new(big.Int).Set(lock.Royalty), LockedAmount: lock.LockedAmount, Unique: lock.Unique}
}

// LockUnique records the withheld royalty for a unique item just deposited
// into the owner's vault. A stale lock for the same item can only exist if the
// item previously left custody through an authorized resale (it could not be
// re-deposited otherwise), so the stale royalty is refunded to the owner
// before the new lock is written. The item in custody now belongs to the new
// deposit and is never touched by the flush.
func (m *Manager) LockUnique(owner common.Address, asset common.Address, identifier *big.Int, royaltyAmt *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.ensureVault(owner)
	key := assets.KeyOf(asset, identifier)

	if old, ok := v.locks[key]; ok {
		if err := m.funds.Transfer(v.address, v.owner, old.Royalty); err != nil {
			return fmt.Errorf("flush stale lock: %w", err)
		}
		delete(v.locks, key)
		m.deletePersistedLock(v, key)
		m.emitUnlocked(owner, asset, identifier, old.Royalty, 1, "refund")
	}

	v.locks[key] = &Lock{Royalty: new(big.Int).Set(royaltyAmt), LockedAmount: 1, Unique: true}
	m.persistLock(v, key)
	m.emitLocked(owner, asset, identifier, royaltyAmt, 1)
	return nil
}

// LockFungible adds withheld royalty and quantity to the (possibly existing)
// lock for a fungible item. Locks accumulate across fills.
func (m *Manager) LockFungible(owner common.Address, asset common.Address, identifier *big.Int, royaltyAmt *big.Int, quantity uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.ensureVault(owner)
	key := assets.KeyOf(asset, identifier)

	if lock, ok := v.locks[key]; ok {
		lock.Royalty.Add(lock.Royalty, royaltyAmt)
		lock.LockedAmount += quantity
	} else {
		v.locks[key] = &Lock{Royalty: new(big.Int).Set(royaltyAmt), LockedAmount: quantity, Unique: false}
	}
	m.persistLock(v, key)
	m.emitLocked(owner, asset, identifier, royaltyAmt, quantity)
	return nil
}

// Unlock resolves (part of) a lock. Branching is on whether the asset is
// still in custody at unlock time:
//
//   - still held: only the owner may unlock (forfeiting the held item needs
//     explicit consent); the royalty is paid out to the current royalty
//     recipients pro rata and the asset returns to the owner;
//   - no longer held (a verified royalty-paying resale moved it out): anyone
//     may unlock; the withheld royalty is refunded in full to the owner,
//     since the resale's own consideration already paid the recipients.
//
// For fungible items a single request of quantity q resolves qHeld (capped at
// current custody) through the payout path and qMoved = q - qHeld through the
// refund path, both pro-rated at royalty/lockedAmount with floor division.
func (m *Manager) Unlock(caller, owner common.Address, asset common.Address, identifier *big.Int, quantity uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vaults[owner]
	if !ok {
		return ErrNoLock
	}
	key := assets.KeyOf(asset, identifier)
	lock, ok := v.locks[key]
	if !ok {
		return ErrNoLock
	}

	if lock.Unique {
		if quantity != 1 {
			return ErrExceedsLocked
		}
		ownerAuthorized := caller == owner
		return m.resolveUnique(v, key, asset, identifier, lock, ownerAuthorized)
	}
	return m.resolveFungible(caller, v, key, asset, identifier, lock, quantity)
}

// resolveUnique fully resolves a unique-item lock and deletes it.
func (m *Manager) resolveUnique(v *vault, key assets.ItemKey, asset common.Address, identifier *big.Int, lock *Lock, ownerAuthorized bool) error {
	holder, _ := m.unique.OwnerOf(asset, identifier)
	held := holder == v.address

	if held {
		if !ownerAuthorized {
			return ErrNotOwner
		}
		paid, err := m.payRoyalty(v, asset, identifier, lock.Royalty)
		if err != nil {
			return err
		}
		// floor-rounding remainder goes back to the owner with the item
		remainder := new(big.Int).Sub(lock.Royalty, paid)
		if err := m.funds.Transfer(v.address, v.owner, remainder); err != nil {
			return err
		}
		if err := m.unique.Transfer(m.engineAddr, v.address, v.owner, asset, identifier); err != nil {
			return err
		}
		delete(v.locks, key)
		m.deletePersistedLock(v, key)
		m.emitUnlocked(v.owner, asset, identifier, lock.Royalty, 1, "payout")
		return nil
	}

	// already resold through an authorized, royalty-paying listing
	if err := m.funds.Transfer(v.address, v.owner, lock.Royalty); err != nil {
		return err
	}
	delete(v.locks, key)
	m.deletePersistedLock(v, key)
	m.emitUnlocked(v.owner, asset, identifier, lock.Royalty, 1, "refund")
	return nil
}

func (m *Manager) resolveFungible(caller common.Address, v *vault, key assets.ItemKey, asset common.Address, identifier *big.Int, lock *Lock, quantity uint64) error {
	if quantity == 0 || quantity > lock.LockedAmount {
		return ErrExceedsLocked
	}

	custody := m.fungible.BalanceOf(v.address, asset, identifier)
	qHeld := quantity
	if custody < qHeld {
		qHeld = custody
	}
	qMoved := quantity - qHeld

	if qHeld > 0 && caller != v.owner {
		return ErrNotOwner
	}

	total := new(big.Int).SetUint64(lock.LockedAmount)
	refund := proRata(lock.Royalty, qMoved, total)
	payoutTotal := proRata(lock.Royalty, qHeld, total)
	resolved := new(big.Int).Add(refund, payoutTotal)

	// the full resolution, including closing dust, must be funded before any
	// leg commits; a failure mid-sequence would strand a half-resolved lock
	needed := resolved
	if quantity == lock.LockedAmount {
		needed = lock.Royalty
	}
	if m.funds.BalanceOf(v.address).Cmp(needed) < 0 {
		return fmt.Errorf("vault %s cannot cover unlock amount %s", v.address.Hex(), needed.String())
	}

	// the payout leg runs first: it is the only leg that can still fail after
	// the funding check (the splitter lookup), and it fails before moving funds
	if qHeld > 0 {
		paid, err := m.payRoyalty(v, asset, identifier, payoutTotal)
		if err != nil {
			return err
		}
		remainder := new(big.Int).Sub(payoutTotal, paid)
		if err := m.funds.Transfer(v.address, v.owner, remainder); err != nil {
			return err
		}
		if err := m.fungible.Transfer(m.engineAddr, v.address, v.owner, asset, identifier, qHeld); err != nil {
			return err
		}
	}

	if qMoved > 0 {
		if err := m.funds.Transfer(v.address, v.owner, refund); err != nil {
			return err
		}
	}

	lock.Royalty.Sub(lock.Royalty, resolved)
	lock.LockedAmount -= quantity

	resolution := "payout"
	switch {
	case qHeld == 0:
		resolution = "refund"
	case qMoved > 0:
		resolution = "mixed"
	}

	if lock.LockedAmount == 0 {
		// rounding dust left in the lock returns to the owner
		if lock.Royalty.Sign() > 0 {
			if err := m.funds.Transfer(v.address, v.owner, lock.Royalty); err != nil {
				return err
			}
		}
		delete(v.locks, key)
		m.deletePersistedLock(v, key)
	} else {
		m.persistLock(v, key)
	}
	m.emitUnlocked(v.owner, asset, identifier, resolved, quantity, resolution)
	return nil
}

// payRoyalty re-queries the splitter and pays each recipient a floor share of
// total proportional to the returned weights. Returns the sum actually paid.
func (m *Manager) payRoyalty(v *vault, asset common.Address, identifier *big.Int, total *big.Int) (*big.Int, error) {
	paid := new(big.Int)
	if total.Sign() == 0 {
		return paid, nil
	}
	recipients, weights, err := m.splitter.GetSplit(asset, identifier, total)
	if err != nil {
		return nil, fmt.Errorf("royalty lookup: %w", err)
	}
	weightSum := royalty.Sum(weights)
	if weightSum.Sign() == 0 {
		return paid, nil
	}
	for i, recipient := range recipients {
		share := new(big.Int).Mul(total, weights[i])
		share.Div(share, weightSum)
		if share.Sign() == 0 {
			continue
		}
		if err := m.funds.Transfer(v.address, recipient, share); err != nil {
			return nil, err
		}
		paid.Add(paid, share)
	}
	return paid, nil
}

// proRata computes royalty × q / total with floor division. The floor bias is
// systematic; dust resolves to the owner when the lock empties.
func proRata(royaltyAmt *big.Int, q uint64, total *big.Int) *big.Int {
	out := new(big.Int).Mul(royaltyAmt, new(big.Int).SetUint64(q))
	return out.Div(out, total)
}

func (m *Manager) persistLock(v *vault, key assets.ItemKey) {
	if m.store == nil {
		return
	}
	lock := v.locks[key]
	if err := m.store.SaveLock(v.owner, key, *lock); err != nil {
		m.log.Errorw("persist_lock_failed", "owner", v.owner.Hex(), "err", err)
	}
}

func (m *Manager) deletePersistedLock(v *vault, key assets.ItemKey) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteLock(v.owner, key); err != nil {
		m.log.Errorw("delete_lock_failed", "owner", v.owner.Hex(), "err", err)
	}
}

func (m *Manager) emitLocked(owner, asset common.Address, identifier *big.Int, royaltyAmt *big.Int, quantity uint64) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(events.Event{
		Type:       events.TypeRoyaltyLocked,
		Owner:      crypto.ChecksumAddress(owner.Bytes()),
		Asset:      crypto.ChecksumAddress(asset.Bytes()),
		Identifier: identifier.String(),
		Royalty:    royaltyAmt.String(),
		Amount:     quantity,
	})
}

func (m *Manager) emitUnlocked(owner, asset common.Address, identifier *big.Int, royaltyAmt *big.Int, quantity uint64, resolution string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(events.Event{
		Type:       events.TypeRoyaltyUnlocked,
		Owner:      crypto.ChecksumAddress(owner.Bytes()),
		Asset:      crypto.ChecksumAddress(asset.Bytes()),
		Identifier: identifier.String(),
		Royalty:    royaltyAmt.String(),
		Amount:     quantity,
		Resolution: resolution,
	})
}
