package assets

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ItemKey identifies one asset item: the asset's contract address plus the
// identifier in its 32-byte form.
type ItemKey struct {
	Asset      common.Address
	Identifier common.Hash
}

func KeyOf(asset common.Address, identifier *big.Int) ItemKey {
	return ItemKey{Asset: asset, Identifier: common.BigToHash(identifier)}
}

// Receiver is implemented by custody accounts (escrow vaults). The ledgers
// invoke it on every transfer into a registered address, before the transfer
// is recorded; returning an error aborts the transfer. This is the hook that
// lets a vault reject deposits not originated by the settlement engine.
type Receiver interface {
	OnAssetReceived(operator, from common.Address, asset common.Address, identifier *big.Int, quantity uint64) error
}

// UniqueLedger tracks ownership of unique (one-of-one) assets.
type UniqueLedger struct {
	mu        sync.Mutex
	owners    map[ItemKey]common.Address
	receivers map[common.Address]Receiver
}

func NewUniqueLedger() *UniqueLedger {
	return &UniqueLedger{
		owners:    make(map[ItemKey]common.Address),
		receivers: make(map[common.Address]Receiver),
	}
}

func (l *UniqueLedger) RegisterReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[addr] = r
}

// Mint assigns a fresh item to an owner. Test/genesis helper.
func (l *UniqueLedger) Mint(to common.Address, asset common.Address, identifier *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[KeyOf(asset, identifier)] = to
}

func (l *UniqueLedger) OwnerOf(asset common.Address, identifier *big.Int) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[KeyOf(asset, identifier)]
	return owner, ok
}

// Transfer moves an item from one holder to another. The operator is the
// identity driving the transfer and is passed through to receive callbacks.
func (l *UniqueLedger) Transfer(operator, from, to common.Address, asset common.Address, identifier *big.Int) error {
	l.mu.Lock()
	key := KeyOf(asset, identifier)
	owner, ok := l.owners[key]
	receiver := l.receivers[to]
	l.mu.Unlock()

	if !ok || owner != from {
		return fmt.Errorf("transfer of %s/%s: not owned by %s", asset.Hex(), identifier.String(), from.Hex())
	}
	if receiver != nil {
		if err := receiver.OnAssetReceived(operator, from, asset, identifier, 1); err != nil {
			return fmt.Errorf("receiver rejected transfer: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[key] = to
	return nil
}

// FungibleLedger tracks per-holder balances of fungible asset items.
type FungibleLedger struct {
	mu        sync.Mutex
	balances  map[common.Address]map[ItemKey]uint64
	receivers map[common.Address]Receiver
}

func NewFungibleLedger() *FungibleLedger {
	return &FungibleLedger{
		balances:  make(map[common.Address]map[ItemKey]uint64),
		receivers: make(map[common.Address]Receiver),
	}
}

func (l *FungibleLedger) RegisterReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[addr] = r
}

func (l *FungibleLedger) Mint(to common.Address, asset common.Address, identifier *big.Int, quantity uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, KeyOf(asset, identifier), quantity)
}

func (l *FungibleLedger) BalanceOf(holder common.Address, asset common.Address, identifier *big.Int) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[holder][KeyOf(asset, identifier)]
}

func (l *FungibleLedger) Transfer(operator, from, to common.Address, asset common.Address, identifier *big.Int, quantity uint64) error {
	if quantity == 0 {
		return nil
	}
	l.mu.Lock()
	key := KeyOf(asset, identifier)
	have := l.balances[from][key]
	receiver := l.receivers[to]
	l.mu.Unlock()

	if have < quantity {
		return fmt.Errorf("transfer of %d x %s/%s: balance %d", quantity, asset.Hex(), identifier.String(), have)
	}
	if receiver != nil {
		if err := receiver.OnAssetReceived(operator, from, asset, identifier, quantity); err != nil {
			return fmt.Errorf("receiver rejected transfer: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[from][key] -= quantity
	l.credit(to, key, quantity)
	return nil
}

func (l *FungibleLedger) credit(to common.Address, key ItemKey, quantity uint64) {
	if l.balances[to] == nil {
		l.balances[to] = make(map[ItemKey]uint64)
	}
	l.balances[to][key] += quantity
}

// FundsLedger tracks currency balances used to settle fills and royalties.
type FundsLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func NewFundsLedger() *FundsLedger {
	return &FundsLedger{balances: make(map[common.Address]*big.Int)}
}

func (l *FundsLedger) Mint(to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
}

func (l *FundsLedger) BalanceOf(holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *FundsLedger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount.String())
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	have, ok := l.balances[from]
	if !ok || have.Cmp(amount) < 0 {
		return fmt.Errorf("transfer of %s from %s: insufficient funds", amount.String(), from.Hex())
	}
	have.Sub(have, amount)
	l.credit(to, amount)
	return nil
}

func (l *FundsLedger) credit(to common.Address, amount *big.Int) {
	if b, ok := l.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[to] = new(big.Int).Set(amount)
}
