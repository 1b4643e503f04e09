// Package engine settles maker-signed orders: it authenticates the signature
// against the canonical domain-separated hash, enforces fill accounting, and
// routes funds, royalty, and the asset itself through the buyer's escrow
// vault in one atomic state transition.
package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
	"github.com/morrowlabs/royaltylock/pkg/events"
	"github.com/morrowlabs/royaltylock/pkg/registry"
	"github.com/morrowlabs/royaltylock/pkg/royalty"
	"github.com/morrowlabs/royaltylock/pkg/util"
)

// Engine orchestrates settlement. Every public operation is one synchronous,
// atomic transition under a single lock: external receive callbacks fired by
// the asset ledgers are therefore re-entry points only in principle, never in
// effect, and all validation happens before the first state mutation so a
// failure discards the whole call.
type Engine struct {
	mu sync.Mutex

	codec    *crypto.OrderCodec
	counters *CounterRegistry
	fills    *FillLedger
	splitter royalty.Splitter
	vaults   *escrow.Manager
	funds    *assets.FundsLedger
	unique   *assets.UniqueLedger
	fungible *assets.FungibleLedger
	flags    *registry.FlagRegistry // optional deposit gate

	self  common.Address // engine identity, operator for escrow deposits
	clock util.Clock
	store StatusStore // optional
	bus   *events.Broadcaster
	log   *zap.SugaredLogger
}

type Deps struct {
	Domain   crypto.EIP712Domain
	Counters *CounterRegistry
	Fills    *FillLedger
	Splitter royalty.Splitter
	Vaults   *escrow.Manager
	Funds    *assets.FundsLedger
	Unique   *assets.UniqueLedger
	Fungible *assets.FungibleLedger
	Flags    *registry.FlagRegistry
	Self     common.Address
	Clock    util.Clock
	Store    StatusStore
	Events   *events.Broadcaster
	Log      *zap.SugaredLogger
}

func New(deps Deps) *Engine {
	if deps.Counters == nil {
		deps.Counters = NewCounterRegistry()
	}
	if deps.Fills == nil {
		deps.Fills = NewFillLedger()
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &Engine{
		codec:    crypto.NewOrderCodec(deps.Domain),
		counters: deps.Counters,
		fills:    deps.Fills,
		splitter: deps.Splitter,
		vaults:   deps.Vaults,
		funds:    deps.Funds,
		unique:   deps.Unique,
		fungible: deps.Fungible,
		flags:    deps.Flags,
		self:     deps.Self,
		clock:    deps.Clock,
		store:    deps.Store,
		bus:      deps.Events,
		log:      deps.Log,
	}
}

// OrderHash computes the canonical hash of an order under the maker's
// current counter.
func (e *Engine) OrderHash(order *Order) (common.Hash, error) {
	digest, err := e.codec.HashOrder(order.TypedData(e.counters.Counter(order.Maker)))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(digest), nil
}

// Status returns the fill state for an order hash.
func (e *Engine) Status(hash common.Hash) OrderStatus {
	return e.fills.Status(hash)
}

// Counter returns a maker's current counter.
func (e *Engine) Counter(maker common.Address) uint64 {
	return e.counters.Counter(maker)
}

// Fill settles a plain (non-criteria) order.
func (e *Engine) Fill(req *FillRequest) (*FillResult, error) {
	if req.Order.ItemKind.Criteria() {
		return nil, ErrKindMismatch
	}
	return e.fill(req)
}

// FillWithCriteria settles a criteria order against a taker-resolved
// identifier, verifying the Merkle proof unless the root is the wildcard.
func (e *Engine) FillWithCriteria(req *FillRequest) (*FillResult, error) {
	if !req.Order.ItemKind.Criteria() {
		return nil, ErrKindMismatch
	}
	return e.fill(req)
}

func (e *Engine) fill(req *FillRequest) (*FillResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := req.Order
	now := e.clock.Now().Unix()
	if order.Expiration <= now {
		return nil, ErrOrderExpired
	}

	// canonical hash under the maker's current counter; a bumped counter
	// changes the digest and the old signature stops verifying
	digest, err := e.codec.HashOrder(order.TypedData(e.counters.Counter(order.Maker)))
	if err != nil {
		return nil, fmt.Errorf("hash order: %w", err)
	}
	orderHash := common.BytesToHash(digest)

	signer, err := crypto.RecoverAddress(digest, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != order.Maker {
		return nil, ErrInvalidSignature
	}

	if _, err := e.fills.CheckAvailable(orderHash, order.Expiration, now, order.Amount, req.FillAmount); err != nil {
		return nil, err
	}

	identifier := order.IdentifierOrCriteria
	if order.ItemKind.Criteria() {
		identifier = req.Identifier
		if identifier == nil {
			return nil, ErrInvalidCriteriaProof
		}
		root := common.BigToHash(order.IdentifierOrCriteria)
		// zero root is the wildcard: any identifier, no proof needed
		if root != (common.Hash{}) && !crypto.VerifyCriteriaProof(identifier, root, req.CriteriaProof) {
			return nil, ErrInvalidCriteriaProof
		}
	}

	if order.ItemKind.Unique() {
		if req.FillAmount != 1 {
			return nil, ErrInvalidFillAmount
		}
	} else if req.FillAmount < 1 {
		return nil, ErrInvalidFillAmount
	}

	totalPrice := new(big.Int).Mul(order.UnitPrice, new(big.Int).SetUint64(req.FillAmount))

	// recipients are not paid at fill time; the royalty is withheld in the
	// buyer's vault and the split is re-queried when the lock resolves
	_, amounts, err := e.splitter.GetSplit(order.Asset, identifier, totalPrice)
	if err != nil {
		return nil, fmt.Errorf("royalty lookup: %w", err)
	}
	totalRoyalty := royalty.Sum(amounts)
	if totalRoyalty.Cmp(totalPrice) > 0 {
		return nil, fmt.Errorf("%w: royalty %s exceeds price %s", ErrTransferFailed, totalRoyalty, totalPrice)
	}
	proceeds := new(big.Int).Sub(totalPrice, totalRoyalty)

	// the buyer's vault takes custody of the asset and the withheld royalty
	buyer, seller := order.Maker, req.Taker
	if order.Kind == Listing {
		buyer, seller = req.Taker, order.Maker
	}

	if e.flags != nil && e.flags.IsFlagged(order.Asset) {
		return nil, ErrAssetFlagged
	}

	// pre-flight every movement so the mutation phase cannot fail halfway
	if e.funds.BalanceOf(buyer).Cmp(totalPrice) < 0 {
		return nil, fmt.Errorf("%w: buyer %s cannot cover price %s", ErrTransferFailed, buyer.Hex(), totalPrice)
	}
	if order.ItemKind.Unique() {
		owner, ok := e.unique.OwnerOf(order.Asset, identifier)
		if !ok || owner != seller {
			return nil, fmt.Errorf("%w: seller %s does not own item %s", ErrTransferFailed, seller.Hex(), identifier)
		}
	} else if e.fungible.BalanceOf(seller, order.Asset, identifier) < req.FillAmount {
		return nil, fmt.Errorf("%w: seller %s cannot cover quantity %d", ErrTransferFailed, seller.Hex(), req.FillAmount)
	}

	vaultAddr := e.vaults.VaultAddress(buyer)

	if err := e.funds.Transfer(buyer, seller, proceeds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.funds.Transfer(buyer, vaultAddr, totalRoyalty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if order.ItemKind.Unique() {
		if err := e.unique.Transfer(e.self, seller, vaultAddr, order.Asset, identifier); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := e.vaults.LockUnique(buyer, order.Asset, identifier, totalRoyalty); err != nil {
			return nil, err
		}
	} else {
		if err := e.fungible.Transfer(e.self, seller, vaultAddr, order.Asset, identifier, req.FillAmount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if err := e.vaults.LockFungible(buyer, order.Asset, identifier, totalRoyalty, req.FillAmount); err != nil {
			return nil, err
		}
	}

	status := e.fills.Commit(orderHash, req.FillAmount)
	e.persistStatus(orderHash, status)

	e.log.Infow("order_filled",
		"order_hash", orderHash.Hex(),
		"maker", order.Maker.Hex(),
		"taker", req.Taker.Hex(),
		"identifier", identifier.String(),
		"price", totalPrice.String(),
		"royalty", totalRoyalty.String(),
		"fill_amount", req.FillAmount,
	)
	if e.bus != nil {
		e.bus.Emit(events.Event{
			Type:       events.TypeOrderFilled,
			OrderHash:  orderHash.Hex(),
			Maker:      crypto.ChecksumAddress(order.Maker.Bytes()),
			Taker:      crypto.ChecksumAddress(req.Taker.Bytes()),
			Asset:      crypto.ChecksumAddress(order.Asset.Bytes()),
			Identifier: identifier.String(),
			Price:      totalPrice.String(),
			Royalty:    totalRoyalty.String(),
			Amount:     req.FillAmount,
		})
	}

	return &FillResult{
		OrderHash:    orderHash,
		Identifier:   identifier,
		TotalPrice:   totalPrice,
		TotalRoyalty: totalRoyalty,
		Buyer:        buyer,
		Seller:       seller,
	}, nil
}

// Cancel marks the given orders cancelled. The caller must be the maker of
// every order in the batch; cancelling an already-cancelled order is a no-op,
// not an error.
func (e *Engine) Cancel(caller common.Address, orders []*Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	hashes := make([]common.Hash, len(orders))
	for i, order := range orders {
		if order.Maker != caller {
			return ErrNotMaker
		}
		digest, err := e.codec.HashOrder(order.TypedData(e.counters.Counter(order.Maker)))
		if err != nil {
			return fmt.Errorf("hash order: %w", err)
		}
		hashes[i] = common.BytesToHash(digest)
	}

	for i, hash := range hashes {
		status := e.fills.Cancel(hash)
		e.persistStatus(hash, status)
		if e.bus != nil {
			e.bus.Emit(events.Event{
				Type:       events.TypeOrderCancelled,
				OrderHash:  hash.Hex(),
				Maker:      crypto.ChecksumAddress(caller.Bytes()),
				Asset:      crypto.ChecksumAddress(orders[i].Asset.Bytes()),
				Identifier: orders[i].IdentifierOrCriteria.String(),
			})
		}
	}
	return nil
}

// IncrementCounter bumps the caller's counter, bulk-invalidating every order
// previously signed under the old value.
func (e *Engine) IncrementCounter(maker common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	counter := e.counters.Increment(maker)
	if e.store != nil {
		if err := e.store.SaveCounter(maker, counter); err != nil {
			e.log.Errorw("persist_counter_failed", "maker", maker.Hex(), "err", err)
		}
	}
	if e.bus != nil {
		e.bus.Emit(events.Event{
			Type:       events.TypeCounterIncremented,
			Maker:      crypto.ChecksumAddress(maker.Bytes()),
			NewCounter: counter,
		})
	}
	return counter
}

func (e *Engine) persistStatus(hash common.Hash, status OrderStatus) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrderStatus(hash, status); err != nil {
		e.log.Errorw("persist_status_failed", "order_hash", hash.Hex(), "err", err)
	}
}
