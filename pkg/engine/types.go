package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/morrowlabs/royaltylock/pkg/crypto"
)

// OrderKind says which side the maker signed.
type OrderKind uint8

const (
	Bid     OrderKind = 1 // maker buys: pays funds, receives the asset into escrow
	Listing OrderKind = 2 // maker sells: taker pays, taker's vault takes custody
)

// ItemKind is the tagged union over {unique, fungible} × {plain, criteria}.
type ItemKind uint8

const (
	UniquePlain ItemKind = 1 + iota
	UniqueCriteria
	FungiblePlain
	FungibleCriteria
)

func (k ItemKind) Unique() bool {
	return k == UniquePlain || k == UniqueCriteria
}

func (k ItemKind) Criteria() bool {
	return k == UniqueCriteria || k == FungibleCriteria
}

// Order is a maker-signed intent to trade. It is immutable once signed and
// never stored on the ledger; all bookkeeping keys off its canonical hash.
type Order struct {
	Kind     OrderKind
	ItemKind ItemKind
	Maker    common.Address
	Asset    common.Address
	// Token identifier for plain orders; Merkle root over the accepted
	// identifier set for criteria orders (zero root = wildcard).
	IdentifierOrCriteria *big.Int
	UnitPrice            *big.Int
	Amount               uint64
	Salt                 *big.Int
	Expiration           int64 // unix seconds
}

// TypedData renders the order for canonical hashing with the maker's current
// counter value.
func (o *Order) TypedData(counter uint64) *crypto.OrderData {
	return &crypto.OrderData{
		Kind:                 uint8(o.Kind),
		ItemKind:             uint8(o.ItemKind),
		Maker:                o.Maker,
		Asset:                o.Asset,
		IdentifierOrCriteria: o.IdentifierOrCriteria,
		UnitPrice:            o.UnitPrice,
		Amount:               new(big.Int).SetUint64(o.Amount),
		Salt:                 o.Salt,
		Expiration:           big.NewInt(o.Expiration),
		Counter:              new(big.Int).SetUint64(counter),
	}
}

// OrderStatus is the per-order fill state, created lazily on first cancel or
// fill. FilledAmount never exceeds the order amount; Cancelled never clears.
type OrderStatus struct {
	Cancelled    bool   `json:"cancelled"`
	FilledAmount uint64 `json:"filled_amount"`
}

// FillRequest is a taker's request to settle a signed order.
type FillRequest struct {
	Order     *Order
	Signature []byte
	Taker     common.Address
	// FillAmount must be exactly 1 for unique items.
	FillAmount uint64
	// Identifier is the concrete token the taker resolved a criteria order
	// to; ignored for plain orders.
	Identifier    *big.Int
	CriteriaProof []common.Hash
}

// FillResult reports a committed fill.
type FillResult struct {
	OrderHash    common.Hash
	Identifier   *big.Int
	TotalPrice   *big.Int
	TotalRoyalty *big.Int
	Buyer        common.Address
	Seller       common.Address
}

// StatusStore persists order status and maker counters. Implemented by the
// pebble store; nil disables persistence.
type StatusStore interface {
	SaveOrderStatus(hash common.Hash, status OrderStatus) error
	SaveCounter(maker common.Address, counter uint64) error
}
