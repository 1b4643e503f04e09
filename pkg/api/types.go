package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/morrowlabs/royaltylock/pkg/engine"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
)

// OrderPayload is the wire form of a signed order. Big integers travel as
// decimal strings.
type OrderPayload struct {
	Kind                 uint8  `json:"kind"`
	ItemKind             uint8  `json:"item_kind"`
	Maker                string `json:"maker"`
	Asset                string `json:"asset"`
	IdentifierOrCriteria string `json:"identifier_or_criteria"`
	UnitPrice            string `json:"unit_price"`
	Amount               uint64 `json:"amount"`
	Salt                 string `json:"salt"`
	Expiration           int64  `json:"expiration"`
}

func (p *OrderPayload) ToOrder() (*engine.Order, error) {
	if !common.IsHexAddress(p.Maker) {
		return nil, fmt.Errorf("invalid maker address: %s", p.Maker)
	}
	if !common.IsHexAddress(p.Asset) {
		return nil, fmt.Errorf("invalid asset address: %s", p.Asset)
	}
	identifier, ok := new(big.Int).SetString(p.IdentifierOrCriteria, 10)
	if !ok {
		return nil, fmt.Errorf("invalid identifier_or_criteria: %s", p.IdentifierOrCriteria)
	}
	unitPrice, ok := new(big.Int).SetString(p.UnitPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid unit_price: %s", p.UnitPrice)
	}
	salt, ok := new(big.Int).SetString(p.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("invalid salt: %s", p.Salt)
	}
	return &engine.Order{
		Kind:                 engine.OrderKind(p.Kind),
		ItemKind:             engine.ItemKind(p.ItemKind),
		Maker:                common.HexToAddress(p.Maker),
		Asset:                common.HexToAddress(p.Asset),
		IdentifierOrCriteria: identifier,
		UnitPrice:            unitPrice,
		Amount:               p.Amount,
		Salt:                 salt,
		Expiration:           p.Expiration,
	}, nil
}

// FillPayload is a taker's fill submission.
type FillPayload struct {
	Order      OrderPayload `json:"order"`
	Signature  string       `json:"signature"` // 0x-hex, 64 or 65 bytes
	Taker      string       `json:"taker"`
	FillAmount uint64       `json:"fill_amount"`
	Identifier string       `json:"identifier,omitempty"` // criteria orders only
	Proof      []string     `json:"proof,omitempty"`      // 0x-hex sibling hashes
}

func (p *FillPayload) ToRequest() (*engine.FillRequest, error) {
	order, err := p.Order.ToOrder()
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if !common.IsHexAddress(p.Taker) {
		return nil, fmt.Errorf("invalid taker address: %s", p.Taker)
	}

	req := &engine.FillRequest{
		Order:      order,
		Signature:  sig,
		Taker:      common.HexToAddress(p.Taker),
		FillAmount: p.FillAmount,
	}
	if p.Identifier != "" {
		identifier, ok := new(big.Int).SetString(p.Identifier, 10)
		if !ok {
			return nil, fmt.Errorf("invalid identifier: %s", p.Identifier)
		}
		req.Identifier = identifier
	}
	for _, h := range p.Proof {
		req.CriteriaProof = append(req.CriteriaProof, common.HexToHash(h))
	}
	return req, nil
}

// CancelPayload cancels a batch of the caller's own orders.
type CancelPayload struct {
	Caller string         `json:"caller"`
	Orders []OrderPayload `json:"orders"`
}

// IncrementPayload bumps a maker's counter.
type IncrementPayload struct {
	Maker string `json:"maker"`
}

// UnlockPayload resolves (part of) an escrow lock.
type UnlockPayload struct {
	Caller     string `json:"caller"`
	Owner      string `json:"owner"`
	Asset      string `json:"asset"`
	Identifier string `json:"identifier"`
	Quantity   uint64 `json:"quantity"`
}

// LineDTO is one listing line in a resale authorization request.
type LineDTO struct {
	Kind       uint8  `json:"kind"` // 1 currency, 2 unique, 3 fungible
	Asset      string `json:"asset,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Quantity   uint64 `json:"quantity,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	Amount     string `json:"amount,omitempty"`
}

// ResalePayload asks a vault to authorize an external resale listing.
type ResalePayload struct {
	Owner         string    `json:"owner"`
	Offer         []LineDTO `json:"offer"`
	Consideration []LineDTO `json:"consideration"`

	// optional oracle-attested per-unit floor
	FloorPrice     string `json:"floor_price,omitempty"`
	FloorTimestamp int64  `json:"floor_timestamp,omitempty"`
	FloorSignature string `json:"floor_signature,omitempty"`
	FloorMaxAgeSec int64  `json:"floor_max_age_sec,omitempty"`
}

func (l *LineDTO) toOffer() (escrow.OfferLine, error) {
	identifier, ok := new(big.Int).SetString(l.Identifier, 10)
	if !ok {
		return escrow.OfferLine{}, fmt.Errorf("invalid identifier: %s", l.Identifier)
	}
	return escrow.OfferLine{
		Kind:       escrow.LineKind(l.Kind),
		Asset:      common.HexToAddress(l.Asset),
		Identifier: identifier,
		Quantity:   l.Quantity,
	}, nil
}

func (l *LineDTO) toConsideration() (escrow.ConsiderationLine, error) {
	amount, ok := new(big.Int).SetString(l.Amount, 10)
	if !ok {
		return escrow.ConsiderationLine{}, fmt.Errorf("invalid amount: %s", l.Amount)
	}
	line := escrow.ConsiderationLine{
		Kind:      escrow.LineKind(l.Kind),
		Recipient: common.HexToAddress(l.Recipient),
		Amount:    amount,
	}
	if l.Asset != "" {
		line.Asset = common.HexToAddress(l.Asset)
	}
	if l.Identifier != "" {
		identifier, ok := new(big.Int).SetString(l.Identifier, 10)
		if !ok {
			return escrow.ConsiderationLine{}, fmt.Errorf("invalid identifier: %s", l.Identifier)
		}
		line.Identifier = identifier
	}
	return line, nil
}

func (p *ResalePayload) ToListing() (escrow.Listing, error) {
	var listing escrow.Listing
	for _, l := range p.Offer {
		line, err := l.toOffer()
		if err != nil {
			return escrow.Listing{}, err
		}
		listing.Offer = append(listing.Offer, line)
	}
	for _, l := range p.Consideration {
		line, err := l.toConsideration()
		if err != nil {
			return escrow.Listing{}, err
		}
		listing.Consideration = append(listing.Consideration, line)
	}
	return listing, nil
}

// FillResponse reports a committed fill.
type FillResponse struct {
	OrderHash    string `json:"order_hash"`
	Identifier   string `json:"identifier"`
	TotalPrice   string `json:"total_price"`
	TotalRoyalty string `json:"total_royalty"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
}

// StatusResponse reports an order's fill state.
type StatusResponse struct {
	OrderHash    string `json:"order_hash"`
	Cancelled    bool   `json:"cancelled"`
	FilledAmount uint64 `json:"filled_amount"`
}

// CounterResponse reports a maker's current counter.
type CounterResponse struct {
	Maker   string `json:"maker"`
	Counter uint64 `json:"counter"`
}

// LockResponse reports one escrow lock.
type LockResponse struct {
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	Identifier   string `json:"identifier"`
	Royalty      string `json:"royalty"`
	LockedAmount uint64 `json:"locked_amount"`
	Unique       bool   `json:"unique"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
