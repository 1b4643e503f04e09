package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for signed orders. It binds every
// signature to one network and one engine deployment, so an order signed for
// chain A / engine X never verifies on chain B / engine Y.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// OrderData is the typed-data shape of a signed order. The Counter field is
// not chosen by the maker at fill time: the codec always hashes with the
// maker's current counter, which is what makes counter bumps invalidate every
// signature issued under a lower value.
type OrderData struct {
	Kind                 uint8 // 1 = bid, 2 = listing
	ItemKind             uint8 // see engine.ItemKind
	Maker                common.Address
	Asset                common.Address
	IdentifierOrCriteria *big.Int // token id, or Merkle root for criteria orders
	UnitPrice            *big.Int
	Amount               *big.Int
	Salt                 *big.Int
	Expiration           *big.Int // unix seconds
	Counter              *big.Int
}

// OrderCodec computes canonical, domain-separated order digests.
type OrderCodec struct {
	domain EIP712Domain
}

func NewOrderCodec(domain EIP712Domain) *OrderCodec {
	return &OrderCodec{domain: domain}
}

// DefaultDomain returns the RoyaltyLock signing domain for local development.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "RoyaltyLock",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "kind", Type: "uint8"},
		{Name: "itemKind", Type: "uint8"},
		{Name: "maker", Type: "address"},
		{Name: "asset", Type: "address"},
		{Name: "identifierOrCriteria", Type: "uint256"},
		{Name: "unitPrice", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
		{Name: "expiration", Type: "uint256"},
		{Name: "counter", Type: "uint256"},
	},
}

// HashOrder returns the 32-byte digest the maker signs:
// keccak256("\x19\x01" || domainSeparator || structHash(order)).
func (c *OrderCodec) HashOrder(order *OrderData) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              c.domain.Name,
			Version:           c.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(c.domain.ChainID),
			VerifyingContract: c.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":                 fmt.Sprintf("%d", order.Kind),
			"itemKind":             fmt.Sprintf("%d", order.ItemKind),
			"maker":                order.Maker.Hex(),
			"asset":                order.Asset.Hex(),
			"identifierOrCriteria": order.IdentifierOrCriteria.String(),
			"unitPrice":            order.UnitPrice.String(),
			"amount":               order.Amount.String(),
			"salt":                 order.Salt.String(),
			"expiration":           order.Expiration.String(),
			"counter":              order.Counter.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// SignOrder hashes and signs an order with the given key.
func (c *OrderCodec) SignOrder(signer *Signer, order *OrderData) ([]byte, error) {
	hash, err := c.HashOrder(order)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return sig, nil
}
