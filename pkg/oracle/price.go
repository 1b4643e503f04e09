// Package oracle validates externally signed price attestations. The engine
// treats the attested price as an opaque floor input; all trust lives in the
// oracle signature and the embedded timestamp.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/util"
)

var (
	ErrBadAttestation   = errors.New("invalid price attestation")
	ErrStaleAttestation = errors.New("price attestation exceeds max age")
)

// Attestation is a signed price message for one item.
type Attestation struct {
	Asset      common.Address
	Identifier *big.Int
	Price      *big.Int
	Timestamp  int64 // unix seconds
	Signature  []byte
}

// Digest is the message the oracle signs: a domain prefix plus the packed
// asset, identifier, price, and timestamp.
func (a *Attestation) Digest() []byte {
	return gethcrypto.Keccak256(
		[]byte("royaltylock/price/v1"),
		a.Asset.Bytes(),
		common.BigToHash(a.Identifier).Bytes(),
		common.BigToHash(a.Price).Bytes(),
		common.BigToHash(big.NewInt(a.Timestamp)).Bytes(),
	)
}

// Verifier checks attestations against one configured oracle identity.
type Verifier struct {
	oracle common.Address
	clock  util.Clock
}

func NewVerifier(oracle common.Address, clock util.Clock) *Verifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Verifier{oracle: oracle, clock: clock}
}

// VerifyPrice returns the attested price if the signature recovers to the
// configured oracle and the timestamp is within maxAge of now.
func (v *Verifier) VerifyPrice(att *Attestation, maxAge time.Duration) (*big.Int, error) {
	if att.Price == nil || att.Price.Sign() < 0 {
		return nil, ErrBadAttestation
	}

	now := v.clock.Now().Unix()
	age := now - att.Timestamp
	if age < 0 || time.Duration(age)*time.Second > maxAge {
		return nil, ErrStaleAttestation
	}

	signer, err := crypto.RecoverAddress(att.Digest(), att.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAttestation, err)
	}
	if signer != v.oracle {
		return nil, ErrBadAttestation
	}
	return new(big.Int).Set(att.Price), nil
}
