package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer manages an ECDSA key pair on the secp256k1 curve.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// (64 hex chars, no 0x prefix).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey)
}

func newSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		address:    crypto.PubkeyToAddress(*publicKey),
	}, nil
}

// Address returns the address derived from the public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex (no 0x prefix). Keep secret.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest. Returns a 65-byte [R || S || V] signature
// with V in {0, 1}.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// ToCompact converts a 65-byte [R || S || V] signature to the 64-byte
// EIP-2098 [R || VS] form, folding the recovery bit into the top bit of S.
func ToCompact(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("invalid recovery id: %d", sig[64])
	}
	out := make([]byte, 64)
	copy(out, sig[:64])
	out[32] |= v << 7
	return out, nil
}

// normalizeSignature accepts the two supported encodings and returns the
// canonical 65-byte [R || S || V] form with V in {0, 1}:
//
//   - 65 bytes: [R || S || V], V in {0, 1} or {27, 28}
//   - 64 bytes: EIP-2098 [R || VS], recovery bit in the top bit of VS
//
// Anything else is rejected outright.
func normalizeSignature(sig []byte) ([]byte, error) {
	switch len(sig) {
	case 65:
		v := sig[64]
		if v >= 27 {
			v -= 27
		}
		if v > 1 {
			return nil, fmt.Errorf("invalid recovery id: %d", sig[64])
		}
		out := make([]byte, 65)
		copy(out, sig[:64])
		out[64] = v
		return out, nil
	case 64:
		out := make([]byte, 65)
		copy(out, sig)
		out[32] &= 0x7f        // strip the recovery bit from S
		out[64] = sig[32] >> 7 // V from the top bit of VS
		return out, nil
	default:
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
}

// RecoverAddress recovers the signer's address from a digest and a signature
// in either supported encoding. Recovery to the zero address is an error.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	sig, err := normalizeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	publicKeyBytes, err := crypto.Ecrecover(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}

	address := crypto.PubkeyToAddress(*publicKey)
	if address == (common.Address{}) {
		return common.Address{}, fmt.Errorf("signature recovered to zero address")
	}
	return address, nil
}
