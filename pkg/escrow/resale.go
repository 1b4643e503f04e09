package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/events"
)

// LineKind distinguishes listing line items.
type LineKind uint8

const (
	CurrencyLine LineKind = iota + 1
	UniqueLine
	FungibleLine
)

// OfferLine is an asset a resale listing offers out of the vault.
type OfferLine struct {
	Kind       LineKind
	Asset      common.Address
	Identifier *big.Int
	Quantity   uint64
}

// ConsiderationLine is a payment (or, in an invalid listing, an asset) owed
// to a recipient when the listing fills.
type ConsiderationLine struct {
	Kind       LineKind
	Asset      common.Address
	Identifier *big.Int
	Recipient  common.Address
	Amount     *big.Int
}

// Listing is an external resale listing the vault is asked to co-sign.
type Listing struct {
	Offer         []OfferLine
	Consideration []ConsiderationLine
}

// AuthorizeResale verifies a resale listing of a locked item before the vault
// co-signs it. The listing must:
//
//  1. offer exactly one asset line, matching an item this vault holds under
//     a royalty lock;
//  2. carry only currency consideration lines;
//  3. end with the current royalty split for (asset, identifier, totalPrice):
//     the trailing len(split) lines must pair with the split entries strictly
//     in order, matching both recipient and amount (the splitter is re-queried
//     here, never cached from fill time);
//  4. fetch a total price above the anti-evasion floor
//     totalPrice >= lockedRoyaltyPerUnit × quantity × minDiffBps / 10000, so
//     the owner cannot dodge the locked royalty with a near-zero private sale;
//  5. if floorPrice is non-nil (an oracle-attested per-unit floor), fetch at
//     least floorPrice × quantity.
//
// Any mismatch fails with ErrListingIntegrity and nothing is authorized.
// On success the quantity is recorded as approved for release; once the
// resale completes, the moved-out portion of the lock resolves through the
// refund path on unlock.
//
// AuthorizeResale sits at the marketplace trust boundary: authenticating that
// the request really comes from the owner is the calling surface's job (the
// API layer, or the marketplace adapter acting for the owner). The vault
// verifies the listing's integrity, not the caller's identity.
func (m *Manager) AuthorizeResale(owner common.Address, listing Listing, floorPrice *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vaults[owner]
	if !ok {
		return ErrNoLock
	}

	if len(listing.Offer) != 1 {
		return fmt.Errorf("%w: expected exactly one offer line, got %d", ErrListingIntegrity, len(listing.Offer))
	}
	offer := listing.Offer[0]
	key := assets.KeyOf(offer.Asset, offer.Identifier)
	lock, ok := v.locks[key]
	if !ok {
		return ErrNoLock
	}

	if lock.Unique {
		if offer.Kind != UniqueLine || offer.Quantity != 1 {
			return fmt.Errorf("%w: offer line does not match the locked unique item", ErrListingIntegrity)
		}
		holder, _ := m.unique.OwnerOf(offer.Asset, offer.Identifier)
		if holder != v.address {
			return fmt.Errorf("%w: item is not held in escrow", ErrListingIntegrity)
		}
	} else {
		if offer.Kind != FungibleLine || offer.Quantity == 0 {
			return fmt.Errorf("%w: offer line does not match the locked fungible item", ErrListingIntegrity)
		}
		custody := m.fungible.BalanceOf(v.address, offer.Asset, offer.Identifier)
		if offer.Quantity > custody {
			return fmt.Errorf("%w: offer quantity %d exceeds custody %d", ErrListingIntegrity, offer.Quantity, custody)
		}
	}

	totalPrice := new(big.Int)
	for i, line := range listing.Consideration {
		if line.Kind != CurrencyLine {
			return fmt.Errorf("%w: consideration line %d is not a currency payment", ErrListingIntegrity, i)
		}
		if line.Amount == nil || line.Amount.Sign() < 0 {
			return fmt.Errorf("%w: consideration line %d has an invalid amount", ErrListingIntegrity, i)
		}
		totalPrice.Add(totalPrice, line.Amount)
	}

	recipients, amounts, err := m.splitter.GetSplit(offer.Asset, offer.Identifier, totalPrice)
	if err != nil {
		return fmt.Errorf("royalty lookup: %w", err)
	}
	if len(recipients) > len(listing.Consideration) {
		return fmt.Errorf("%w: listing has %d consideration lines, royalty split needs %d",
			ErrListingIntegrity, len(listing.Consideration), len(recipients))
	}
	// the royalty split must appear as the strict, in-order suffix of the
	// consideration list; this pairing rule is a hard precondition
	tail := listing.Consideration[len(listing.Consideration)-len(recipients):]
	for i := range recipients {
		if tail[i].Recipient != recipients[i] || tail[i].Amount.Cmp(amounts[i]) != 0 {
			return fmt.Errorf("%w: consideration suffix entry %d does not match the royalty split", ErrListingIntegrity, i)
		}
	}

	// anti-evasion floor: totalPrice × lockedAmount × 10000 >= royalty × q × minDiffBps
	lhs := new(big.Int).Mul(totalPrice, new(big.Int).SetUint64(lock.LockedAmount))
	lhs.Mul(lhs, big.NewInt(10000))
	rhs := new(big.Int).Mul(lock.Royalty, new(big.Int).SetUint64(offer.Quantity))
	rhs.Mul(rhs, big.NewInt(m.minDiffBps))
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf("%w: total price %s is below the anti-evasion floor", ErrListingIntegrity, totalPrice.String())
	}

	if floorPrice != nil {
		floor := new(big.Int).Mul(floorPrice, new(big.Int).SetUint64(offer.Quantity))
		if totalPrice.Cmp(floor) < 0 {
			return fmt.Errorf("%w: total price %s is below the oracle floor %s", ErrListingIntegrity, totalPrice.String(), floor.String())
		}
	}

	v.approved[key] += offer.Quantity

	if m.bus != nil {
		m.bus.Emit(events.Event{
			Type:       events.TypeResaleAuthorized,
			Owner:      crypto.ChecksumAddress(owner.Bytes()),
			Asset:      crypto.ChecksumAddress(offer.Asset.Bytes()),
			Identifier: offer.Identifier.String(),
			Price:      totalPrice.String(),
			Amount:     offer.Quantity,
		})
	}
	return nil
}

// CompleteResale releases a previously authorized quantity out of the vault
// to the resale buyer. The lock record is deliberately left in place: custody
// drops below the locked amount, which is exactly what routes the later
// unlock through the refund path.
//
// The external marketplace settles the listing's consideration, including the
// royalty suffix verified at authorization time; this method only gates
// release against the approved quantity and must be reachable solely through
// trusted infrastructure (it is not exposed over the public API).
func (m *Manager) CompleteResale(owner common.Address, asset common.Address, identifier *big.Int, quantity uint64, to common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vaults[owner]
	if !ok {
		return ErrNoLock
	}
	key := assets.KeyOf(asset, identifier)
	if v.approved[key] < quantity {
		return ErrNotApproved
	}
	lock, ok := v.locks[key]
	if !ok {
		return ErrNoLock
	}

	if lock.Unique {
		if quantity != 1 {
			return ErrNotApproved
		}
		if err := m.unique.Transfer(m.engineAddr, v.address, to, asset, identifier); err != nil {
			return err
		}
	} else {
		if err := m.fungible.Transfer(m.engineAddr, v.address, to, asset, identifier, quantity); err != nil {
			return err
		}
	}
	v.approved[key] -= quantity
	return nil
}
