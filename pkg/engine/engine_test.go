package engine

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/morrowlabs/royaltylock/pkg/assets"
	"github.com/morrowlabs/royaltylock/pkg/crypto"
	"github.com/morrowlabs/royaltylock/pkg/escrow"
	"github.com/morrowlabs/royaltylock/pkg/registry"
	"github.com/morrowlabs/royaltylock/pkg/royalty"
	"github.com/morrowlabs/royaltylock/pkg/util"
)

var (
	engineAddr = common.HexToAddress("0xE46100000000000000000000000000000000000E")
	assetAddr  = common.HexToAddress("0xA55E700000000000000000000000000000000001")
	creator    = common.HexToAddress("0xC4EA700000000000000000000000000000000001")
	taker      = common.HexToAddress("0x7A1E70000000000000000000000000000000000A")
)

type env struct {
	eng      *Engine
	funds    *assets.FundsLedger
	unique   *assets.UniqueLedger
	fungible *assets.FungibleLedger
	splitter royalty.Splitter
	static   *royalty.StaticRegistry
	vaults   *escrow.Manager
	flags    *registry.FlagRegistry
	maker    *crypto.Signer
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithSplitter(t, nil)
}

// newEnvWithSplitter wires a full in-memory settlement stack. A nil override
// uses a static registry paying 10% of price to creator.
func newEnvWithSplitter(t *testing.T, override royalty.Splitter) *env {
	t.Helper()

	maker, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate maker key: %v", err)
	}

	static := royalty.NewStaticRegistry()
	if err := static.SetEntry(assetAddr, []common.Address{creator}, []int64{1000}); err != nil {
		t.Fatalf("failed to set royalty entry: %v", err)
	}
	var splitter royalty.Splitter = static
	if override != nil {
		splitter = override
	}

	funds := assets.NewFundsLedger()
	unique := assets.NewUniqueLedger()
	fungible := assets.NewFungibleLedger()
	flags := registry.NewFlagRegistry(engineAddr)

	vaults := escrow.NewManager(escrow.ManagerDeps{
		Splitter:   splitter,
		Funds:      funds,
		Unique:     unique,
		Fungible:   fungible,
		EngineAddr: engineAddr,
		MinDiffBps: 9000,
	})

	now := time.Unix(1700000000, 0)
	eng := New(Deps{
		Domain:   crypto.DefaultDomain(),
		Splitter: splitter,
		Vaults:   vaults,
		Funds:    funds,
		Unique:   unique,
		Fungible: fungible,
		Flags:    flags,
		Self:     engineAddr,
		Clock:    util.FixedClock{T: now},
	})

	return &env{
		eng:      eng,
		funds:    funds,
		unique:   unique,
		fungible: fungible,
		splitter: splitter,
		static:   static,
		vaults:   vaults,
		flags:    flags,
		maker:    maker,
		now:      now,
	}
}

func (e *env) order(kind OrderKind, itemKind ItemKind, idOrCriteria *big.Int, unitPrice int64, amount uint64) *Order {
	return &Order{
		Kind:                 kind,
		ItemKind:             itemKind,
		Maker:                e.maker.Address(),
		Asset:                assetAddr,
		IdentifierOrCriteria: idOrCriteria,
		UnitPrice:            big.NewInt(unitPrice),
		Amount:               amount,
		Salt:                 big.NewInt(1),
		Expiration:           e.now.Add(time.Hour).Unix(),
	}
}

func (e *env) sign(t *testing.T, order *Order) []byte {
	t.Helper()
	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	sig, err := codec.SignOrder(e.maker, order.TypedData(e.eng.Counter(order.Maker)))
	if err != nil {
		t.Fatalf("failed to sign order: %v", err)
	}
	return sig
}

func TestFillUniqueBid(t *testing.T) {
	e := newEnv(t)
	buyer := e.maker.Address()
	e.funds.Mint(buyer, big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	result, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1})
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	if result.TotalPrice.Cmp(big.NewInt(100000)) != 0 {
		t.Errorf("price = %s, want 100000", result.TotalPrice)
	}
	if result.TotalRoyalty.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("royalty = %s, want 10000", result.TotalRoyalty)
	}
	if result.Buyer != buyer || result.Seller != taker {
		t.Error("buyer/seller roles assigned incorrectly for a bid")
	}

	// seller receives price minus royalty
	if got := e.funds.BalanceOf(taker); got.Cmp(big.NewInt(90000)) != 0 {
		t.Errorf("seller balance = %s, want 90000", got)
	}
	// buyer's vault holds the withheld royalty and the asset
	vaultAddr := e.vaults.VaultAddress(buyer)
	if got := e.funds.BalanceOf(vaultAddr); got.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("vault balance = %s, want 10000", got)
	}
	owner, _ := e.unique.OwnerOf(assetAddr, big.NewInt(7))
	if owner != vaultAddr {
		t.Errorf("item owner = %s, want vault %s", owner.Hex(), vaultAddr.Hex())
	}

	lock, ok := e.vaults.LockOf(buyer, assetAddr, big.NewInt(7))
	if !ok {
		t.Fatal("no lock recorded")
	}
	if lock.Royalty.Cmp(big.NewInt(10000)) != 0 || lock.LockedAmount != 1 || !lock.Unique {
		t.Errorf("lock = %+v, want {10000 1 true}", lock)
	}

	if st := e.eng.Status(result.OrderHash); st.FilledAmount != 1 {
		t.Errorf("filled = %d, want 1", st.FilledAmount)
	}

	// the order is spent
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrInsufficientAmountAvailable) {
		t.Errorf("err = %v, want ErrInsufficientAmountAvailable", err)
	}
}

func TestFillUniqueListing(t *testing.T) {
	e := newEnv(t)
	seller := e.maker.Address()
	e.unique.Mint(seller, assetAddr, big.NewInt(3))
	e.funds.Mint(taker, big.NewInt(500000))

	order := e.order(Listing, UniquePlain, big.NewInt(3), 200000, 1)
	sig := e.sign(t, order)

	result, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1})
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if result.Buyer != taker || result.Seller != seller {
		t.Error("buyer/seller roles assigned incorrectly for a listing")
	}

	// taker is the buyer: the asset and royalty land in the taker's vault
	vaultAddr := e.vaults.VaultAddress(taker)
	owner, _ := e.unique.OwnerOf(assetAddr, big.NewInt(3))
	if owner != vaultAddr {
		t.Errorf("item owner = %s, want taker's vault %s", owner.Hex(), vaultAddr.Hex())
	}
	if got := e.funds.BalanceOf(seller); got.Cmp(big.NewInt(180000)) != 0 {
		t.Errorf("seller balance = %s, want 180000", got)
	}
	if _, ok := e.vaults.LockOf(taker, assetAddr, big.NewInt(3)); !ok {
		t.Error("no lock recorded in the taker's vault")
	}
}

func TestFillRejectsWrongSigner(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)

	impostor, _ := crypto.GenerateKey()
	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	sig, err := codec.SignOrder(impostor, order.TypedData(0))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestFillRejectsExpiredBeforeSignatureCheck(t *testing.T) {
	e := newEnv(t)
	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	order.Expiration = e.now.Unix() // expires exactly now

	// garbage signature: expiry must win, not signature validation
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: []byte{1, 2, 3}, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrOrderExpired) {
		t.Errorf("err = %v, want ErrOrderExpired", err)
	}
}

func TestCancelBlocksFill(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if err := e.eng.Cancel(e.maker.Address(), []*Order{order}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrOrderCancelled) {
		t.Errorf("err = %v, want ErrOrderCancelled", err)
	}

	// re-cancel is a no-op, not an error
	if err := e.eng.Cancel(e.maker.Address(), []*Order{order}); err != nil {
		t.Errorf("re-cancel failed: %v", err)
	}
}

func TestCancelRequiresMaker(t *testing.T) {
	e := newEnv(t)
	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)

	if err := e.eng.Cancel(taker, []*Order{order}); !errors.Is(err, ErrNotMaker) {
		t.Errorf("err = %v, want ErrNotMaker", err)
	}
}

func TestCounterBumpInvalidatesSignature(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order) // signed under counter 0

	if got := e.eng.IncrementCounter(e.maker.Address()); got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}

	// the digest now embeds counter 1; the old signature recovers elsewhere
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}

	// re-signed under the new counter the same order fills fine
	sig = e.sign(t, order)
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); err != nil {
		t.Errorf("fill after re-sign failed: %v", err)
	}
}

func TestFungiblePartialFills(t *testing.T) {
	e := newEnv(t)
	buyer := e.maker.Address()
	e.funds.Mint(buyer, big.NewInt(10000))
	e.fungible.Mint(taker, assetAddr, big.NewInt(55), 100)

	order := e.order(Bid, FungiblePlain, big.NewInt(55), 100, 10)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 4}); err != nil {
		t.Fatalf("first fill failed: %v", err)
	}
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 6}); err != nil {
		t.Fatalf("second fill failed: %v", err)
	}
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrInsufficientAmountAvailable) {
		t.Errorf("err = %v, want ErrInsufficientAmountAvailable", err)
	}

	// lock accumulated across both fills: royalty 40 + 60, quantity 10
	lock, ok := e.vaults.LockOf(buyer, assetAddr, big.NewInt(55))
	if !ok {
		t.Fatal("no lock recorded")
	}
	if lock.Royalty.Cmp(big.NewInt(100)) != 0 || lock.LockedAmount != 10 {
		t.Errorf("lock = {%s %d}, want {100 10}", lock.Royalty, lock.LockedAmount)
	}

	vaultAddr := e.vaults.VaultAddress(buyer)
	if got := e.fungible.BalanceOf(vaultAddr, assetAddr, big.NewInt(55)); got != 10 {
		t.Errorf("vault custody = %d, want 10", got)
	}
}

func TestUniqueFillAmountMustBeOne(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 2}); !errors.Is(err, ErrInvalidFillAmount) {
		t.Errorf("err = %v, want ErrInvalidFillAmount", err)
	}
}

func TestFillRejectsZeroFungibleAmount(t *testing.T) {
	e := newEnv(t)
	order := e.order(Bid, FungiblePlain, big.NewInt(55), 100, 10)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 0}); !errors.Is(err, ErrInvalidFillAmount) {
		t.Errorf("err = %v, want ErrInvalidFillAmount", err)
	}
}

func TestFlaggedAssetRejected(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))
	if err := e.flags.SetFlagged(engineAddr, assetAddr, true); err != nil {
		t.Fatalf("failed to flag asset: %v", err)
	}

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrAssetFlagged) {
		t.Errorf("err = %v, want ErrAssetFlagged", err)
	}
}

func TestFillRejectsUnderfundedBuyer(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(99999)) // one short
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrTransferFailed) {
		t.Errorf("err = %v, want ErrTransferFailed", err)
	}
	// nothing moved
	if got := e.funds.BalanceOf(taker); got.Sign() != 0 {
		t.Errorf("seller balance = %s after failed fill, want 0", got)
	}
}

func TestFillRejectsSellerWithoutItem(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	// nobody owns item 7

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrTransferFailed) {
		t.Errorf("err = %v, want ErrTransferFailed", err)
	}
}

// greedySplitter reports a royalty above the sale price.
type greedySplitter struct{ recipient common.Address }

func (g greedySplitter) GetSplit(asset common.Address, identifier *big.Int, price *big.Int) ([]common.Address, []*big.Int, error) {
	return []common.Address{g.recipient}, []*big.Int{new(big.Int).Add(price, big.NewInt(1))}, nil
}

func TestFillRejectsRoyaltyAbovePrice(t *testing.T) {
	e := newEnvWithSplitter(t, greedySplitter{recipient: creator})
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(7))

	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)
	sig := e.sign(t, order)

	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrTransferFailed) {
		t.Errorf("err = %v, want ErrTransferFailed", err)
	}
}

func pairHash(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return gethcrypto.Keccak256Hash(a[:], b[:])
	}
	return gethcrypto.Keccak256Hash(b[:], a[:])
}

func TestCriteriaFill(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(1000000))
	e.unique.Mint(taker, assetAddr, big.NewInt(3))

	// criteria set {1, 2, 3, 4}
	leaves := make([]common.Hash, 4)
	for i := range leaves {
		leaves[i] = crypto.HashLeaf(big.NewInt(int64(i + 1)))
	}
	n01 := pairHash(leaves[0], leaves[1])
	n23 := pairHash(leaves[2], leaves[3])
	root := pairHash(n01, n23)

	order := e.order(Bid, UniqueCriteria, new(big.Int).SetBytes(root[:]), 100000, 1)
	sig := e.sign(t, order)

	// plain Fill must refuse criteria kinds
	if _, err := e.eng.Fill(&FillRequest{Order: order, Signature: sig, Taker: taker, FillAmount: 1}); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("err = %v, want ErrKindMismatch", err)
	}

	// wrong proof
	if _, err := e.eng.FillWithCriteria(&FillRequest{
		Order: order, Signature: sig, Taker: taker, FillAmount: 1,
		Identifier: big.NewInt(3), CriteriaProof: []common.Hash{leaves[0], n23},
	}); !errors.Is(err, ErrInvalidCriteriaProof) {
		t.Errorf("err = %v, want ErrInvalidCriteriaProof", err)
	}

	// missing identifier
	if _, err := e.eng.FillWithCriteria(&FillRequest{
		Order: order, Signature: sig, Taker: taker, FillAmount: 1,
	}); !errors.Is(err, ErrInvalidCriteriaProof) {
		t.Errorf("err = %v, want ErrInvalidCriteriaProof", err)
	}

	// valid proof for identifier 3
	result, err := e.eng.FillWithCriteria(&FillRequest{
		Order: order, Signature: sig, Taker: taker, FillAmount: 1,
		Identifier: big.NewInt(3), CriteriaProof: []common.Hash{leaves[3], n01},
	})
	if err != nil {
		t.Fatalf("criteria fill failed: %v", err)
	}
	if result.Identifier.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("resolved identifier = %s, want 3", result.Identifier)
	}
}

func TestWildcardCriteriaFill(t *testing.T) {
	e := newEnv(t)
	e.funds.Mint(e.maker.Address(), big.NewInt(10000))
	e.fungible.Mint(taker, assetAddr, big.NewInt(77), 20)

	// zero root: any identifier, no proof
	order := e.order(Bid, FungibleCriteria, big.NewInt(0), 100, 10)
	sig := e.sign(t, order)

	if _, err := e.eng.FillWithCriteria(&FillRequest{
		Order: order, Signature: sig, Taker: taker, FillAmount: 5,
		Identifier: big.NewInt(77),
	}); err != nil {
		t.Fatalf("wildcard fill failed: %v", err)
	}

	// FillWithCriteria must refuse plain kinds
	plain := e.order(Bid, FungiblePlain, big.NewInt(77), 100, 10)
	plainSig := e.sign(t, plain)
	if _, err := e.eng.FillWithCriteria(&FillRequest{
		Order: plain, Signature: plainSig, Taker: taker, FillAmount: 5, Identifier: big.NewInt(77),
	}); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("err = %v, want ErrKindMismatch", err)
	}
}

func TestOrderHashMatchesCodec(t *testing.T) {
	e := newEnv(t)
	order := e.order(Bid, UniquePlain, big.NewInt(7), 100000, 1)

	h1, err := e.eng.OrderHash(order)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}

	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	digest, _ := codec.HashOrder(order.TypedData(0))
	if h1 != common.BytesToHash(digest) {
		t.Error("engine hash disagrees with codec hash")
	}
}
