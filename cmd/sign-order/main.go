// Command sign-order generates a key pair (or loads one from PRIVATE_KEY),
// signs a sample bid, and prints the JSON fill payload ready to POST to
// /api/v1/fills.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/morrowlabs/royaltylock/pkg/crypto"
)

func main() {
	var signer *crypto.Signer
	var err error

	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		signer, err = crypto.FromPrivateKeyHex(key)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	order := &crypto.OrderData{
		Kind:                 1, // bid
		ItemKind:             1, // unique, plain
		Maker:                signer.Address(),
		Asset:                signer.Address(), // placeholder: set the real asset contract
		IdentifierOrCriteria: big.NewInt(5),
		UnitPrice:            big.NewInt(1_000_000),
		Amount:               big.NewInt(1),
		Salt:                 big.NewInt(time.Now().UnixNano()),
		Expiration:           big.NewInt(time.Now().Add(24 * time.Hour).Unix()),
		Counter:              big.NewInt(0), // must match the maker's on-ledger counter
	}

	codec := crypto.NewOrderCodec(crypto.DefaultDomain())
	signature, err := codec.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signature: 0x%x\n\n", signature)

	payload := map[string]interface{}{
		"order": map[string]interface{}{
			"kind":                   order.Kind,
			"item_kind":              order.ItemKind,
			"maker":                  order.Maker.Hex(),
			"asset":                  order.Asset.Hex(),
			"identifier_or_criteria": order.IdentifierOrCriteria.String(),
			"unit_price":             order.UnitPrice.String(),
			"amount":                 order.Amount.Uint64(),
			"salt":                   order.Salt.String(),
			"expiration":             order.Expiration.Int64(),
		},
		"signature":   fmt.Sprintf("0x%x", signature),
		"taker":       "0x0000000000000000000000000000000000000000",
		"fill_amount": 1,
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Fill payload:")
	fmt.Println(string(out))
}
