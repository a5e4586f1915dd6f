package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"crypton/crypto"
	"crypton/native/market"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("CRYPTON_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8571"
}

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		requireArgs(args, 2, "generate-key <keystore-file>")
		generateKey(args[1])
	case "address":
		requireArgs(args, 2, "address <keystore-file>")
		key := loadKey(args[1])
		fmt.Println(key.PubKey().Address().String())
	case "sign-listing":
		requireArgs(args, 7, "sign-listing <keystore-file> <owner> <token> <volume> <price> <nonce>")
		signListing(args[1], args[2], args[3], args[4], args[5], args[6])
	case "balance":
		requireArgs(args, 3, "balance <token> <address>")
		call("token_balanceOf", map[string]string{"token": args[1], "address": args[2]})
	case "mint":
		requireArgs(args, 4, "mint <token> <address> <amount>")
		call("token_mint", map[string]string{"token": args[1], "address": args[2], "amount": args[3]})
	case "approve":
		requireArgs(args, 4, "approve <keystore-file> <token> <amount>")
		key := loadKey(args[1])
		call("token_approve", map[string]string{
			"caller": key.PubKey().Address().String(),
			"token":  args[2],
			"amount": args[3],
		})
	case "allowance":
		requireArgs(args, 3, "allowance <token> <owner>")
		call("token_allowance", map[string]string{"token": args[1], "owner": args[2]})
	case "listing":
		requireArgs(args, 2, "listing <token>")
		call("market_getListing", map[string]string{"token": args[1]})
	case "place":
		requireArgs(args, 7, "place <keystore-file> <token> <volume> <price> <nonce> <signature>")
		place(args[1], args[2], args[3], args[4], args[5], args[6])
	case "buy":
		requireArgs(args, 5, "buy <keystore-file> <token> <payment-token> <amount>")
		key := loadKey(args[1])
		call("market_buyTokens", map[string]string{
			"buyer":         key.PubKey().Address().String(),
			"token":         args[2],
			"paymentToken":  args[3],
			"paymentAmount": args[4],
		})
	case "finish":
		requireArgs(args, 3, "finish <keystore-file> <token>")
		key := loadKey(args[1])
		call("market_finishRound", map[string]string{
			"caller": key.PubKey().Address().String(),
			"token":  args[2],
		})
	case "collect":
		requireArgs(args, 3, "collect <keystore-file> <token>")
		key := loadKey(args[1])
		call("market_getCollectedFunds", map[string]string{
			"caller": key.PubKey().Address().String(),
			"token":  args[2],
		})
	case "withdraw-fees":
		call("market_withdrawFees", map[string]string{})
	case "quote":
		requireArgs(args, 5, "quote <direction> <from> <to> <amount>")
		call("oracle_quote", map[string]string{
			"direction": args[1],
			"from":      args[2],
			"to":        args[3],
			"amount":    args[4],
		})
	case "fees":
		call("market_collectedFees", map[string]string{})
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: crypton-cli <command> [args]

Commands:
  generate-key <keystore-file>                                  Create a new key
  address <keystore-file>                                       Print the key's address
  sign-listing <keystore-file> <owner> <token> <volume> <price> <nonce>
                                                                Sign a listing authorization
  balance <token> <address>                                     Query a token balance
  mint <token> <address> <amount>                               Credit token units (admin)
  approve <keystore-file> <token> <amount>                      Approve the escrow vault
  allowance <token> <owner>                                     Query the vault allowance
  listing <token>                                               Show the token's listing
  place <keystore-file> <token> <volume> <price> <nonce> <sig>  Open a listing
  buy <keystore-file> <token> <payment-token> <amount>          Buy from a listing
  finish <keystore-file> <token>                                Close an owned listing
  collect <keystore-file> <token>                               Withdraw listing proceeds
  withdraw-fees                                                 Drain the fee pool (admin)
  quote <direction> <from> <to> <amount>                        Ask the price oracle
  fees                                                          Show the fee pool

Environment: RPC_URL, CRYPTON_RPC_TOKEN, CRYPTON_CLI_PASS`)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "Usage: crypton-cli %s\n", usage)
		os.Exit(1)
	}
}

func keystorePassphrase() string {
	return os.Getenv("CRYPTON_CLI_PASS")
}

func generateKey(path string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fatal(err)
	}
	if err := crypto.SaveToKeystore(path, key, keystorePassphrase()); err != nil {
		fatal(err)
	}
	fmt.Printf("New key saved to %s\nAddress: %s\n", path, key.PubKey().Address().String())
}

func loadKey(path string) *crypto.PrivateKey {
	key, err := crypto.LoadFromKeystore(path, keystorePassphrase())
	if err != nil {
		fatal(err)
	}
	return key
}

func signListing(keyFile, owner, tokenSym, volumeStr, priceStr, nonceStr string) {
	key := loadKey(keyFile)
	ownerAddr, err := crypto.DecodeAddress(owner)
	if err != nil {
		fatal(fmt.Errorf("invalid owner address: %w", err))
	}
	volume, ok := new(big.Int).SetString(volumeStr, 10)
	if !ok {
		fatal(fmt.Errorf("invalid volume %q", volumeStr))
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		fatal(fmt.Errorf("invalid price %q", priceStr))
	}
	nonce, err := strconv.ParseUint(nonceStr, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid nonce %q", nonceStr))
	}
	signature, err := market.SignListingAuthorization(key, market.ListingAuthorization{
		Owner:  ownerAddr.Array(),
		Token:  tokenSym,
		Volume: volume,
		Price:  price,
		Nonce:  nonce,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("0x%s\n", hex.EncodeToString(signature))
}

func place(keyFile, tokenSym, volume, price, nonce, signature string) {
	key := loadKey(keyFile)
	nonceVal, err := strconv.ParseUint(nonce, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("invalid nonce %q", nonce))
	}
	call("market_placeTokens", map[string]interface{}{
		"caller":    key.PubKey().Address().String(),
		"nonce":     nonceVal,
		"price":     price,
		"token":     tokenSym,
		"volume":    volume,
		"signature": signature,
	})
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

func call(method string, params interface{}) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{params},
		ID:      1,
	})
	if err != nil {
		fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		fatal(err)
	}
	if decoded.Error != nil {
		fatal(fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message))
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, decoded.Result, "", "  "); err != nil {
		fmt.Println(string(decoded.Result))
		return
	}
	fmt.Println(pretty.String())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
