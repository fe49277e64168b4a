// Command walletd-secret encodes and decodes the CLI wallet-secret string
// (§6): "<walletId>:<walletPrivKeyWIF>:<networkChar>", networkChar ∈ {L, T}.
// It lets an operator bootstrap a new wallet's pubKey offline, and recover
// the walletId/network/pubKey from a secret string a copayer was handed,
// without round-tripping through the HTTP API — the productionized
// counterpart to the teacher's cmd/verify scratch utility.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "encode":
		if err := runEncode(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "decode":
		if err := runDecode(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  walletd-secret encode <livenet|testnet> [walletId]   generate a new wallet secret
  walletd-secret decode <secret>                        decode a wallet secret string
`)
}

func runEncode(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("network argument required")
	}
	network := args[0]
	net, char, err := networkFor(network)
	if err != nil {
		return err
	}

	walletID := uuid.NewString()
	if len(args) > 1 {
		walletID = args[1]
	}

	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}

	wif, err := btcutil.NewWIF(privKey, net, true)
	if err != nil {
		return fmt.Errorf("encode WIF: %w", err)
	}

	secret := fmt.Sprintf("%s:%s:%s", walletID, wif.String(), char)
	pubKeyHex := hex.EncodeToString(privKey.PubKey().SerializeCompressed())

	fmt.Println("walletId:", walletID)
	fmt.Println("network: ", network)
	fmt.Println("pubKey:  ", pubKeyHex, "(pass this as createWallet's pubKey)")
	fmt.Println("secret:  ", secret)
	return nil
}

func runDecode(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("secret argument required")
	}

	parts := strings.SplitN(args[0], ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("malformed secret: expected <walletId>:<walletPrivKeyWIF>:<networkChar>")
	}
	walletID, wifStr, char := parts[0], parts[1], parts[2]

	net, network, err := networkForChar(char)
	if err != nil {
		return err
	}

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return fmt.Errorf("decode WIF: %w", err)
	}
	if !wif.IsForNet(net) {
		return fmt.Errorf("WIF does not match network %q", network)
	}

	pubKeyHex := hex.EncodeToString(wif.PrivKey.PubKey().SerializeCompressed())

	fmt.Println("walletId:", walletID)
	fmt.Println("network: ", network)
	fmt.Println("pubKey:  ", pubKeyHex)
	return nil
}

func networkFor(network string) (*chaincfg.Params, string, error) {
	switch network {
	case "livenet", "mainnet":
		return &chaincfg.MainNetParams, "L", nil
	case "testnet":
		return &chaincfg.TestNet3Params, "T", nil
	default:
		return nil, "", fmt.Errorf("unknown network %q: must be livenet or testnet", network)
	}
}

func networkForChar(char string) (*chaincfg.Params, string, error) {
	switch char {
	case "L":
		return &chaincfg.MainNetParams, "livenet", nil
	case "T":
		return &chaincfg.TestNet3Params, "testnet", nil
	default:
		return nil, "", fmt.Errorf("unknown network char %q: must be L or T", char)
	}
}
