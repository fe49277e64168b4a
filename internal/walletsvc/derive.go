package walletsvc

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// networkParams mirrors the teacher's wallet.NetworkParams, generalized to
// this service's livenet/testnet naming.
func networkParams(network models.Network) *chaincfg.Params {
	if network == models.NetworkTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// deriveChildPubKey walks an extended public key through a non-hardened
// derivation path, returning the resulting compressed public key. Used to
// derive a copayer's per-address public key from its xPubKey and the fixed
// REQUEST_KEY_AUTH signing key addAccess chains against.
func deriveChildPubKey(xPubKey string, path []uint32) (*btcec.PublicKey, error) {
	key, err := hdkeychain.NewKeyFromString(xPubKey)
	if err != nil {
		return nil, fmt.Errorf("parse extended public key: %w", err)
	}
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive path component %d: %w", idx, err)
		}
	}
	return key.ECPubKey()
}

// requestKeyAuthPath is RequestKeyAuthPath ("m/1/0") as derivation indices.
var requestKeyAuthPath = []uint32{1, 0}

// requestKeyAuthPubKey derives the fixed key a copayer signs addAccess
// requests with, chaining back to its xPubKey through REQUEST_KEY_AUTH (§4.2).
func requestKeyAuthPubKey(xPubKey string) (*btcec.PublicKey, error) {
	return deriveChildPubKey(xPubKey, requestKeyAuthPath)
}

// chainIndex maps a (isChange) flag to BIP44/BIP45's change-level path component.
func chainIndex(isChange bool) uint32 {
	if isChange {
		return 1
	}
	return 0
}

// derivedKey pairs a copayer with the public key it contributes at a given
// address index, kept together so BuildAddress can report which copayer
// failed derivation.
type derivedKey struct {
	copayerID string
	pubKey    *btcec.PublicKey
}

// deriveAddressKeys returns, per copayer in join order, the public key
// controlling the address at (isChange, index).
//
// Path is copayerIndex/chain/index relative to each copayer's own xPubKey:
// BIP45's purpose/cosigner-index levels are consumed client-side before the
// xPubKey is handed to the server, so threading copayerIndex into the
// chain/index suffix here is what keeps every copayer's contribution to a
// shared redeem script distinct — grounded on copay-core's per-copayer
// public-derivation scheme; the data model only specifies "joint
// public-key ring at addressManager.nextIndex", not the path shape.
func deriveAddressKeys(w *models.Wallet, isChange bool, index uint32) ([]derivedKey, error) {
	out := make([]derivedKey, 0, len(w.Copayers))
	for _, c := range w.Copayers {
		pk, err := deriveChildPubKey(c.XPubKey, []uint32{uint32(c.CopayerIndex), chainIndex(isChange), index})
		if err != nil {
			return nil, fmt.Errorf("derive address key for copayer %s: %w", c.ID, err)
		}
		out = append(out, derivedKey{copayerID: c.ID, pubKey: pk})
	}
	return out, nil
}

// sortedAddressPubKeys converts derived keys to btcutil.AddressPubKey,
// sorted lexicographically by compressed serialization (BIP67-style) so
// every copayer computes the same redeem script regardless of join order.
func sortedAddressPubKeys(keys []derivedKey, net *chaincfg.Params) ([]*btcutil.AddressPubKey, error) {
	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = k.pubKey.SerializeCompressed()
	}
	sort.Slice(raw, func(i, j int) bool { return bytes.Compare(raw[i], raw[j]) < 0 })

	out := make([]*btcutil.AddressPubKey, len(raw))
	for i, b := range raw {
		addrPK, err := btcutil.NewAddressPubKey(b, net)
		if err != nil {
			return nil, fmt.Errorf("build address pubkey: %w", err)
		}
		out[i] = addrPK
	}
	return out, nil
}

// DeriveCopayerAddressPubKey returns copayer c's contribution to the
// address at (isChange, index) as a compressed-hex public key, using the
// same copayerIndex/chain/index path BuildAddress derives every copayer's
// key from. Exported for internal/txproposal, which must identify which
// entry of an input's stored (sorted) public-key list a given copayer's
// signature corresponds to when assembling a multisig scriptSig.
func DeriveCopayerAddressPubKey(c models.Copayer, isChange bool, index uint32) (string, error) {
	pk, err := deriveChildPubKey(c.XPubKey, []uint32{uint32(c.CopayerIndex), chainIndex(isChange), index})
	if err != nil {
		return "", fmt.Errorf("derive address key for copayer %s: %w", c.ID, err)
	}
	return fmt.Sprintf("%x", pk.SerializeCompressed()), nil
}

// BuildAddress derives the address at (isChange, index) for wallet w,
// dispatching on AddressType: P2SH builds an m-of-n OP_CHECKMULTISIG redeem
// script over every copayer's key (BIP45 multisig); P2PKH derives a single
// hash160 address from the lone copayer's key (BIP44 single-sig) —
// generalized from the teacher's single-key DeriveBTCAddress
// (internal/wallet/btc.go), which never modeled a cosigner set.
func BuildAddress(w *models.Wallet, isChange bool, index uint32) (*models.Address, error) {
	net := networkParams(w.Network)
	keys, err := deriveAddressKeys(w, isChange, index)
	if err != nil {
		return nil, err
	}

	// Stored in the same BIP67-sorted order the redeem script is built
	// from, so a later scriptSig assembly (internal/txproposal) can zip
	// collected signatures against this list without re-deriving keys.
	addrPubKeys, err := sortedAddressPubKeys(keys, net)
	if err != nil {
		return nil, err
	}
	pubKeyHexes := make([]string, len(addrPubKeys))
	for i, pk := range addrPubKeys {
		pubKeyHexes[i] = fmt.Sprintf("%x", pk.PubKey().SerializeCompressed())
	}

	var addr btcutil.Address
	switch w.AddressType {
	case models.AddressP2SH:
		redeemScript, err := txscript.MultiSigScript(addrPubKeys, w.M)
		if err != nil {
			return nil, fmt.Errorf("build multisig redeem script: %w", err)
		}
		addr, err = btcutil.NewAddressScriptHash(redeemScript, net)
		if err != nil {
			return nil, fmt.Errorf("build P2SH address: %w", err)
		}
	default: // models.AddressP2PKH
		if len(keys) != 1 {
			return nil, fmt.Errorf("P2PKH address requires exactly one copayer key, got %d", len(keys))
		}
		pkHash := btcutil.Hash160(keys[0].pubKey.SerializeCompressed())
		a, err := btcutil.NewAddressPubKeyHash(pkHash, net)
		if err != nil {
			return nil, fmt.Errorf("build P2PKH address: %w", err)
		}
		addr = a
	}

	return &models.Address{
		Address:    addr.EncodeAddress(),
		WalletID:   w.ID,
		Path:       fmt.Sprintf("m/%d/%d", chainIndex(isChange), index),
		PublicKeys: pubKeyHexes,
		IsChange:   isChange,
		Network:    w.Network,
	}, nil
}
