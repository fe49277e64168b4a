// Package walletauth verifies the request-signature scheme every mutating
// API call must carry (x-identity/x-signature/x-client-version headers,
// §2) and derives the deterministic copayer id from a joining xPubKey.
// The server never holds copayer private keys: every signature it checks
// was produced client-side over the request body.
package walletauth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/mr-tron/base58"
)

// hashMessage mirrors the client-side signing convention: sign
// sha256(sha256(message)), matching Bitcoin's double-SHA256 message digest.
func hashMessage(message string) [32]byte {
	first := sha256.Sum256([]byte(message))
	return sha256.Sum256(first[:])
}

// VerifySignature reports whether sigHex is a valid DER-encoded ECDSA
// signature over message by the key in pubKeyHex (compressed or
// uncompressed SEC1).
func VerifySignature(message, sigHex, pubKeyHex string) (bool, error) {
	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	digest := hashMessage(message)
	return sig.Verify(digest[:], pubKey), nil
}

// VerifyDigestSignature reports whether sigHex is a valid DER-encoded ECDSA
// signature over a pre-computed 32-byte digest — used to check a
// transaction-input signature against a Bitcoin sighash, which is already
// the final double-SHA256 digest and must not be hashed again the way
// VerifySignature hashes a freeform request message.
func VerifyDigestSignature(digest []byte, sigHex, pubKeyHex string) (bool, error) {
	pubKeyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	return sig.Verify(digest, pubKey), nil
}

// Sign produces a DER-encoded ECDSA signature over message with privKey,
// the form VerifySignature checks. No command under cmd/ calls it; tests
// use it to produce join and request signatures.
func Sign(message string, privKey *btcec.PrivateKey) string {
	digest := hashMessage(message)
	sig := ecdsa.Sign(privKey, digest[:])
	return hex.EncodeToString(sig.Serialize())
}

// DeriveCopayerID computes the deterministic copayer id for a joining
// xPubKey: base58(hash160(xPubKey || network)). Two copayers presenting
// the same xPubKey on the same network collide on purpose — re-joining
// with the same key is idempotent, not a new copayer.
func DeriveCopayerID(xPubKey, network string) string {
	h := btcutil.Hash160([]byte(xPubKey + network))
	return base58.Encode(h)
}
