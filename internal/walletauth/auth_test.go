package walletauth

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	message := `{"walletId":"w1","method":"POST"}`
	sig := Sign(message, priv)

	ok, err := VerifySignature(message, sig, pubHex)
	if err != nil {
		t.Fatalf("VerifySignature() error = %v", err)
	}
	if !ok {
		t.Error("VerifySignature() = false, want true for a matching signature")
	}
}

func TestVerifySignatureRejectsTamperedMessage(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	sig := Sign("original message", priv)

	ok, err := VerifySignature("tampered message", sig, pubHex)
	if err != nil {
		t.Fatalf("VerifySignature() error = %v", err)
	}
	if ok {
		t.Error("VerifySignature() = true for a tampered message, want false")
	}
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()
	otherPubHex := hex.EncodeToString(other.PubKey().SerializeCompressed())

	sig := Sign("message", priv)

	ok, err := VerifySignature("message", sig, otherPubHex)
	if err != nil {
		t.Fatalf("VerifySignature() error = %v", err)
	}
	if ok {
		t.Error("VerifySignature() = true with the wrong public key, want false")
	}
}

func TestDeriveCopayerIDDeterministicAndNetworkScoped(t *testing.T) {
	id1 := DeriveCopayerID("xpub123", "livenet")
	id2 := DeriveCopayerID("xpub123", "livenet")
	if id1 != id2 {
		t.Errorf("DeriveCopayerID() not deterministic: %q != %q", id1, id2)
	}

	id3 := DeriveCopayerID("xpub123", "testnet")
	if id1 == id3 {
		t.Error("DeriveCopayerID() should differ across networks for the same xPubKey")
	}
}
