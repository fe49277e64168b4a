package txproposal

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

// Bitcoin transaction construction and signing for this wallet's two
// address types. The teacher's internal/tx/btc_tx.go only ever builds and
// signs a single-signature, native-SegWit P2WPKH consolidation — every
// function here is that shape generalized to legacy (pre-SegWit) P2PKH
// and to P2SH m-of-n OP_CHECKMULTISIG, since a jointly-owned wallet's
// redeem script must be assembled server-side from signatures collected
// across several signTx calls rather than produced by one local private
// key.

func networkParams(network models.Network) *chaincfg.Params {
	if network == models.NetworkTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// buildUnsignedTx assembles the wire.MsgTx a proposal's inputs/outputs
// describe, in stored order. v3's OutputOrder reshuffle only affects the
// bytes a copayer signs (proposal.go's SigningPayload) — the broadcast
// transaction's actual output order matches allocation order so the
// change output index a client computed at createTx time stays valid.
func buildUnsignedTx(p *models.TxProposal) (*wire.MsgTx, error) {
	net := networkParams(p.Network)
	msgTx := wire.NewMsgTx(wire.TxVersion)

	for _, in := range p.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, fmt.Errorf("parse input txid %q: %w", in.TxID, err)
		}
		msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}

	for _, out := range p.Outputs {
		script, err := payToAddressScript(out.ToAddress, net)
		if err != nil {
			return nil, fmt.Errorf("build output script for %q: %w", out.ToAddress, err)
		}
		msgTx.AddTxOut(wire.NewTxOut(out.Amount, script))
	}

	if p.ChangeAddress != nil {
		changeAmount := inputTotal(p.Inputs) - outputTotal(p.Outputs) - p.Fee
		if changeAmount > 0 {
			script, err := payToAddressScript(p.ChangeAddress.Address, net)
			if err != nil {
				return nil, fmt.Errorf("build change output script: %w", err)
			}
			msgTx.AddTxOut(wire.NewTxOut(changeAmount, script))
		}
	}

	return msgTx, nil
}

func payToAddressScript(address string, net *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, net)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	return txscript.PayToAddrScript(addr)
}

func inputTotal(inputs []models.Input) int64 {
	var sum int64
	for _, in := range inputs {
		sum += in.Satoshis
	}
	return sum
}

func outputTotal(outputs []models.Output) int64 {
	var sum int64
	for _, out := range outputs {
		sum += out.Amount
	}
	return sum
}

// redeemScriptFor reconstructs the P2SH m-of-n redeem script from an
// input's stored (BIP67-sorted) public keys — the same keys
// internal/walletsvc.BuildAddress hashed into the address, so the script
// hashes back to that address's scriptPubKey.
func redeemScriptFor(in models.Input, m int, net *chaincfg.Params) ([]byte, error) {
	addrPubKeys := make([]*btcutil.AddressPubKey, len(in.PublicKeys))
	for i, hexKey := range in.PublicKeys {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode input public key %d: %w", i, err)
		}
		addrPK, err := btcutil.NewAddressPubKey(raw, net)
		if err != nil {
			return nil, fmt.Errorf("build address pubkey %d: %w", i, err)
		}
		addrPubKeys[i] = addrPK
	}
	return txscript.MultiSigScript(addrPubKeys, m)
}

// sigHashForInput computes the legacy (pre-SegWit) sighash digest for one
// input against scriptCode (the redeem script for P2SH, the pkScript
// itself for P2PKH). This is the final digest a signature is produced
// over directly — unlike walletauth.VerifySignature's free-form request
// messages, it must not be hashed again before verifying.
func sigHashForInput(tx *wire.MsgTx, inputIndex int, scriptCode []byte) ([]byte, error) {
	return txscript.CalcSignatureHash(scriptCode, txscript.SigHashAll, tx, inputIndex)
}

// assembleMultisigScriptSig builds the final scriptSig for one P2SH
// multisig input: the OP_CHECKMULTISIG off-by-one OP_0, each collected
// signature in redeem-script pubkey order, then the redeem script itself.
func assembleMultisigScriptSig(sigs [][]byte, redeemScript []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	for _, sig := range sigs {
		builder.AddData(sig)
	}
	builder.AddData(redeemScript)
	return builder.Script()
}

// assembleP2PKHScriptSig builds a single-signature scriptSig: the
// signature then the signer's public key.
func assembleP2PKHScriptSig(sig []byte, pubKey []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(sig)
	builder.AddData(pubKey)
	return builder.Script()
}

// parsePath splits a derivation path of the form "m/chain/index" into its
// chain flag and index, as stored on models.Address/Input/UTXO by
// internal/walletsvc.BuildAddress.
func parsePath(path string) (isChange bool, index uint32, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] != "m" {
		return false, 0, fmt.Errorf("malformed derivation path %q", path)
	}
	chain, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return false, 0, fmt.Errorf("parse chain component of path %q: %w", path, err)
	}
	idx, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return false, 0, fmt.Errorf("parse index component of path %q: %w", path, err)
	}
	return chain == 1, uint32(idx), nil
}

// copayerPubKeyIndex finds where copayer c's contribution to this input's
// address sits within the input's stored (sorted) public-key list, by
// re-deriving it the same way BuildAddress did.
func copayerPubKeyIndex(in models.Input, c models.Copayer) (int, error) {
	isChange, index, err := parsePath(in.Path)
	if err != nil {
		return 0, err
	}
	pubKeyHex, err := walletsvc.DeriveCopayerAddressPubKey(c, isChange, index)
	if err != nil {
		return 0, fmt.Errorf("derive copayer %s's key for input %s:%d: %w", c.ID, in.TxID, in.Vout, err)
	}
	for i, k := range in.PublicKeys {
		if k == pubKeyHex {
			return i, nil
		}
	}
	return 0, fmt.Errorf("copayer %s's key not found among input %s:%d's public keys", c.ID, in.TxID, in.Vout)
}

// orderSignaturesForInput picks, from a proposal's accept actions, the
// signature each copayer contributed for this input and orders them to
// match the redeem script's pubkey order — OP_CHECKMULTISIG requires
// signatures in the same relative order as their corresponding pubkeys
// appear in the script, though not every pubkey need have signed.
func orderSignaturesForInput(p *models.TxProposal, w *models.Wallet, inputIndex int, in models.Input) ([][]byte, error) {
	type sigAtIndex struct {
		pubKeyIndex int
		sig         []byte
	}
	var found []sigAtIndex

	for _, action := range p.Actions {
		if action.Type != models.ActionAccept || inputIndex >= len(action.Signatures) {
			continue
		}
		copayer := w.CopayerByID(action.CopayerID)
		if copayer == nil {
			continue
		}
		pubKeyIndex, err := copayerPubKeyIndex(in, *copayer)
		if err != nil {
			return nil, err
		}
		sigDER, err := hex.DecodeString(action.Signatures[inputIndex])
		if err != nil {
			return nil, fmt.Errorf("decode signature from copayer %s: %w", action.CopayerID, err)
		}
		found = append(found, sigAtIndex{pubKeyIndex: pubKeyIndex, sig: append(sigDER, byte(txscript.SigHashAll))})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].pubKeyIndex < found[j].pubKeyIndex })
	sigs := make([][]byte, len(found))
	for i, f := range found {
		sigs[i] = f.sig
	}
	return sigs, nil
}

// assembleFinalTx fills in every input's scriptSig once a proposal has
// reached its required m accept actions, producing the transaction
// broadcastTx forwards to the explorer.
func assembleFinalTx(p *models.TxProposal, w *models.Wallet) (*wire.MsgTx, error) {
	tx, err := buildUnsignedTx(p)
	if err != nil {
		return nil, err
	}
	net := networkParams(p.Network)

	for i, in := range p.Inputs {
		switch w.AddressType {
		case models.AddressP2SH:
			redeemScript, err := redeemScriptFor(in, w.M, net)
			if err != nil {
				return nil, fmt.Errorf("input %d redeem script: %w", i, err)
			}
			sigs, err := orderSignaturesForInput(p, w, i, in)
			if err != nil {
				return nil, fmt.Errorf("input %d signatures: %w", i, err)
			}
			if len(sigs) < w.M {
				return nil, fmt.Errorf("input %d has %d of %d required signatures", i, len(sigs), w.M)
			}
			scriptSig, err := assembleMultisigScriptSig(sigs[:w.M], redeemScript)
			if err != nil {
				return nil, fmt.Errorf("input %d scriptSig: %w", i, err)
			}
			tx.TxIn[i].SignatureScript = scriptSig
		default: // models.AddressP2PKH
			sigs, err := orderSignaturesForInput(p, w, i, in)
			if err != nil {
				return nil, fmt.Errorf("input %d signatures: %w", i, err)
			}
			if len(sigs) == 0 {
				return nil, fmt.Errorf("input %d has no signature", i)
			}
			if len(in.PublicKeys) != 1 {
				return nil, fmt.Errorf("input %d: P2PKH requires exactly one public key, got %d", i, len(in.PublicKeys))
			}
			pubKey, err := hex.DecodeString(in.PublicKeys[0])
			if err != nil {
				return nil, fmt.Errorf("input %d: decode public key: %w", i, err)
			}
			scriptSig, err := assembleP2PKHScriptSig(sigs[0], pubKey)
			if err != nil {
				return nil, fmt.Errorf("input %d scriptSig: %w", i, err)
			}
			tx.TxIn[i].SignatureScript = scriptSig
		}
	}

	return tx, nil
}

// serializeTx hex-encodes a fully-signed transaction for broadcast,
// mirroring the teacher's SerializeBTCTx (internal/tx/btc_tx.go).
func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
