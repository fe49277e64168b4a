package txproposal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// Proposal wraps a models.TxProposal with version-specific signing-payload
// behavior. BWS-style proposals carry a version (1, 2, or 3) because the
// bytes copayers sign over changed twice as the wire protocol evolved;
// this interface isolates that polymorphism so the service layer never
// branches on p.Version directly.
type Proposal interface {
	Data() *models.TxProposal
	AddAction(a models.Action)
	IsPending() bool
	RequiredFeeRate() int64
	// SigningPayload returns the bytes a copayer's signature must cover,
	// in the version's canonical order.
	SigningPayload() ([]byte, error)
}

// NewProposal wraps p in the behavior matching its Version field.
func NewProposal(p *models.TxProposal) (Proposal, error) {
	switch p.Version {
	case 1:
		return proposalV1{p}, nil
	case 2:
		return proposalV2{p}, nil
	case 3:
		return proposalV3{p}, nil
	default:
		return nil, fmt.Errorf("txproposal: unsupported proposal version %d", p.Version)
	}
}

// proposalV1 signs a flat concatenation of inputs and outputs in storage
// order — the original wire format, kept for clients that never upgraded.
type proposalV1 struct{ p *models.TxProposal }

func (v proposalV1) Data() *models.TxProposal  { return v.p }
func (v proposalV1) AddAction(a models.Action) { v.p.Actions = append(v.p.Actions, a) }
func (v proposalV1) IsPending() bool           { return v.p.IsPending() }
func (v proposalV1) RequiredFeeRate() int64    { return v.p.FeePerKb }
func (v proposalV1) SigningPayload() ([]byte, error) {
	return flatPayload(v.p, v.p.Outputs), nil
}

// proposalV2 additionally commits the change address (and any custom
// data) to the signed payload, so the server cannot redirect change after
// copayers have signed; outputs still sign in storage order.
type proposalV2 struct{ p *models.TxProposal }

func (v proposalV2) Data() *models.TxProposal  { return v.p }
func (v proposalV2) AddAction(a models.Action) { v.p.Actions = append(v.p.Actions, a) }
func (v proposalV2) IsPending() bool           { return v.p.IsPending() }
func (v proposalV2) RequiredFeeRate() int64    { return v.p.FeePerKb }
func (v proposalV2) SigningPayload() ([]byte, error) {
	payload := flatPayload(v.p, v.p.Outputs)
	payload = append(payload, changeAddressBytes(v.p)...)
	payload = append(payload, []byte(v.p.CustomData)...)
	return payload, nil
}

// proposalV3 reshuffles outputs per OutputOrder before signing (the
// server is free to store outputs in arrival order; the signature commits
// to the OutputOrder arrangement, while buildUnsignedTx still lays out the
// broadcast transaction's outputs in stored order) and additionally binds the wallet id
// into the header, so a signature cannot be replayed against a proposal
// on a different wallet with the same inputs/outputs by coincidence.
type proposalV3 struct{ p *models.TxProposal }

func (v proposalV3) Data() *models.TxProposal  { return v.p }
func (v proposalV3) AddAction(a models.Action) { v.p.Actions = append(v.p.Actions, a) }
func (v proposalV3) IsPending() bool           { return v.p.IsPending() }
func (v proposalV3) RequiredFeeRate() int64    { return v.p.FeePerKb }
func (v proposalV3) SigningPayload() ([]byte, error) {
	ordered, err := v.orderedOutputs()
	if err != nil {
		return nil, err
	}
	payload := flatPayload(v.p, ordered)
	payload = append(payload, []byte(v.p.WalletID)...)
	payload = append(payload, changeAddressBytes(v.p)...)
	payload = append(payload, []byte(v.p.CustomData)...)
	return payload, nil
}

func (v proposalV3) orderedOutputs() ([]models.Output, error) {
	if len(v.p.OutputOrder) == 0 {
		return v.p.Outputs, nil
	}
	if len(v.p.OutputOrder) != len(v.p.Outputs) {
		return nil, fmt.Errorf("txproposal: outputOrder has %d entries for %d outputs", len(v.p.OutputOrder), len(v.p.Outputs))
	}
	ordered := make([]models.Output, len(v.p.Outputs))
	seen := make(map[int]bool, len(v.p.Outputs))
	for i, idx := range v.p.OutputOrder {
		if idx < 0 || idx >= len(v.p.Outputs) || seen[idx] {
			return nil, fmt.Errorf("txproposal: outputOrder index %d invalid", idx)
		}
		seen[idx] = true
		ordered[i] = v.p.Outputs[idx]
	}
	return ordered, nil
}

// flatPayload is the shared core of every version's signing payload:
// each input's outpoint, then each output's address and amount, then the
// fee — everything a signature must commit to so a copayer never signs a
// transaction that spends or pays differently than what they reviewed.
func flatPayload(p *models.TxProposal, outputs []models.Output) []byte {
	var buf bytes.Buffer
	for _, in := range p.Inputs {
		buf.WriteString(in.TxID)
		_ = binary.Write(&buf, binary.BigEndian, in.Vout)
	}
	for _, out := range outputs {
		buf.WriteString(out.ToAddress)
		_ = binary.Write(&buf, binary.BigEndian, out.Amount)
	}
	_ = binary.Write(&buf, binary.BigEndian, p.Fee)
	return buf.Bytes()
}

func changeAddressBytes(p *models.TxProposal) []byte {
	if p.ChangeAddress == nil {
		return nil
	}
	return []byte(p.ChangeAddress.Address)
}
