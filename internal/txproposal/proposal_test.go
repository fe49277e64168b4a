package txproposal

import (
	"bytes"
	"testing"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

func sampleProposal(version int) *models.TxProposal {
	return &models.TxProposal{
		ID:       "p1",
		WalletID: "w1",
		Version:  version,
		Inputs: []models.Input{
			{TxID: "a", Vout: 0},
			{TxID: "b", Vout: 1},
		},
		Outputs: []models.Output{
			{ToAddress: "addr1", Amount: 1000},
			{ToAddress: "addr2", Amount: 2000},
		},
		OutputOrder:   []int{1, 0},
		ChangeAddress: &models.Address{Address: "changeAddr"},
		Fee:           500,
		CustomData:    "hello",
	}
}

func TestNewProposalRejectsUnknownVersion(t *testing.T) {
	if _, err := NewProposal(&models.TxProposal{Version: 4}); err == nil {
		t.Fatal("NewProposal(version 4) succeeded, want error")
	}
}

func TestSigningPayloadDiffersAcrossVersions(t *testing.T) {
	v1, err := NewProposal(sampleProposal(1))
	if err != nil {
		t.Fatalf("NewProposal(v1) error = %v", err)
	}
	v2, err := NewProposal(sampleProposal(2))
	if err != nil {
		t.Fatalf("NewProposal(v2) error = %v", err)
	}
	v3, err := NewProposal(sampleProposal(3))
	if err != nil {
		t.Fatalf("NewProposal(v3) error = %v", err)
	}

	p1, err := v1.SigningPayload()
	if err != nil {
		t.Fatalf("v1.SigningPayload() error = %v", err)
	}
	p2, err := v2.SigningPayload()
	if err != nil {
		t.Fatalf("v2.SigningPayload() error = %v", err)
	}
	p3, err := v3.SigningPayload()
	if err != nil {
		t.Fatalf("v3.SigningPayload() error = %v", err)
	}

	if bytes.Equal(p1, p2) {
		t.Error("v1 and v2 payloads match, want v2 to additionally commit the change address")
	}
	if bytes.Equal(p2, p3) {
		t.Error("v2 and v3 payloads match, want v3 to reorder outputs and bind the wallet id")
	}
	if !bytes.Contains(p2, []byte("changeAddr")) {
		t.Error("v2 payload does not commit the change address")
	}
	if !bytes.Contains(p3, []byte("w1")) {
		t.Error("v3 payload does not commit the wallet id")
	}
}

func TestV3SigningPayloadReflectsOutputOrder(t *testing.T) {
	reordered := sampleProposal(3)
	straight := sampleProposal(3)
	straight.OutputOrder = []int{0, 1}

	vReordered, _ := NewProposal(reordered)
	vStraight, _ := NewProposal(straight)

	pReordered, err := vReordered.SigningPayload()
	if err != nil {
		t.Fatalf("SigningPayload() error = %v", err)
	}
	pStraight, err := vStraight.SigningPayload()
	if err != nil {
		t.Fatalf("SigningPayload() error = %v", err)
	}
	if bytes.Equal(pReordered, pStraight) {
		t.Error("reordered and straight OutputOrder produced identical payloads")
	}
}

func TestV3SigningPayloadRejectsMalformedOutputOrder(t *testing.T) {
	p := sampleProposal(3)
	p.OutputOrder = []int{0, 0} // duplicate index, not a valid permutation
	v, _ := NewProposal(p)
	if _, err := v.SigningPayload(); err == nil {
		t.Fatal("SigningPayload() with duplicate OutputOrder index succeeded, want error")
	}

	p2 := sampleProposal(3)
	p2.OutputOrder = []int{0}
	v2, _ := NewProposal(p2)
	if _, err := v2.SigningPayload(); err == nil {
		t.Fatal("SigningPayload() with short OutputOrder succeeded, want error")
	}
}
