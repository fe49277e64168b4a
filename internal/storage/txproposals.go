package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// CreateTxProposal persists a new proposal in StatusTemporary or
// StatusPending.
func (d *DB) CreateTxProposal(p *models.TxProposal) error {
	row, err := marshalProposal(p)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(`
		INSERT INTO tx_proposals (id, wallet_id, creator_id, version, network, outputs, output_order,
			change_address, inputs, fee, fee_per_kb, required_signatures, required_rejections, actions,
			status, txid, raw_tx, broadcasted_on, created_on, pay_pro_url, custom_data, exclude_unconfirmed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WalletID, p.CreatorID, p.Version, string(p.Network), row.outputs, row.outputOrder,
		row.changeAddress, row.inputs, p.Fee, p.FeePerKb, p.RequiredSignatures, p.RequiredRejections, row.actions,
		string(p.Status), p.TxID, p.RawTx, p.BroadcastedOn, p.CreatedOn, p.PayProURL, p.CustomData, boolToInt(p.ExcludeUnconfirmed),
	)
	if err != nil {
		return fmt.Errorf("create tx proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetTxProposal loads a proposal by id. Returns (nil, nil) if not found.
func (d *DB) GetTxProposal(id string) (*models.TxProposal, error) {
	var p models.TxProposal
	var network, status string
	var outputsJSON, outputOrderJSON, inputsJSON, actionsJSON string
	var changeAddressJSON sql.NullString
	var excludeUnconfirmed int

	err := d.conn.QueryRow(`
		SELECT id, wallet_id, creator_id, version, network, outputs, output_order, change_address,
			inputs, fee, fee_per_kb, required_signatures, required_rejections, actions, status, txid,
			raw_tx, broadcasted_on, created_on, pay_pro_url, custom_data, exclude_unconfirmed
		FROM tx_proposals WHERE id = ?`, id,
	).Scan(&p.ID, &p.WalletID, &p.CreatorID, &p.Version, &network, &outputsJSON, &outputOrderJSON, &changeAddressJSON,
		&inputsJSON, &p.Fee, &p.FeePerKb, &p.RequiredSignatures, &p.RequiredRejections, &actionsJSON, &status, &p.TxID,
		&p.RawTx, &p.BroadcastedOn, &p.CreatedOn, &p.PayProURL, &p.CustomData, &excludeUnconfirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tx proposal %s: %w", id, err)
	}

	p.Network = models.Network(network)
	p.Status = models.TxProposalStatus(status)
	p.ExcludeUnconfirmed = excludeUnconfirmed != 0

	if err := json.Unmarshal([]byte(outputsJSON), &p.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(outputOrderJSON), &p.OutputOrder); err != nil {
		return nil, fmt.Errorf("unmarshal output order for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(inputsJSON), &p.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &p.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions for %s: %w", id, err)
	}
	if changeAddressJSON.Valid && changeAddressJSON.String != "" {
		var ca models.Address
		if err := json.Unmarshal([]byte(changeAddressJSON.String), &ca); err != nil {
			return nil, fmt.Errorf("unmarshal change address for %s: %w", id, err)
		}
		p.ChangeAddress = &ca
	}

	return &p, nil
}

// IsWalletProposalTxID reports whether txid belongs to one of this wallet's
// own proposals, accepted or broadcasted — used to recognize a UTXO
// produced by the wallet's own outgoing/change output as always safe (§4.1),
// regardless of whether the proposal has relayed yet.
func (d *DB) IsWalletProposalTxID(walletID, txid string) (bool, error) {
	var exists int
	err := d.conn.QueryRow(`
		SELECT 1 FROM tx_proposals
		WHERE wallet_id = ? AND txid = ? AND status IN ('accepted', 'broadcasted')
		LIMIT 1`, walletID, txid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check wallet proposal txid %s for wallet %s: %w", txid, walletID, err)
	}
	return true, nil
}

// GetTxProposalByTxID finds the accepted proposal broadcasting as txid, used
// by the monitor's outgoing-recognition path (a third party or a client's own
// broadcastTx call may beat the other to relaying the signed transaction).
// Returns (nil, nil) if no accepted proposal claims this txid.
func (d *DB) GetTxProposalByTxID(txid string) (*models.TxProposal, error) {
	var id string
	err := d.conn.QueryRow(`SELECT id FROM tx_proposals WHERE txid = ? AND status = 'accepted'`, txid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tx proposal by txid %s: %w", txid, err)
	}
	return d.GetTxProposal(id)
}

// ListAcceptedTxProposals returns every proposal across all wallets on
// network that is fully signed but not yet confirmed broadcasted — used by
// the monitor's startup recovery to re-check whether a third party relayed
// one of them while the server was down.
func (d *DB) ListAcceptedTxProposals(network string) ([]models.TxProposal, error) {
	rows, err := d.conn.Query(`SELECT id FROM tx_proposals WHERE network = ? AND status = 'accepted'`, network)
	if err != nil {
		return nil, fmt.Errorf("list accepted tx proposals for %s: %w", network, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan accepted tx proposal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.TxProposal, 0, len(ids))
	for _, id := range ids {
		p, err := d.GetTxProposal(id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, nil
}

// UpdateTxProposal persists the full mutable state of a proposal: its
// actions, status, and (once broadcast) txid/rawTx/broadcastedOn. Used by
// every state transition in the voting state machine (§4.1).
func (d *DB) UpdateTxProposal(p *models.TxProposal) error {
	row, err := marshalProposal(p)
	if err != nil {
		return err
	}
	res, err := d.conn.Exec(`
		UPDATE tx_proposals SET actions = ?, status = ?, txid = ?, raw_tx = ?, broadcasted_on = ?, inputs = ?
		WHERE id = ?`,
		row.actions, string(p.Status), p.TxID, p.RawTx, p.BroadcastedOn, row.inputs, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update tx proposal %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update tx proposal %s: not found", p.ID)
	}
	return nil
}

// DeleteTxProposal removes a proposal, used when rejecting a temporary/
// pending proposal whose inputs should be freed immediately.
func (d *DB) DeleteTxProposal(id string) error {
	_, err := d.conn.Exec(`DELETE FROM tx_proposals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete tx proposal %s: %w", id, err)
	}
	return nil
}

// ListTxProposals returns a wallet's proposals newest-first, optionally
// filtered to statuses still reserving inputs (pending + accepted).
func (d *DB) ListTxProposals(walletID string, pendingOnly bool) ([]models.TxProposal, error) {
	query := `
		SELECT id, wallet_id, creator_id, version, network, outputs, output_order, change_address,
			inputs, fee, fee_per_kb, required_signatures, required_rejections, actions, status, txid,
			raw_tx, broadcasted_on, created_on, pay_pro_url, custom_data, exclude_unconfirmed
		FROM tx_proposals WHERE wallet_id = ?`
	args := []any{walletID}
	if pendingOnly {
		query += ` AND status IN ('pending', 'accepted')`
	}
	query += ` ORDER BY created_on DESC`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tx proposals for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var out []models.TxProposal
	for rows.Next() {
		var p models.TxProposal
		var network, status string
		var outputsJSON, outputOrderJSON, inputsJSON, actionsJSON string
		var changeAddressJSON sql.NullString
		var excludeUnconfirmed int

		if err := rows.Scan(&p.ID, &p.WalletID, &p.CreatorID, &p.Version, &network, &outputsJSON, &outputOrderJSON,
			&changeAddressJSON, &inputsJSON, &p.Fee, &p.FeePerKb, &p.RequiredSignatures, &p.RequiredRejections,
			&actionsJSON, &status, &p.TxID, &p.RawTx, &p.BroadcastedOn, &p.CreatedOn, &p.PayProURL, &p.CustomData,
			&excludeUnconfirmed); err != nil {
			return nil, fmt.Errorf("scan tx proposal row: %w", err)
		}

		p.Network = models.Network(network)
		p.Status = models.TxProposalStatus(status)
		p.ExcludeUnconfirmed = excludeUnconfirmed != 0

		if err := json.Unmarshal([]byte(outputsJSON), &p.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(outputOrderJSON), &p.OutputOrder); err != nil {
			return nil, fmt.Errorf("unmarshal output order for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(inputsJSON), &p.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &p.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions for %s: %w", p.ID, err)
		}
		if changeAddressJSON.Valid && changeAddressJSON.String != "" {
			var ca models.Address
			if err := json.Unmarshal([]byte(changeAddressJSON.String), &ca); err != nil {
				return nil, fmt.Errorf("unmarshal change address for %s: %w", p.ID, err)
			}
			p.ChangeAddress = &ca
		}

		out = append(out, p)
	}
	return out, rows.Err()
}

type marshaledProposal struct {
	outputs       string
	outputOrder   string
	changeAddress sql.NullString
	inputs        string
	actions       string
}

func marshalProposal(p *models.TxProposal) (marshaledProposal, error) {
	outputs, err := json.Marshal(p.Outputs)
	if err != nil {
		return marshaledProposal{}, fmt.Errorf("marshal outputs: %w", err)
	}
	outputOrder, err := json.Marshal(p.OutputOrder)
	if err != nil {
		return marshaledProposal{}, fmt.Errorf("marshal output order: %w", err)
	}
	inputs, err := json.Marshal(p.Inputs)
	if err != nil {
		return marshaledProposal{}, fmt.Errorf("marshal inputs: %w", err)
	}
	actions, err := json.Marshal(p.Actions)
	if err != nil {
		return marshaledProposal{}, fmt.Errorf("marshal actions: %w", err)
	}

	var changeAddress sql.NullString
	if p.ChangeAddress != nil {
		b, err := json.Marshal(p.ChangeAddress)
		if err != nil {
			return marshaledProposal{}, fmt.Errorf("marshal change address: %w", err)
		}
		changeAddress = sql.NullString{String: string(b), Valid: true}
	}

	return marshaledProposal{
		outputs:       string(outputs),
		outputOrder:   string(outputOrder),
		changeAddress: changeAddress,
		inputs:        string(inputs),
		actions:       string(actions),
	}, nil
}
