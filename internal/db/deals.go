package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"accordo/internal/negotiation"
)

// CreateDeal inserts a new deal row.
func (d *DB) CreateDeal(ctx context.Context, deal *negotiation.Deal, req *negotiation.Requisition) error {
	cfgJSON, err := json.Marshal(deal.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	stateJSON, err := json.Marshal(deal.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal requisition: %w", err)
	}
	return withRetry(ctx, func() error {
		_, err := d.q.ExecContext(ctx, `
			INSERT INTO deals (
				id, title, mode, status, round, priority,
				buyer_id, vendor_id, requisition_id, contract_id,
				requisition, config, state, created_at, last_message_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			deal.ID, deal.Title, string(deal.Mode), string(deal.Status), deal.Round, string(deal.Priority),
			deal.BuyerID, deal.VendorID, deal.RequisitionID, deal.ContractID,
			string(reqJSON), string(cfgJSON), string(stateJSON),
			timeToCol(deal.CreatedAt), timeToCol(deal.LastMessageAt),
		)
		return err
	})
}

// GetDeal loads a deal by id. Soft-deleted deals are not returned.
func (d *DB) GetDeal(ctx context.Context, id string) (*negotiation.Deal, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT id, title, mode, status, round, priority,
		       buyer_id, vendor_id, requisition_id, contract_id,
		       config, state, latest_vendor_offer, latest_counter,
		       latest_utility, latest_action, degraded,
		       created_at, last_message_at, archived_at, deleted_at
		  FROM deals
		 WHERE id = ? AND deleted_at IS NULL
	`, id)
	return scanDeal(row)
}

// GetRequisition loads the requisition blob stored with a deal.
func (d *DB) GetRequisition(ctx context.Context, dealID string) (*negotiation.Requisition, error) {
	var raw string
	err := d.q.QueryRowContext(ctx, `SELECT requisition FROM deals WHERE id = ?`, dealID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: deal %s", negotiation.ErrNotFound, dealID)
	}
	if err != nil {
		return nil, err
	}
	var req negotiation.Requisition
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("unmarshal requisition: %w", err)
	}
	return &req, nil
}

// UpdateDeal rewrites the mutable columns of a deal row.
func (d *DB) UpdateDeal(ctx context.Context, deal *negotiation.Deal) error {
	cfgJSON, err := json.Marshal(deal.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	stateJSON, err := json.Marshal(deal.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	offerJSON := any(nil)
	if deal.LatestVendorOffer != nil {
		b, err := json.Marshal(deal.LatestVendorOffer)
		if err != nil {
			return fmt.Errorf("marshal vendor offer: %w", err)
		}
		offerJSON = string(b)
	}
	counterJSON := any(nil)
	if deal.LatestCounter != nil {
		b, err := json.Marshal(deal.LatestCounter)
		if err != nil {
			return fmt.Errorf("marshal counter: %w", err)
		}
		counterJSON = string(b)
	}

	return withRetry(ctx, func() error {
		res, err := d.q.ExecContext(ctx, `
			UPDATE deals
			   SET title = ?, mode = ?, status = ?, round = ?, priority = ?,
			       config = ?, state = ?, latest_vendor_offer = ?, latest_counter = ?,
			       latest_utility = ?, latest_action = ?, degraded = ?,
			       last_message_at = ?, archived_at = ?, deleted_at = ?
			 WHERE id = ?
		`,
			deal.Title, string(deal.Mode), string(deal.Status), deal.Round, string(deal.Priority),
			string(cfgJSON), string(stateJSON), offerJSON, counterJSON,
			deal.LatestUtility, string(deal.LatestAction), boolToInt(deal.Degraded),
			timeToCol(deal.LastMessageAt), timePtrToCol(deal.ArchivedAt), timePtrToCol(deal.DeletedAt),
			deal.ID,
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: deal %s", negotiation.ErrNotFound, deal.ID)
		}
		return nil
	})
}

func scanDeal(row *sql.Row) (*negotiation.Deal, error) {
	var deal negotiation.Deal
	var mode, status, priority, action string
	var cfgJSON, stateJSON string
	var offerJSON, counterJSON sql.NullString
	var createdAt, lastMessageAt string
	var archivedAt, deletedAt sql.NullString
	var degraded int

	err := row.Scan(
		&deal.ID, &deal.Title, &mode, &status, &deal.Round, &priority,
		&deal.BuyerID, &deal.VendorID, &deal.RequisitionID, &deal.ContractID,
		&cfgJSON, &stateJSON, &offerJSON, &counterJSON,
		&deal.LatestUtility, &action, &degraded,
		&createdAt, &lastMessageAt, &archivedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	deal.Mode = negotiation.Mode(mode)
	deal.Status = negotiation.Status(status)
	deal.Priority = negotiation.Priority(priority)
	deal.LatestAction = negotiation.Action(action)
	deal.Degraded = degraded != 0
	deal.CreatedAt = colToTime(createdAt)
	deal.LastMessageAt = colToTime(lastMessageAt)
	deal.ArchivedAt = colToTimePtr(archivedAt)
	deal.DeletedAt = colToTimePtr(deletedAt)

	// Config blobs pass through strict parsing; a malformed blob surfaces
	// to the pipeline, which rebuilds from the requisition and marks the
	// deal degraded.
	cfg, cfgErr := negotiation.ParseConfig([]byte(cfgJSON))
	if cfgErr == nil {
		deal.Config = cfg
	}

	state := negotiation.NewState()
	if json.Unmarshal([]byte(stateJSON), state) == nil {
		deal.State = state
	} else {
		deal.State = negotiation.NewState()
	}

	if offerJSON.Valid && offerJSON.String != "" {
		var o negotiation.AccumulatedOffer
		if json.Unmarshal([]byte(offerJSON.String), &o) == nil {
			deal.LatestVendorOffer = &o
		}
	}
	if counterJSON.Valid && counterJSON.String != "" {
		var o negotiation.Offer
		if json.Unmarshal([]byte(counterJSON.String), &o) == nil {
			deal.LatestCounter = &o
		}
	}

	if cfgErr != nil {
		return &deal, fmt.Errorf("deal %s: %w", deal.ID, cfgErr)
	}
	return &deal, nil
}

func jsonOrNil(v any) any {
	if v == nil {
		return nil
	}
	switch o := v.(type) {
	case *negotiation.Offer:
		if o == nil {
			return nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
