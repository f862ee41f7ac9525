package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"accordo/internal/negotiation"
)

// CreateMesoRound persists one round's MESO bundle.
func (d *DB) CreateMesoRound(ctx context.Context, mr *negotiation.MesoRound) error {
	optsJSON, err := json.Marshal(mr.Options)
	if err != nil {
		return fmt.Errorf("marshal meso options: %w", err)
	}
	prefsJSON := any(nil)
	if mr.InferredPreferences != nil {
		b, err := json.Marshal(mr.InferredPreferences)
		if err != nil {
			return fmt.Errorf("marshal meso preferences: %w", err)
		}
		prefsJSON = string(b)
	}
	return withRetry(ctx, func() error {
		_, err := d.q.ExecContext(ctx, `
			INSERT INTO meso_rounds (id, deal_id, round, type, options, target_utility, variance, selected_option_id, inferred_preferences, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(deal_id, round) DO NOTHING
		`,
			mr.ID, mr.DealID, mr.Round, string(mr.Type), string(optsJSON),
			mr.TargetUtility, mr.Variance, mr.SelectedOptionID, prefsJSON, timeToCol(mr.CreatedAt),
		)
		return err
	})
}

// RecordMesoSelection stores the vendor's pick and the inference drawn
// from it.
func (d *DB) RecordMesoSelection(ctx context.Context, mesoRoundID, optionID string, prefs *negotiation.MesoInference) error {
	prefsJSON := any(nil)
	if prefs != nil {
		b, err := json.Marshal(prefs)
		if err != nil {
			return fmt.Errorf("marshal meso preferences: %w", err)
		}
		prefsJSON = string(b)
	}
	return withRetry(ctx, func() error {
		res, err := d.q.ExecContext(ctx, `
			UPDATE meso_rounds SET selected_option_id = ?, inferred_preferences = ? WHERE id = ?
		`, optionID, prefsJSON, mesoRoundID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: meso round %s", negotiation.ErrNotFound, mesoRoundID)
		}
		return nil
	})
}

// ListMesoRounds returns a deal's MESO rounds in round order.
func (d *DB) ListMesoRounds(ctx context.Context, dealID string) ([]negotiation.MesoRound, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, deal_id, round, type, options, target_utility, variance, selected_option_id, inferred_preferences, created_at
		  FROM meso_rounds
		 WHERE deal_id = ?
		 ORDER BY round ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []negotiation.MesoRound
	for rows.Next() {
		var mr negotiation.MesoRound
		var mesoType, optsJSON, createdAt string
		var prefsJSON sql.NullString
		if err := rows.Scan(&mr.ID, &mr.DealID, &mr.Round, &mesoType, &optsJSON,
			&mr.TargetUtility, &mr.Variance, &mr.SelectedOptionID, &prefsJSON, &createdAt); err != nil {
			return nil, err
		}
		mr.Type = negotiation.MesoType(mesoType)
		mr.CreatedAt = colToTime(createdAt)
		if err := json.Unmarshal([]byte(optsJSON), &mr.Options); err != nil {
			return nil, fmt.Errorf("unmarshal meso options: %w", err)
		}
		if prefsJSON.Valid && prefsJSON.String != "" {
			var prefs negotiation.MesoInference
			if json.Unmarshal([]byte(prefsJSON.String), &prefs) == nil {
				mr.InferredPreferences = &prefs
			}
		}
		result = append(result, mr)
	}
	return result, rows.Err()
}
