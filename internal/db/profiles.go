package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"accordo/internal/negotiation"
)

// GetVendorProfile loads the cross-deal record for a vendor, or
// ErrNotFound when the vendor has no history.
func (d *DB) GetVendorProfile(ctx context.Context, vendorID string) (*negotiation.VendorProfile, error) {
	var p negotiation.VendorProfile
	var sumDiscount float64
	var updatedAt string
	err := d.q.QueryRowContext(ctx, `
		SELECT vendor_id, deal_count, accepted_count, sum_final_discount, behavior_tag, updated_at
		  FROM vendor_profiles WHERE vendor_id = ?
	`, vendorID).Scan(&p.VendorID, &p.DealCount, &p.AcceptedCount, &sumDiscount, &p.BehaviorTag, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.DealCount > 0 {
		p.MeanFinalDiscount = sumDiscount / float64(p.DealCount)
	}
	p.UpdatedAt = colToTime(updatedAt)
	return &p, nil
}

// UpsertVendorProfile folds one finished deal into the vendor's record.
// finalDiscount is the fraction of the vendor's opening price conceded by
// deal end.
func (d *DB) UpsertVendorProfile(ctx context.Context, vendorID string, accepted bool, finalDiscount float64, behaviorTag string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	acceptedInc := 0
	if accepted {
		acceptedInc = 1
	}
	return withRetry(ctx, func() error {
		_, err := d.q.ExecContext(ctx, `
			INSERT INTO vendor_profiles (vendor_id, deal_count, accepted_count, sum_final_discount, behavior_tag, updated_at)
			VALUES (?, 1, ?, ?, ?, ?)
			ON CONFLICT(vendor_id)
			DO UPDATE SET
				deal_count = deal_count + 1,
				accepted_count = accepted_count + excluded.accepted_count,
				sum_final_discount = sum_final_discount + excluded.sum_final_discount,
				behavior_tag = CASE WHEN excluded.behavior_tag != '' THEN excluded.behavior_tag ELSE behavior_tag END,
				updated_at = excluded.updated_at
		`, vendorID, acceptedInc, finalDiscount, behaviorTag, now)
		return err
	})
}
