package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"accordo/internal/negotiation"
)

// CreateMessage appends a message. Inserting the same message id twice is
// a no-op, and the unique (deal_id, round, role) constraint rejects a
// second message for the same slot with ErrConflict.
func (d *DB) CreateMessage(ctx context.Context, msg *negotiation.Message) error {
	offerJSON := jsonOrNil(msg.Offer)
	decisionJSON := any(nil)
	if msg.Decision != nil {
		b, err := json.Marshal(msg.Decision)
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
		decisionJSON = string(b)
	}

	return withRetry(ctx, func() error {
		_, err := d.q.ExecContext(ctx, `
			INSERT INTO messages (id, deal_id, role, round, content, offer, decision, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			msg.ID, msg.DealID, string(msg.Role), msg.Round, msg.Content,
			offerJSON, decisionJSON, timeToCol(msg.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: deal %s round %d already has a %s message",
					negotiation.ErrConflict, msg.DealID, msg.Round, msg.Role)
			}
			return err
		}
		return nil
	})
}

// ListMessages returns a deal's messages ordered by (round, role) with
// VENDOR before ACCORDO within a round.
func (d *DB) ListMessages(ctx context.Context, dealID string) ([]negotiation.Message, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, deal_id, role, round, content, offer, decision, created_at
		  FROM messages
		 WHERE deal_id = ?
		 ORDER BY round ASC,
		          CASE role WHEN 'VENDOR' THEN 0 WHEN 'ACCORDO' THEN 1 ELSE 2 END ASC,
		          created_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []negotiation.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// GetMessage loads one message by id.
func (d *DB) GetMessage(ctx context.Context, id string) (*negotiation.Message, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT id, deal_id, role, round, content, offer, decision, created_at
		  FROM messages WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("%w: message %s", negotiation.ErrNotFound, id)
	}
	return scanMessage(rows)
}

// GetLastMessage returns the newest message for a deal and role,
// optionally restricted to messages that carry an extracted offer.
func (d *DB) GetLastMessage(ctx context.Context, dealID string, role negotiation.Role, withOffer bool) (*negotiation.Message, error) {
	query := `
		SELECT id, deal_id, role, round, content, offer, decision, created_at
		  FROM messages
		 WHERE deal_id = ? AND role = ?`
	if withOffer {
		query += ` AND offer IS NOT NULL`
	}
	query += ` ORDER BY round DESC, created_at DESC LIMIT 1`

	rows, err := d.q.QueryContext(ctx, query, dealID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, negotiation.ErrNotFound
	}
	return scanMessage(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*negotiation.Message, error) {
	var msg negotiation.Message
	var role, createdAt string
	var offerJSON, decisionJSON sql.NullString

	err := row.Scan(&msg.ID, &msg.DealID, &role, &msg.Round, &msg.Content, &offerJSON, &decisionJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, negotiation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.Role = negotiation.Role(role)
	msg.CreatedAt = colToTime(createdAt)

	if offerJSON.Valid && offerJSON.String != "" {
		var o negotiation.Offer
		if json.Unmarshal([]byte(offerJSON.String), &o) == nil {
			msg.Offer = &o
		}
	}
	if decisionJSON.Valid && decisionJSON.String != "" {
		var dec negotiation.Decision
		if json.Unmarshal([]byte(decisionJSON.String), &dec) == nil {
			msg.Decision = &dec
		}
	}
	return &msg, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
