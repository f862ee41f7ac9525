// Package pipeline couples the pure negotiation engine with persistence:
// the two-phase message flow, per-deal serialization, the suggestion
// cache and the fire-and-forget side-effect hooks.
package pipeline

import (
	"context"

	"accordo/internal/db"
	"accordo/internal/negotiation"
)

// Store is the durable persistence capability the pipeline requires.
// Writes inside Transaction commit atomically or not at all.
type Store interface {
	CreateDeal(ctx context.Context, deal *negotiation.Deal, req *negotiation.Requisition) error
	GetDeal(ctx context.Context, id string) (*negotiation.Deal, error)
	GetRequisition(ctx context.Context, dealID string) (*negotiation.Requisition, error)
	UpdateDeal(ctx context.Context, deal *negotiation.Deal) error

	CreateMessage(ctx context.Context, msg *negotiation.Message) error
	ListMessages(ctx context.Context, dealID string) ([]negotiation.Message, error)
	GetMessage(ctx context.Context, id string) (*negotiation.Message, error)
	GetLastMessage(ctx context.Context, dealID string, role negotiation.Role, withOffer bool) (*negotiation.Message, error)

	CreateMesoRound(ctx context.Context, mr *negotiation.MesoRound) error
	RecordMesoSelection(ctx context.Context, mesoRoundID, optionID string, prefs *negotiation.MesoInference) error
	ListMesoRounds(ctx context.Context, dealID string) ([]negotiation.MesoRound, error)

	GetVendorProfile(ctx context.Context, vendorID string) (*negotiation.VendorProfile, error)
	UpsertVendorProfile(ctx context.Context, vendorID string, accepted bool, finalDiscount float64, behaviorTag string) error

	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// sqlStore adapts *db.DB to the Store interface. The only translation
// needed is the Transaction callback type.
type sqlStore struct {
	*db.DB
}

// NewSQLStore wraps the SQLite database as a pipeline Store.
func NewSQLStore(d *db.DB) Store {
	return sqlStore{d}
}

func (s sqlStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.DB.Transaction(ctx, func(tx *db.DB) error {
		return fn(sqlStore{tx})
	})
}
