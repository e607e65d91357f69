package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partner is a customer resolved in the remote accounting system. The ID is
// the remote system's own identifier, not ours.
type Partner struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}

// Receipt is a payment receipt created in the remote accounting system.
type Receipt struct {
	ID       int64           `json:"id"`
	State    string          `json:"state"`
	Amount   decimal.Decimal `json:"amount"`
	DedupKey string          `json:"dedup_key"`
}

// DebtSnapshot is the outstanding debt of one partner at a point in time. It
// is fetched fresh before every reconciliation decision and never reused
// across items, because each applied receipt changes the remainder.
type DebtSnapshot struct {
	PartnerID int64           `json:"partner_id"`
	Amount    decimal.Decimal `json:"amount"`
	FetchedAt time.Time       `json:"fetched_at"`
}
