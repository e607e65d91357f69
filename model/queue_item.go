package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// StatusTransitions lists the allowed state moves for a queue item. An item in
// a state missing from the map is terminal. processing -> pending covers the
// circuit-open return path and the stale-item recovery sweep; failed -> pending
// is the manual requeue, and failed -> processing lets the scheduler pick up a
// failed item whose retry deadline has passed.
var StatusTransitions = map[string][]string{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusDone, StatusFailed, StatusSkipped, StatusPending},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// IsValidTransition reports whether a queue item may move from one status to
// another.
func IsValidTransition(from, to string) bool {
	for _, s := range StatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// QueueItem is one imported payment row tracked through the queue state
// machine. Items are created in bulk at import time, mutated only by the
// scheduler (and the manual requeue), and never deleted.
type QueueItem struct {
	ID           int64           `json:"-"`
	ItemID       string          `json:"item_id"`
	ImportID     string          `json:"import_id"`
	RowNumber    int             `json:"row_number"`
	DedupKey     string          `json:"dedup_key"`
	PartnerTaxID string          `json:"partner_tax_id"`
	PaymentDate  time.Time       `json:"payment_date"`
	Memo         string          `json:"memo"`
	Amount       decimal.Decimal `json:"amount"`
	Priority     int             `json:"priority"`
	Status       string          `json:"status"`
	Attempts     int             `json:"attempts"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	PartnerID    int64           `json:"partner_id,omitempty"`
	PartnerName  string          `json:"partner_name,omitempty"`
	ReceiptID    int64           `json:"receipt_id,omitempty"`
	ProcessingMs int64           `json:"processing_time_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (item *QueueItem) ToJSON() ([]byte, error) {
	return json.Marshal(item)
}

// IsTerminal reports whether the item can never be picked up again without a
// manual requeue.
func (item *QueueItem) IsTerminal() bool {
	return item.Status == StatusDone || item.Status == StatusSkipped || item.Status == StatusFailed
}

// RetryBackoff computes the delay before a failed attempt becomes eligible
// again. The delay doubles with every attempt, starting at base after the
// first failure, and never exceeds max.
func RetryBackoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
