package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPriority is assigned to rows that carry no explicit priority. Lower
// values are dispatched first.
const DefaultPriority = 10

// PaymentRow is one parsed line of an uploaded payment file, before it is
// turned into a queue item. RowNumber is the 1-based position among the data
// rows of the source file.
type PaymentRow struct {
	RowNumber    int             `json:"row_number"`
	PartnerTaxID string          `json:"tax_id"`
	PaymentDate  time.Time       `json:"date"`
	Memo         string          `json:"memo"`
	Amount       decimal.Decimal `json:"amount"`
}

// NewQueueItem builds the pending queue item for a parsed payment row,
// deriving its idempotency key from the row contents.
func NewQueueItem(importID string, row PaymentRow) *QueueItem {
	return &QueueItem{
		ItemID:       GenerateUUIDWithSuffix("item"),
		ImportID:     importID,
		RowNumber:    row.RowNumber,
		DedupKey:     DedupKey(row.PartnerTaxID, row.Memo, row.Amount, row.RowNumber),
		PartnerTaxID: row.PartnerTaxID,
		PaymentDate:  row.PaymentDate,
		Memo:         row.Memo,
		Amount:       row.Amount,
		Priority:     DefaultPriority,
		Status:       StatusPending,
	}
}
