/*
Copyright 2024 The remote-receipt-import Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rri

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/fabrii9/remote-receipt-import/remote"
)

// NoDebtError reports a resolved partner that currently owes nothing. Items
// hitting it are skipped, not failed: the row may simply have arrived after
// the debt was settled another way.
type NoDebtError struct {
	TaxID string
}

func (e *NoDebtError) Error() string {
	return fmt.Sprintf("partner %s has no outstanding debt", e.TaxID)
}

// OverpaymentRejectedError reports a payment larger than the partner's
// outstanding debt. Applying it would flip the account into credit, so the
// item fails and waits for an operator.
type OverpaymentRejectedError struct {
	TaxID  string
	Amount decimal.Decimal
	Debt   decimal.Decimal
}

func (e *OverpaymentRejectedError) Error() string {
	return fmt.Sprintf("payment of %s for partner %s exceeds outstanding debt of %s", e.Amount, e.TaxID, e.Debt)
}

// applyResult is what a successful reconciliation of one item produced.
type applyResult struct {
	Partner        *model.Partner
	ReceiptID      int64
	AlreadyApplied bool
}

// isPermanentApplyError reports whether a reconciliation error can never
// succeed on retry. Transient remote failures are the only retryable kind;
// everything the engine decides on its own (no debt, overpayment, unknown or
// ambiguous partner) is final for the item.
func isPermanentApplyError(err error) bool {
	return !remote.IsTransient(err)
}

// stateForApplyError maps a permanent reconciliation error to the terminal
// state the item should land in.
func stateForApplyError(err error) string {
	var noDebt *NoDebtError
	if errors.As(err, &noDebt) {
		return model.StatusSkipped
	}
	return model.StatusFailed
}

// applyPayment reconciles one queue item against the remote system. The
// sequence is fixed: check whether a receipt with this item's dedup key
// already exists (a replay after a crash or timeout), resolve the partner by
// exact tax id, fetch a fresh debt snapshot, reject what cannot apply, then
// create the receipt carrying the dedup key as its reference. The replay
// check comes first so an already-applied item lands done even when its
// partner lookup has since gone bad.
func (l *Rri) applyPayment(ctx context.Context, item *model.QueueItem) (*applyResult, error) {
	ctx, span := otel.Tracer("rri.reconcile").Start(ctx, "Applying Payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", item.ItemID),
		attribute.String("partner.tax_id", item.PartnerTaxID),
	)

	existing, err := l.remote.FindReceipt(ctx, item.DedupKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logrus.Infof("receipt %d already exists for item %s, treating as applied", existing.ID, item.ItemID)
		return &applyResult{ReceiptID: existing.ID, AlreadyApplied: true}, nil
	}

	partner, err := l.remote.FindPartner(ctx, item.PartnerTaxID)
	if err != nil {
		return nil, err
	}

	debt, err := l.remote.GetOutstandingDebt(ctx, partner.ID)
	if err != nil {
		return nil, err
	}

	if !debt.Amount.IsPositive() {
		return nil, &NoDebtError{TaxID: item.PartnerTaxID}
	}
	if item.Amount.GreaterThan(debt.Amount) {
		return nil, &OverpaymentRejectedError{TaxID: item.PartnerTaxID, Amount: item.Amount, Debt: debt.Amount}
	}

	receipt, err := l.remote.CreateReceipt(ctx, remote.ReceiptRequest{
		PartnerID:   partner.ID,
		Amount:      item.Amount,
		PaymentDate: item.PaymentDate.Format("2006-01-02"),
		Memo:        item.Memo,
		Reference:   item.DedupKey,
	})
	if err != nil {
		return nil, err
	}

	return &applyResult{Partner: partner, ReceiptID: receipt.ID}, nil
}
