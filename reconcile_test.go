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
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/fabrii9/remote-receipt-import/remote"
)

func testItem(taxID string, rowNumber int, amount int64) *model.QueueItem {
	row := model.PaymentRow{
		RowNumber:    rowNumber,
		PartnerTaxID: taxID,
		PaymentDate:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Memo:         "FAC-0001",
		Amount:       decimal.NewFromInt(amount),
	}
	return model.NewQueueItem("imp_test", row)
}

// fakeRemote simulates a partner with a running debt balance so a test can
// feed payments through applyPayment in sequence and watch the debt shrink.
type fakeRemote struct {
	MockRemoteClient
	partner  *model.Partner
	debt     decimal.Decimal
	receipts []remote.ReceiptRequest
	nextID   int64
}

func newFakeRemote(debt int64) *fakeRemote {
	f := &fakeRemote{
		partner: &model.Partner{ID: 77, TaxID: "20-30574817-3", Name: gofakeit.Company()},
		debt:    decimal.NewFromInt(debt),
		nextID:  100,
	}
	f.mockFindPartner = func(ctx context.Context, taxID string) (*model.Partner, error) {
		return f.partner, nil
	}
	f.mockGetOutstandingDebt = func(ctx context.Context, partnerID int64) (*model.DebtSnapshot, error) {
		return &model.DebtSnapshot{PartnerID: partnerID, Amount: f.debt, FetchedAt: time.Now()}, nil
	}
	f.mockCreateReceipt = func(ctx context.Context, receipt remote.ReceiptRequest) (*model.Receipt, error) {
		f.receipts = append(f.receipts, receipt)
		f.debt = f.debt.Sub(receipt.Amount)
		f.nextID++
		return &model.Receipt{ID: f.nextID, State: "posted", Amount: receipt.Amount, DedupKey: receipt.Reference}, nil
	}
	return f
}

func TestApplyPaymentSequence(t *testing.T) {
	fr := newFakeRemote(50000)
	l := &Rri{remote: fr}
	ctx := context.Background()

	// Three partial payments against a debt of 50000 all land, in order.
	for i, amount := range []int64{10000, 30000, 10000} {
		result, err := l.applyPayment(ctx, testItem("20-30574817-3", i+1, amount))
		require.NoError(t, err)
		assert.False(t, result.AlreadyApplied)
		assert.Equal(t, int64(77), result.Partner.ID)
	}

	assert.Len(t, fr.receipts, 3)
	assert.True(t, fr.debt.IsZero(), "debt should be fully consumed, got %s", fr.debt)
}

func TestApplyPaymentOverpaymentRejected(t *testing.T) {
	fr := newFakeRemote(50000)
	l := &Rri{remote: fr}
	ctx := context.Background()

	result, err := l.applyPayment(ctx, testItem("20-30574817-3", 1, 10000))
	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)

	// 60000 against the remaining 40000 must be refused before any receipt
	// is created remotely.
	_, err = l.applyPayment(ctx, testItem("20-30574817-3", 2, 60000))
	var overpay *OverpaymentRejectedError
	require.ErrorAs(t, err, &overpay)
	assert.Equal(t, "40000", overpay.Debt.String())
	assert.Equal(t, model.StatusFailed, stateForApplyError(err))
	assert.Len(t, fr.receipts, 1, "no receipt may be created for a rejected payment")
}

func TestApplyPaymentNoDebtSkips(t *testing.T) {
	fr := newFakeRemote(0)
	l := &Rri{remote: fr}

	_, err := l.applyPayment(context.Background(), testItem("20-30574817-3", 1, 10000))
	var noDebt *NoDebtError
	require.ErrorAs(t, err, &noDebt)
	assert.Equal(t, model.StatusSkipped, stateForApplyError(err))
	assert.Empty(t, fr.receipts)
}

func TestApplyPaymentReplayIsIdempotent(t *testing.T) {
	fr := newFakeRemote(50000)
	item := testItem("20-30574817-3", 1, 10000)
	fr.mockFindReceipt = func(ctx context.Context, reference string) (*model.Receipt, error) {
		if reference == item.DedupKey {
			return &model.Receipt{ID: 501, State: "posted", Amount: item.Amount, DedupKey: reference}, nil
		}
		return nil, nil
	}
	l := &Rri{remote: fr}

	result, err := l.applyPayment(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, result.AlreadyApplied)
	assert.Equal(t, int64(501), result.ReceiptID)
	assert.Empty(t, fr.receipts, "replay must not create a second receipt")
	assert.True(t, fr.debt.Equal(decimal.NewFromInt(50000)), "replay must not touch the debt")
}

func TestApplyPaymentReplayWinsOverBadPartnerLookup(t *testing.T) {
	fr := newFakeRemote(50000)
	item := testItem("20-30574817-3", 1, 10000)
	fr.mockFindReceipt = func(ctx context.Context, reference string) (*model.Receipt, error) {
		if reference == item.DedupKey {
			return &model.Receipt{ID: 501, State: "posted", Amount: item.Amount, DedupKey: reference}, nil
		}
		return nil, nil
	}
	// The partner lookup has gone ambiguous since the original run. The
	// replay check runs first, so the item still lands applied.
	fr.mockFindPartner = func(ctx context.Context, taxID string) (*model.Partner, error) {
		return nil, &remote.AmbiguousPartnerError{TaxID: taxID, Count: 2}
	}
	l := &Rri{remote: fr}

	result, err := l.applyPayment(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, result.AlreadyApplied)
	assert.Equal(t, int64(501), result.ReceiptID)
	assert.Empty(t, fr.receipts)
}

func TestApplyPaymentUnknownPartner(t *testing.T) {
	l := &Rri{remote: &MockRemoteClient{}}

	_, err := l.applyPayment(context.Background(), testItem("30-00000000-0", 1, 5000))
	var notFound *remote.PartnerNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, isPermanentApplyError(err))
	assert.Equal(t, model.StatusFailed, stateForApplyError(err))
}

func TestApplyPaymentTransientErrorPropagates(t *testing.T) {
	rc := &MockRemoteClient{
		mockFindPartner: func(ctx context.Context, taxID string) (*model.Partner, error) {
			return nil, &remote.TransientError{Status: 503, Err: errors.New("service unavailable")}
		},
	}
	l := &Rri{remote: rc}

	_, err := l.applyPayment(context.Background(), testItem("20-30574817-3", 1, 5000))
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))
	assert.False(t, isPermanentApplyError(err))
}
