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

	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/fabrii9/remote-receipt-import/remote"
)

// MockRemoteClient implements remote.Client with per-method overrides, so a
// test can script exactly the remote behavior a scenario needs and leave the
// rest returning empty defaults.
type MockRemoteClient struct {
	mockFindPartner        func(ctx context.Context, taxID string) (*model.Partner, error)
	mockGetOutstandingDebt func(ctx context.Context, partnerID int64) (*model.DebtSnapshot, error)
	mockCreateReceipt      func(ctx context.Context, receipt remote.ReceiptRequest) (*model.Receipt, error)
	mockFindReceipt        func(ctx context.Context, reference string) (*model.Receipt, error)
}

func (m *MockRemoteClient) FindPartner(ctx context.Context, taxID string) (*model.Partner, error) {
	if m.mockFindPartner != nil {
		return m.mockFindPartner(ctx, taxID)
	}
	return nil, &remote.PartnerNotFoundError{TaxID: taxID}
}

func (m *MockRemoteClient) GetOutstandingDebt(ctx context.Context, partnerID int64) (*model.DebtSnapshot, error) {
	if m.mockGetOutstandingDebt != nil {
		return m.mockGetOutstandingDebt(ctx, partnerID)
	}
	return &model.DebtSnapshot{PartnerID: partnerID}, nil
}

func (m *MockRemoteClient) CreateReceipt(ctx context.Context, receipt remote.ReceiptRequest) (*model.Receipt, error) {
	if m.mockCreateReceipt != nil {
		return m.mockCreateReceipt(ctx, receipt)
	}
	return &model.Receipt{ID: 1, State: "posted", Amount: receipt.Amount, DedupKey: receipt.Reference}, nil
}

func (m *MockRemoteClient) FindReceipt(ctx context.Context, reference string) (*model.Receipt, error) {
	if m.mockFindReceipt != nil {
		return m.mockFindReceipt(ctx, reference)
	}
	return nil, nil
}
