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

// Package remote adapts the remote accounting system's HTTP API to the small
// surface the reconciliation engine needs: resolve a partner by tax id, read
// its outstanding debt, create a receipt and look a receipt up by reference.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/internal/cache"
	"github.com/fabrii9/remote-receipt-import/model"
)

const (
	partnerCacheTTL = time.Hour

	// How often a single call retries a 429 before giving the item back to
	// the queue. The shared limiter keeps these rare; they only happen when
	// another process drains the bucket between our token and our request.
	rateLimitRetries = 3
)

// Client is the surface the reconciliation engine talks to. FindReceipt
// returns nil without error when no receipt carries the reference.
type Client interface {
	FindPartner(ctx context.Context, taxID string) (*model.Partner, error)
	GetOutstandingDebt(ctx context.Context, partnerID int64) (*model.DebtSnapshot, error)
	CreateReceipt(ctx context.Context, receipt ReceiptRequest) (*model.Receipt, error)
	FindReceipt(ctx context.Context, reference string) (*model.Receipt, error)
}

// ReceiptRequest is the payload for creating a receipt. Reference carries the
// dedup key so a replayed request can be detected remotely.
type ReceiptRequest struct {
	PartnerID   int64           `json:"partner_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date,omitempty"`
	Memo        string          `json:"memo,omitempty"`
	Reference   string          `json:"reference"`
}

type partnersResponse struct {
	Partners []model.Partner `json:"partners"`
}

type debtResponse struct {
	PartnerID int64           `json:"partner_id"`
	Amount    decimal.Decimal `json:"amount"`
}

type receiptPayload struct {
	ReceiptID int64           `json:"receipt_id"`
	State     string          `json:"state"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type receiptsResponse struct {
	Receipts []receiptPayload `json:"receipts"`
}

// HTTPClient implements Client against a JSON HTTP API.
type HTTPClient struct {
	endpoint string
	database string
	apiKey   string
	client   *http.Client
	cache    cache.Cache
}

// NewClient builds an HTTPClient from the remote section of the
// configuration. The cache is optional; when present, resolved partners are
// kept for an hour so repeated rows for the same customer skip the lookup.
func NewClient(cfg config.RemoteConfig, ca cache.Cache) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		database: cfg.Database,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout()},
		cache:    ca,
	}
}

// FindPartner resolves a partner by exact tax id. The remote search may be
// loose, so the response is filtered down to exact matches before deciding
// between not found, ambiguous and resolved.
func (c *HTTPClient) FindPartner(ctx context.Context, taxID string) (*model.Partner, error) {
	taxID = strings.TrimSpace(taxID)
	cacheKey := fmt.Sprintf("partner:%s", taxID)

	if c.cache != nil {
		var cached model.Partner
		if err := c.cache.Get(ctx, cacheKey, &cached); err == nil && cached.ID != 0 {
			return &cached, nil
		}
	}

	var response partnersResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/partners?tax_id="+url.QueryEscape(taxID), nil, &response)
	if err != nil {
		return nil, err
	}

	var exact []model.Partner
	for _, p := range response.Partners {
		if strings.TrimSpace(p.TaxID) == taxID {
			exact = append(exact, p)
		}
	}

	if len(exact) == 0 {
		return nil, &PartnerNotFoundError{TaxID: taxID}
	}
	if len(exact) > 1 {
		return nil, &AmbiguousPartnerError{TaxID: taxID, Count: len(exact)}
	}

	partner := exact[0]
	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, partner, partnerCacheTTL); err != nil {
			logrus.Warnf("failed to cache partner %s: %v", taxID, err)
		}
	}

	return &partner, nil
}

// GetOutstandingDebt reads the partner's current receivable balance. Callers
// must fetch a fresh snapshot before every decision; applied receipts change
// the remainder.
func (c *HTTPClient) GetOutstandingDebt(ctx context.Context, partnerID int64) (*model.DebtSnapshot, error) {
	var response debtResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/partners/%d/debt", partnerID), nil, &response)
	if err != nil {
		return nil, err
	}

	return &model.DebtSnapshot{
		PartnerID: partnerID,
		Amount:    response.Amount,
		FetchedAt: time.Now(),
	}, nil
}

func (c *HTTPClient) CreateReceipt(ctx context.Context, receipt ReceiptRequest) (*model.Receipt, error) {
	var response receiptPayload
	err := c.do(ctx, http.MethodPost, "/api/v1/receipts", receipt, &response)
	if err != nil {
		return nil, err
	}

	return &model.Receipt{
		ID:       response.ReceiptID,
		State:    response.State,
		Amount:   receipt.Amount,
		DedupKey: receipt.Reference,
	}, nil
}

// FindReceipt looks a receipt up by its reference. A nil receipt with a nil
// error means none exists, which is the common case.
func (c *HTTPClient) FindReceipt(ctx context.Context, reference string) (*model.Receipt, error) {
	var response receiptsResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/receipts?reference="+url.QueryEscape(reference), nil, &response)
	if err != nil {
		return nil, err
	}

	if len(response.Receipts) == 0 {
		return nil, nil
	}

	found := response.Receipts[0]
	return &model.Receipt{
		ID:       found.ReceiptID,
		State:    found.State,
		Amount:   found.Amount,
		DedupKey: reference,
	}, nil
}

// do sends one JSON call. Only 429 responses are retried here, briefly and
// with backoff; every other failure is classified and returned so the queue
// can decide between reschedule and terminal failure.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload interface{}, response interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}
		if c.database != "" {
			req.Header.Set("X-Database", c.database)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(&TransientError{Err: err})
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &TransientError{Status: resp.StatusCode, Err: errors.New("rate limited by remote")}
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
			return backoff.Permanent(&TransientError{Status: resp.StatusCode, Err: fmt.Errorf("remote returned status %d", resp.StatusCode)})
		case resp.StatusCode >= 400:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("remote returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		}

		if response != nil {
			if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode remote response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, rateLimitRetries), ctx))
}
