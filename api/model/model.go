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
package model

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	defaultStaleThresholdMinutes = 15
	maxInlineRows                = 1000
)

// InlinePaymentRow is one payment row pushed directly in a request body. It
// carries the same fields a JSON file row would.
type InlinePaymentRow struct {
	TaxID  string      `json:"tax_id"`
	Date   string      `json:"date"`
	Memo   string      `json:"memo,omitempty"`
	Amount json.Number `json:"amount"`
}

// CreateInlineImport imports payment rows sent in the request body instead of
// an uploaded file.
type CreateInlineImport struct {
	Source string             `json:"source"`
	Rows   []InlinePaymentRow `json:"rows"`
}

// RecoverStaleRequest tunes a manual stale item sweep. A zero threshold means
// the default.
type RecoverStaleRequest struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}

func (i *CreateInlineImport) ValidateCreateInlineImport() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.Source, validation.Required),
		validation.Field(&i.Rows, validation.Required, validation.Length(1, maxInlineRows)),
	)
}

func (r *RecoverStaleRequest) ValidateRecoverStale() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ThresholdMinutes, validation.Min(0), validation.Max(1440)),
	)
}

// ToPaymentFile renders the inline rows as an in-memory JSON file so the
// upload and inline paths share one parser. Row level checks happen there.
func (i *CreateInlineImport) ToPaymentFile() (io.Reader, string, error) {
	data, err := json.Marshal(i.Rows)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "inline.json", nil
}

// ThresholdDuration returns the sweep threshold, falling back to the default
// when the request left it unset.
func (r *RecoverStaleRequest) ThresholdDuration() time.Duration {
	if r.ThresholdMinutes <= 0 {
		return defaultStaleThresholdMinutes * time.Minute
	}
	return time.Duration(r.ThresholdMinutes) * time.Minute
}
