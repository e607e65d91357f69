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

package hooks

import (
	"context"
	"encoding/json"
	"time"
)

type HookType string

const (
	PreImport  HookType = "PRE_IMPORT"
	PostImport HookType = "POST_IMPORT"
)

// Hook represents a registered callback endpoint. Pre-import hooks fire when
// a payment file is accepted and queued; post-import hooks fire when an
// import settles.
type Hook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Type        HookType  `json:"type"`
	Active      bool      `json:"active"`
	Timeout     int       `json:"timeout"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastRun     time.Time `json:"last_run"`
	LastSuccess bool      `json:"last_success"`
}

// HookPayload is the body sent to hook endpoints.
type HookPayload struct {
	ImportID  string          `json:"import_id"`
	HookType  HookType        `json:"hook_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HookResponse is the shape hook endpoints may answer with. Endpoints that
// answer 2xx with anything else are still treated as delivered.
type HookResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HookManager defines the interface for managing import lifecycle hooks.
type HookManager interface {
	RegisterHook(ctx context.Context, hook *Hook) error
	UpdateHook(ctx context.Context, hookID string, hook *Hook) error
	DeleteHook(ctx context.Context, hookID string) error
	GetHook(ctx context.Context, hookID string) (*Hook, error)
	ListHooks(ctx context.Context, hookType HookType) ([]*Hook, error)
	ExecutePreHooks(ctx context.Context, importID string, data interface{}) error
	ExecutePostHooks(ctx context.Context, importID string, data interface{}) error
}
