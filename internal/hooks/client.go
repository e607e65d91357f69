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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ExecuteHook delivers a payload to a single hook endpoint. Exposed for
// manual replays; lifecycle events go through ExecutePreHooks and
// ExecutePostHooks.
func (m *redisHookManager) ExecuteHook(ctx context.Context, hook *Hook, payload HookPayload) error {
	return m.executeHook(ctx, hook, payload)
}

// executeHook performs the HTTP POST for a hook. It performs a single
// attempt; hooks fire from goroutines and are advisory, so a failed delivery
// is reported through the notification channel rather than retried here.
func (m *redisHookManager) executeHook(ctx context.Context, hook *Hook, payload HookPayload) error {
	client := &http.Client{
		Timeout: time.Duration(hook.Timeout) * time.Second,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":   hook.ID,
		"hook_name": hook.Name,
		"hook_url":  hook.URL,
		"hook_type": hook.Type,
		"import_id": payload.ImportID,
	}).Info("Executing hook")

	req, err := http.NewRequestWithContext(ctx, "POST", hook.URL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hook-ID", hook.ID)
	req.Header.Set("X-Hook-Type", string(hook.Type))

	resp, err := client.Do(req)
	if err != nil {
		_ = m.updateHookStatus(ctx, hook, false)
		if ctx.Err() != nil {
			logrus.WithFields(logrus.Fields{
				"hook_id":   hook.ID,
				"hook_type": hook.Type,
				"error":     err,
			}).Error("Hook execution cancelled due to context timeout")
			return ctx.Err()
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = m.updateHookStatus(ctx, hook, false)
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		_ = m.updateHookStatus(ctx, hook, false)
		return fmt.Errorf("hook returned status %d: %s", resp.StatusCode, string(body))
	}

	// A 2xx with an empty or non-JSON body still counts as delivered.
	if len(body) == 0 || !json.Valid(body) {
		_ = m.updateHookStatus(ctx, hook, true)
		return nil
	}

	var hookResp HookResponse
	if err := json.Unmarshal(body, &hookResp); err != nil {
		logrus.WithFields(logrus.Fields{
			"hook_id": hook.ID,
			"error":   err,
		}).Warn("Could not parse hook response as JSON")
		_ = m.updateHookStatus(ctx, hook, true)
		return nil
	}

	if !hookResp.Success && hookResp.Message != "" {
		_ = m.updateHookStatus(ctx, hook, false)
		return fmt.Errorf("hook execution failed: %s", hookResp.Message)
	}

	logrus.WithFields(logrus.Fields{
		"hook_id":     hook.ID,
		"hook_name":   hook.Name,
		"hook_type":   hook.Type,
		"status_code": resp.StatusCode,
	}).Info("Hook executed successfully")

	_ = m.updateHookStatus(ctx, hook, true)
	return nil
}

func (m *redisHookManager) updateHookStatus(ctx context.Context, hook *Hook, success bool) error {
	hook.LastRun = time.Now()
	hook.LastSuccess = success

	data, err := json.Marshal(hook)
	if err != nil {
		return fmt.Errorf("failed to marshal hook: %w", err)
	}

	key := fmt.Sprintf("%s:%s", hookKeyPrefix, hook.ID)
	return m.client.Set(ctx, key, data, 0).Err()
}
