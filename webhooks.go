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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/config"
	redis_db "github.com/fabrii9/remote-receipt-import/internal/redis-db"
	"github.com/fabrii9/remote-receipt-import/model"

	"github.com/hibiken/asynq"
)

// NewWebhook represents the structure of a webhook notification. It includes
// an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// getEventFromStatus maps an import batch status to the webhook event it
// announces.
func getEventFromStatus(status string) string {
	switch strings.ToLower(status) {
	case model.BatchQueued:
		return "import.created"
	case model.BatchRunning:
		return "import.started"
	case model.BatchPaused:
		return "import.paused"
	case model.BatchCompleted:
		return "import.completed"
	case model.BatchFailed:
		return "import.failed"
	case model.BatchCancelled:
		return "import.cancelled"
	default:
		return "import.unknown"
	}
}

// processHTTP delivers one webhook notification via HTTP POST.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook request failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	// Receivers frequently answer 2xx with an empty body.
	var response map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && !errors.Is(err, io.EOF) {
		log.Println("Error decoding response:", err)
		return err
	}

	log.Println("Webhook notification sent successfully:", data.Event)
	return nil
}

// SendWebhook enqueues a webhook notification task. A missing webhook URL
// disables delivery entirely.
func SendWebhook(newWebhook NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return err
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig})
	defer func() {
		if err := client.Close(); err != nil {
			logrus.Error(err)
		}
	}()

	payload, err := json.Marshal(newWebhook)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(WEBHOOK_QUEUE)}
	task := asynq.NewTask(WEBHOOK_QUEUE, payload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(payload)
}
