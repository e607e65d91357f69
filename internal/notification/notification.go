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

// Package notification fans import lifecycle events and system errors out to
// the configured channels: a Slack webhook for operator alerts and a
// registered webhook sender for machine consumers.
package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/internal/request"
)

// webhookSender delivers an event payload to the outbound webhook queue. The
// root package registers its sender at startup; keeping it behind a function
// value avoids an import cycle between this package and the queue wiring.
var webhookSender func(event string, payload interface{}) error

// RegisterWebhookSender installs the function used to deliver webhook events.
// Later registrations replace earlier ones.
func RegisterWebhookSender(sender func(event string, payload interface{}) error) {
	webhookSender = sender
}

// NotifyEvent hands an event to the registered webhook sender. It is a no-op
// when no sender has been registered, so callers can emit events
// unconditionally.
func NotifyEvent(event string, payload interface{}) error {
	if webhookSender == nil {
		return nil
	}
	return webhookSender(event, payload)
}

// SlackNotification posts an error report to the configured Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Receipt import error 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		log.Println(err)
	}
}

// NotifyError logs the error and reports it to Slack when a webhook is
// configured. Delivery happens on a goroutine so callers never block on the
// network.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}
