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

package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestQueueItemSchemaHasScheduledAt verifies that the queue item schema
// includes the scheduled_at field so retry deadlines can be filtered on.
func TestQueueItemSchemaHasScheduledAt(t *testing.T) {
	schema := getQueueItemSchema()

	var foundScheduledAt bool
	var scheduledAtType string

	for _, field := range schema.Fields {
		if field.Name == "scheduled_at" {
			foundScheduledAt = true
			scheduledAtType = field.Type
			break
		}
	}

	assert.True(t, foundScheduledAt, "Queue item schema should include scheduled_at field")
	assert.Equal(t, "int64", scheduledAtType, "scheduled_at should be int64 type for Unix timestamp")
}

// TestQueueItemCollectionConfigTimeFields verifies all time-related fields
// are normalized to Unix timestamps before indexing.
func TestQueueItemCollectionConfigTimeFields(t *testing.T) {
	config, ok := collectionConfigs[CollectionQueueItems]
	assert.True(t, ok, "Queue item collection config should exist")

	expectedTimeFields := []string{
		"payment_date",
		"scheduled_at",
		"created_at",
		"updated_at",
	}

	for _, expected := range expectedTimeFields {
		var found bool
		for _, actual := range config.TimeFields {
			if actual == expected {
				found = true
				break
			}
		}
		assert.True(t, found, "TimeFields should include %s. Current TimeFields: %v", expected, config.TimeFields)
	}
}

// TestImportBatchSchemaDefaultSortField verifies that created_at is the
// default sort field, which Typesense requires to be present in every
// document.
func TestImportBatchSchemaDefaultSortField(t *testing.T) {
	schema := getImportBatchSchema()

	assert.NotNil(t, schema.DefaultSortingField, "Default sorting field should be set")
	assert.Equal(t, "created_at", *schema.DefaultSortingField)
}

// TestNormalizeTimeFieldsParsesRFC3339 verifies that time fields arriving as
// JSON strings are converted to Unix timestamps.
func TestNormalizeTimeFieldsParsesRFC3339(t *testing.T) {
	client := &TypesenseClient{}
	config := collectionConfigs[CollectionQueueItems]

	when := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	data := map[string]interface{}{
		"payment_date": when.Format(time.RFC3339),
		"created_at":   when,
		"updated_at":   int64(1700000000),
	}

	client.normalizeTimeFields(config, data)

	assert.Equal(t, when.Unix(), data["payment_date"])
	assert.Equal(t, when.Unix(), data["created_at"])
	assert.Equal(t, int64(1700000000), data["updated_at"])
}

// TestNormalizeTimeFieldsDropsNil verifies that a null optional time field is
// removed instead of being sent to Typesense as nil.
func TestNormalizeTimeFieldsDropsNil(t *testing.T) {
	client := &TypesenseClient{}
	config := collectionConfigs[CollectionImports]

	data := map[string]interface{}{
		"completed_at": nil,
		"created_at":   int64(1700000000),
	}

	client.normalizeTimeFields(config, data)

	_, present := data["completed_at"]
	assert.False(t, present, "nil time fields should be dropped")
	assert.Equal(t, int64(1700000000), data["created_at"])
}

// TestEnsureSchemaFieldsFillsRequiredDefaults verifies that missing required
// fields get zero values while empty optional fields are dropped.
func TestEnsureSchemaFieldsFillsRequiredDefaults(t *testing.T) {
	client := &TypesenseClient{}
	config := collectionConfigs[CollectionQueueItems]

	data := map[string]interface{}{
		"item_id":    "item_abc",
		"last_error": "",
	}

	client.ensureSchemaFields(config, data)

	assert.Equal(t, "", data["partner_tax_id"], "required string fields default to empty")
	assert.Equal(t, int64(0), data["attempts"], "required int fields default to zero")
	_, present := data["last_error"]
	assert.False(t, present, "empty optional fields should be dropped")
}

// TestNormalizeDecimalFields verifies amounts survive as strings whether they
// arrive as strings or numbers.
func TestNormalizeDecimalFields(t *testing.T) {
	client := &TypesenseClient{}
	config := collectionConfigs[CollectionQueueItems]

	data := map[string]interface{}{"amount": 1050.75}
	client.normalizeDecimalFields(config, data)
	assert.Equal(t, "1050.75", data["amount"])

	data = map[string]interface{}{"amount": "999.99"}
	client.normalizeDecimalFields(config, data)
	assert.Equal(t, "999.99", data["amount"])
}
