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
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
	"github.com/wacul/ptr"
)

const (
	CollectionImports    = "import_batches"
	CollectionQueueItems = "queue_items"
)

// CollectionConfig holds configuration for a specific collection.
type CollectionConfig struct {
	Schema        *api.CollectionSchema
	IDField       string
	TimeFields    []string
	DecimalFields []string
}

var collectionConfigs map[string]CollectionConfig

func init() {
	collectionConfigs = map[string]CollectionConfig{
		CollectionImports: {
			Schema:     getImportBatchSchema(),
			IDField:    "import_id",
			TimeFields: []string{"created_at", "updated_at", "started_at", "completed_at"},
		},
		CollectionQueueItems: {
			Schema:        getQueueItemSchema(),
			IDField:       "item_id",
			TimeFields:    []string{"payment_date", "scheduled_at", "created_at", "updated_at"},
			DecimalFields: []string{"amount"},
		},
	}
}

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NotificationPayload represents the payload structure for index updates,
// containing the collection and the document data.
type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureCollectionsExist ensures that all the necessary collections exist in
// the Typesense schema. If a collection doesn't exist, it will create the
// collection based on the latest schema.
func (t *TypesenseClient) EnsureCollectionsExist(ctx context.Context) error {
	for name, config := range collectionConfigs {
		if _, err := t.CreateCollection(ctx, config.Schema); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// CreateCollection creates a collection in Typesense based on the provided
// schema. If the collection already exists, it will return without error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

// Search performs a search query on a specific collection with the provided search parameters.
func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

func (t *TypesenseClient) MultiSearch(ctx context.Context, searchRequests api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return t.Client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, searchRequests)
}

// HandleNotification processes an index update for one document and upserts
// it into the named collection, normalizing the fields Typesense is picky
// about first.
func (t *TypesenseClient) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	config, ok := collectionConfigs[table]
	if !ok {
		return fmt.Errorf("unknown collection: %s", table)
	}

	t.normalizeDecimalFields(config, data)
	t.ensureSchemaFields(config, data)
	t.normalizeTimeFields(config, data)

	return t.upsertDocument(ctx, table, data)
}

// normalizeDecimalFields forces decimal amounts into strings. Amounts travel
// as JSON strings already; this catches documents built from raw maps where
// the amount arrived as a number.
func (t *TypesenseClient) normalizeDecimalFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.DecimalFields {
		if val, ok := data[field]; ok {
			switch v := val.(type) {
			case float64:
				data[field] = strconv.FormatFloat(v, 'f', -1, 64)
			case int64:
				data[field] = strconv.FormatInt(v, 10)
			}
		}
	}
}

// ensureSchemaFields ensures all required schema fields are present with
// default values, and drops optional fields that arrived empty.
func (t *TypesenseClient) ensureSchemaFields(config CollectionConfig, data map[string]interface{}) {
	latestSchema := config.Schema

	optionalFieldMap := make(map[string]bool)
	for _, field := range latestSchema.Fields {
		if field.Optional != nil && *field.Optional {
			optionalFieldMap[field.Name] = true
		}
	}

	for _, field := range latestSchema.Fields {
		if _, ok := data[field.Name]; !ok {
			isOptional := field.Optional != nil && *field.Optional
			if !isOptional {
				data[field.Name] = getDefaultValue(field.Type)
			}
		}
	}

	for key, value := range data {
		if optionalFieldMap[key] {
			if value == nil {
				delete(data, key)
				continue
			}
			if strVal, ok := value.(string); ok && strVal == "" {
				delete(data, key)
			}
		}
	}
}

// normalizeTimeFields converts time fields to Unix timestamps. Documents
// usually arrive from a JSON round trip, so RFC3339 strings are the common
// case.
func (t *TypesenseClient) normalizeTimeFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.TimeFields {
		fieldValue, ok := data[field]
		if !ok {
			continue
		}
		switch v := fieldValue.(type) {
		case nil:
			delete(data, field)
		case time.Time:
			data[field] = v.Unix()
		case string:
			if parsed, err := time.Parse(time.RFC3339, v); err == nil {
				data[field] = parsed.Unix()
			} else {
				data[field] = time.Now().Unix()
			}
		case int64:
			// Already a Unix timestamp.
		case float64:
			data[field] = int64(v)
		default:
			data[field] = time.Now().Unix()
		}
	}
}

// getIDField returns the primary ID field name for a given table
func (t *TypesenseClient) getIDField(table string) string {
	if config, ok := collectionConfigs[table]; ok {
		return config.IDField
	}
	return ""
}

// upsertDocument handles the final upsert operation to Typesense
func (t *TypesenseClient) upsertDocument(ctx context.Context, table string, data map[string]interface{}) error {
	idField := t.getIDField(table)

	if idField != "" {
		if id, ok := data[idField].(string); ok && id != "" {
			data["id"] = id
			_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
			if err != nil {
				return fmt.Errorf("failed to upsert document in Typesense: %w", err)
			}
			return nil
		}
	}

	_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to index document in Typesense: %w", err)
	}

	return nil
}

// MigrateTypeSenseSchema adds new fields from the latest schema to the
// existing collection schema in Typesense. This is useful when the schema has
// been updated, and new fields need to be added.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	collection := t.Client.Collection(collectionName)

	currentSchemaResponse, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	currentSchema := &api.CollectionSchema{
		Name:   currentSchemaResponse.Name,
		Fields: currentSchemaResponse.Fields,
	}

	config, ok := collectionConfigs[collectionName]
	if !ok {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}
	latestSchema := config.Schema

	newFields := compareSchemas(currentSchema, latestSchema)

	for _, field := range newFields {
		updateSchema := &api.CollectionUpdateSchema{
			Fields: []api.Field{field},
		}

		_, err := collection.Update(ctx, updateSchema)
		if err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}

	return nil
}

// compareSchemas compares the old schema with the new schema and returns any
// new fields that are present in the new schema but not in the old one.
func compareSchemas(oldSchema, newSchema *api.CollectionSchema) []api.Field {
	var newFields []api.Field
	oldFieldMap := make(map[string]bool)

	for _, field := range oldSchema.Fields {
		oldFieldMap[field.Name] = true
	}

	for _, field := range newSchema.Fields {
		if !oldFieldMap[field.Name] {
			newFields = append(newFields, field)
		}
	}

	return newFields
}

// getDefaultValue returns the default value for a given field type in Typesense.
func getDefaultValue(fieldType string) interface{} {
	switch fieldType {
	case "string":
		return ""
	case "int32", "int64":
		return int64(0)
	case "float":
		return float64(0)
	case "bool":
		return false
	case "string[]":
		return []string{}
	default:
		return nil
	}
}

// getImportBatchSchema returns the schema for the "import_batches" collection.
func getImportBatchSchema() *api.CollectionSchema {
	facet := ptr.Bool(true)
	optional := ptr.Bool(true)
	return &api.CollectionSchema{
		Name: CollectionImports,
		Fields: []api.Field{
			{Name: "import_id", Type: "string", Facet: facet},
			{Name: "file_name", Type: "string", Facet: facet},
			{Name: "source", Type: "string", Facet: facet},
			{Name: "status", Type: "string", Facet: facet},
			{Name: "total_items", Type: "int32", Facet: facet},
			{Name: "processed_items", Type: "int32", Facet: facet},
			{Name: "success_count", Type: "int32", Facet: facet},
			{Name: "failed_count", Type: "int32", Facet: facet},
			{Name: "skipped_count", Type: "int32", Facet: facet},
			{Name: "last_item_id", Type: "string", Optional: optional},
			{Name: "started_at", Type: "int64", Optional: optional},
			{Name: "completed_at", Type: "int64", Optional: optional},
			{Name: "created_at", Type: "int64", Facet: facet},
			{Name: "updated_at", Type: "int64", Optional: optional},
		},
		DefaultSortingField: ptr.String("created_at"),
	}
}

// getQueueItemSchema returns the schema for the "queue_items" collection.
func getQueueItemSchema() *api.CollectionSchema {
	facet := ptr.Bool(true)
	optional := ptr.Bool(true)
	return &api.CollectionSchema{
		Name: CollectionQueueItems,
		Fields: []api.Field{
			{Name: "item_id", Type: "string", Facet: facet},
			{Name: "import_id", Type: "string", Reference: ptr.String("import_batches.import_id"), Facet: facet},
			{Name: "row_number", Type: "int32", Facet: facet},
			{Name: "dedup_key", Type: "string", Facet: facet},
			{Name: "partner_tax_id", Type: "string", Facet: facet},
			{Name: "partner_name", Type: "string", Optional: optional},
			{Name: "payment_date", Type: "int64", Facet: facet},
			{Name: "memo", Type: "string", Optional: optional},
			{Name: "amount", Type: "string", Facet: facet},
			{Name: "priority", Type: "int32", Facet: facet},
			{Name: "status", Type: "string", Facet: facet},
			{Name: "attempts", Type: "int32", Facet: facet},
			{Name: "scheduled_at", Type: "int64", Optional: optional},
			{Name: "last_error", Type: "string", Optional: optional},
			{Name: "partner_id", Type: "int64", Optional: optional},
			{Name: "receipt_id", Type: "int64", Optional: optional},
			{Name: "processing_time_ms", Type: "int64", Optional: optional},
			{Name: "created_at", Type: "int64", Facet: facet},
			{Name: "updated_at", Type: "int64", Optional: optional},
		},
		DefaultSortingField: ptr.String("created_at"),
	}
}
