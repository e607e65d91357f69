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

	"github.com/typesense/typesense-go/typesense/api"
)

// Search performs a search on the specified collection using the provided
// query parameters.
func (l *Rri) Search(collection string, query *api.SearchCollectionParams) (interface{}, error) {
	return l.search.Search(context.Background(), collection, query)
}

// MultiSearch performs a multi-search operation across collections.
func (l *Rri) MultiSearch(searchParams *api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return l.search.MultiSearch(context.Background(), *searchParams)
}

// ProcessIndexTask is the asynq handler for INDEX_QUEUE tasks. The payload
// carries the collection name and the document to upsert.
func (l *Rri) ProcessIndexTask(ctx context.Context, collection string, data map[string]interface{}) error {
	return l.search.HandleNotification(ctx, collection, data)
}

// EnsureSearchCollections creates the search collections if they are missing.
func (l *Rri) EnsureSearchCollections(ctx context.Context) error {
	return l.search.EnsureCollectionsExist(ctx)
}
