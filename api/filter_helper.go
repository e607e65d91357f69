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

package api

import (
	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ParseFiltersFromContext extracts field_operator=value query parameters into
// a filter set. Examples against the queue tables:
//
//	status_eq=failed
//	status_in=failed,skipped
//	amount_gte=1000
//	payment_date_between=2024-01-01|2024-12-31
//	partner_name_ilike=%acme%
//	receipt_id_isnull=true
//
// Unrecognized suffixes pass through untouched, so ordinary query params and
// filters can share a URL.
func ParseFiltersFromContext(c *gin.Context, opts *filter.ParseOptions) (*filter.QueryFilterSet, []filter.ParseError) {
	result := filter.ParseFromQuery(c.Request.URL.Query(), opts)
	return result.Filters, result.Errors
}

// HasFilters reports whether the request carries any filter parameters.
func HasFilters(c *gin.Context) bool {
	result := filter.ParseFromQuery(c.Request.URL.Query(), nil)
	return result.Filters != nil && len(result.Filters.Filters) > 0
}

// FilterRequest is the JSON body of the search endpoints, for clients that
// prefer posting filters over encoding them into the query string.
type FilterRequest struct {
	Filters      []filter.QueryFilter `json:"filters"`
	Limit        int                  `json:"limit,omitempty"`
	Offset       int                  `json:"offset,omitempty"`
	SortBy       string               `json:"sort_by,omitempty"`
	SortOrder    string               `json:"sort_order,omitempty"`
	IncludeCount bool                 `json:"include_count,omitempty"`
}

// FilterResponse wraps a filtered listing with its optional total count.
type FilterResponse struct {
	Data       interface{} `json:"data"`
	TotalCount *int64      `json:"total_count,omitempty"`
}

// ParseFiltersFromBody decodes a FilterRequest and normalizes its paging.
func ParseFiltersFromBody(c *gin.Context) (*filter.QueryFilterSet, *filter.QueryOptions, int, int, error) {
	var req FilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, nil, 0, 0, err
	}

	limit := req.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	filterSet := &filter.QueryFilterSet{Filters: req.Filters}
	opts := &filter.QueryOptions{
		SortBy:       req.SortBy,
		SortOrder:    filter.SortOrder(req.SortOrder),
		IncludeCount: req.IncludeCount,
	}

	return filterSet, opts, limit, offset, nil
}

// ParseQueryOptions extracts sorting options from the query string of GET
// listings.
func ParseQueryOptions(c *gin.Context) *filter.QueryOptions {
	return &filter.QueryOptions{
		SortBy:       c.DefaultQuery("sort_by", ""),
		SortOrder:    filter.SortOrder(c.DefaultQuery("sort_order", "desc")),
		IncludeCount: c.DefaultQuery("include_count", "") == "true",
	}
}
