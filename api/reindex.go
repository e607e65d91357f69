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
	"context"
	"net/http"
	"sync"

	"github.com/fabrii9/remote-receipt-import/internal/search"
	"github.com/gin-gonic/gin"
)

const defaultReindexBatchSize = 1000

// ReindexRequest is the optional body of a reindex request.
type ReindexRequest struct {
	BatchSize int `json:"batch_size"`
}

// activeReindex holds the one reindex run allowed at a time. The service
// pointer survives completion so progress stays queryable afterwards.
var activeReindex struct {
	mu      sync.RWMutex
	service *search.ReindexService
}

// StartReindex rebuilds the Typesense collections from the database. The
// rebuild runs in the background; the response returns immediately with the
// initial progress. A second start while one is running answers 409.
func (a Api) StartReindex(c *gin.Context) {
	var req ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.BatchSize = 0
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultReindexBatchSize
	}

	activeReindex.mu.Lock()
	if activeReindex.service != nil {
		progress := activeReindex.service.GetProgress()
		if progress.Status == "in_progress" {
			activeReindex.mu.Unlock()
			c.JSON(http.StatusConflict, gin.H{
				"error":    "A reindex operation is already in progress",
				"progress": progress,
			})
			return
		}
	}

	service := search.NewReindexService(
		a.rri.GetSearchClient(),
		a.rri.GetDataSource(),
		search.ReindexConfig{BatchSize: req.BatchSize},
	)
	activeReindex.service = service
	activeReindex.mu.Unlock()

	go func() {
		_, _ = service.StartReindex(context.Background())
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message":  "Reindex operation started",
		"progress": service.GetProgress(),
	})
}

// GetReindexProgress reports the state of the most recent reindex run.
func (a Api) GetReindexProgress(c *gin.Context) {
	activeReindex.mu.RLock()
	defer activeReindex.mu.RUnlock()

	if activeReindex.service == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No reindex operation has been started",
		})
		return
	}

	c.JSON(http.StatusOK, activeReindex.service.GetProgress())
}
