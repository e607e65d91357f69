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

import "time"

const (
	BatchQueued    = "queued"
	BatchRunning   = "running"
	BatchPaused    = "paused"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
	BatchCancelled = "cancelled"
)

// ImportBatch is the durable checkpoint record for one uploaded file. The
// scheduler bumps the counters per item and persists the whole record at the
// checkpoint interval, so a crash resumes from the last persisted point
// instead of the beginning.
type ImportBatch struct {
	ID             int64      `json:"-"`
	ImportID       string     `json:"import_id"`
	FileName       string     `json:"file_name"`
	Source         string     `json:"source"`
	Status         string     `json:"status"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	SuccessCount   int        `json:"success_count"`
	FailedCount    int        `json:"failed_count"`
	SkippedCount   int        `json:"skipped_count"`
	LastItemID     string     `json:"last_item_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Progress returns the completion percentage of the batch.
func (b *ImportBatch) Progress() float64 {
	if b.TotalItems == 0 {
		return 0
	}
	return float64(b.ProcessedItems) / float64(b.TotalItems) * 100
}

// IsActive reports whether the batch still has work to drive.
func (b *ImportBatch) IsActive() bool {
	return b.Status == BatchQueued || b.Status == BatchRunning || b.Status == BatchPaused
}

// ImportStats is the polling view over one import's queue items.
type ImportStats struct {
	ImportID   string     `json:"import_id"`
	Pending    int        `json:"pending"`
	Processing int        `json:"processing"`
	Done       int        `json:"done"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Elapsed    string     `json:"elapsed,omitempty"`
}

// Total returns the number of items across all states.
func (s *ImportStats) Total() int {
	return s.Pending + s.Processing + s.Done + s.Failed + s.Skipped
}
