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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/fabrii9/remote-receipt-import/database/mocks"
	"github.com/fabrii9/remote-receipt-import/model"
)

// Items orphaned by a crashed worker must be released when the processor
// starts, not only after the first poll interval.
func TestRecoverySweepRunsAtStartup(t *testing.T) {
	schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	mockDS.On("RequeueStaleProcessing", mock.Anything, mock.Anything).Return(int64(0), nil)
	mockDS.On("GetAllImportBatches", mock.Anything, kickPageSize, 0).Return([]*model.ImportBatch{}, nil)

	p := NewStaleItemRecoveryProcessor(&Rri{datasource: mockDS})
	p.Start(context.Background())
	p.Stop()

	// The poll interval is 30s, so any sweep observed here ran at startup.
	mockDS.AssertCalled(t, "RequeueStaleProcessing", mock.Anything, p.stuckThreshold)
	assert.False(t, p.IsRunning())
}
