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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/model"
)

// minStaleThreshold is the floor for the stale sweep. Anything shorter risks
// stealing items from a worker that is merely waiting on a slow remote call.
const minStaleThreshold = 2 * time.Minute

const kickPageSize = 100

// StaleItemRecoveryProcessor periodically releases queue items stuck in
// processing, which happens when a worker crashes between claiming an item
// and settling it, and re-kicks the affected imports. Run one per worker
// process; the sweep itself is a single idempotent UPDATE, so overlapping
// sweeps are harmless.
type StaleItemRecoveryProcessor struct {
	rri            *Rri
	pollInterval   time.Duration
	stuckThreshold time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewStaleItemRecoveryProcessor(rri *Rri) *StaleItemRecoveryProcessor {
	stuckThreshold := minStaleThreshold
	cfg, err := config.Fetch()
	if err == nil && cfg.Queue.StaleAfter() > stuckThreshold {
		stuckThreshold = cfg.Queue.StaleAfter()
	}

	return &StaleItemRecoveryProcessor{
		rri:            rri,
		pollInterval:   30 * time.Second,
		stuckThreshold: stuckThreshold,
		stopCh:         make(chan struct{}),
	}
}

func (p *StaleItemRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stale item recovery processor started")
}

func (p *StaleItemRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stale item recovery processor stopped")
}

func (p *StaleItemRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StaleItemRecoveryProcessor) run(ctx context.Context) {
	// Sweep once at startup so items orphaned by a crash are released before
	// the first poll interval elapses.
	if _, err := p.rri.recoverWithThreshold(ctx, p.stuckThreshold); err != nil {
		logrus.Errorf("startup stale item sweep failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stale item recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stale item recovery processor stop signal received")
			return
		case <-time.After(p.pollInterval):
			if _, err := p.rri.recoverWithThreshold(ctx, p.stuckThreshold); err != nil {
				logrus.Errorf("stale item sweep failed: %v", err)
			}
		}
	}
}

// RecoverStaleItems triggers an immediate sweep with the provided threshold.
// This is exposed for the manual trigger API endpoint. Thresholds below two
// minutes are clamped.
func (l *Rri) RecoverStaleItems(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold < minStaleThreshold {
		threshold = minStaleThreshold
	}
	return l.recoverWithThreshold(ctx, threshold)
}

func (l *Rri) recoverWithThreshold(ctx context.Context, threshold time.Duration) (int64, error) {
	released, err := l.datasource.RequeueStaleProcessing(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logrus.Infof("released %d stale processing items (threshold=%v)", released, threshold)
	}

	// Kick even when nothing was released: an import whose batch chain died
	// with the crashed worker has eligible items but no queued task.
	if err := l.kickActiveImports(ctx); err != nil {
		return released, err
	}
	return released, nil
}

// kickActiveImports enqueues a batch task for every import that still has
// work to drive. Kicks are deduplicated by task ID, so imports with a live
// chain are unaffected.
func (l *Rri) kickActiveImports(ctx context.Context) error {
	for offset := 0; ; offset += kickPageSize {
		batches, err := l.datasource.GetAllImportBatches(ctx, kickPageSize, offset)
		if err != nil {
			return err
		}
		for _, batch := range batches {
			if batch.Status != model.BatchQueued && batch.Status != model.BatchRunning {
				continue
			}
			if err := l.queue.EnqueueImport(ctx, batch.ImportID, 0); err != nil {
				logrus.Warnf("failed to kick import %s: %v", batch.ImportID, err)
			}
		}
		if len(batches) < kickPageSize {
			return nil
		}
	}
}
