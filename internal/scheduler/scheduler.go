// Package scheduler provides transaction dispatching with worker pool management.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/fentz26/patchward/internal/audit"
	"github.com/fentz26/patchward/internal/config"
	"github.com/fentz26/patchward/internal/controlplane"
	"github.com/fentz26/patchward/internal/models"
	"github.com/fentz26/patchward/internal/store"
	"github.com/google/uuid"
)

// Scheduler claims pending transactions and applies them on a bounded pool of workers.
type Scheduler struct {
	store   *store.Store
	service *controlplane.Service
	pdr     *audit.PDRWriter
	config  config.SchedulerConfig
	logger  *log.Logger

	// Worker pool state
	mu              sync.Mutex
	activeWorkers   int
	completed       int
	connectorCounts map[string]int

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler.
func New(s *store.Store, svc *controlplane.Service, pdr *audit.PDRWriter, cfg *config.SchedulerConfig, logger *log.Logger) *Scheduler {
	if cfg == nil {
		cfg = &config.DefaultConfig().Scheduler
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:           s,
		service:         svc,
		pdr:             pdr,
		config:          *cfg,
		logger:          logger,
		connectorCounts: make(map[string]int),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Println("Scheduler started")
}

// Stop stops polling and waits for running transactions to finish.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Println("Scheduler stopped")
}

func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	interval := sch.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			for sch.pollAndDispatch() {
			}
		}
	}
}

// hasCapacity reports whether another worker may start.
func (sch *Scheduler) hasCapacity(connectorName string) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.activeWorkers >= sch.config.GlobalMax {
		return false
	}
	return sch.connectorCounts[connectorName] < sch.config.GetConnectorLimit(connectorName)
}

// pollAndDispatch claims at most one pending transaction and hands it to a
// worker. It reports whether a transaction was dispatched.
func (sch *Scheduler) pollAndDispatch() bool {
	if sch.ctx.Err() != nil {
		return false
	}

	connectorName := sch.service.ConnectorName()
	if !sch.hasCapacity(connectorName) {
		return false
	}

	workerID := uuid.New().String()
	tx, err := sch.store.ClaimPendingTransaction(workerID)
	if err != nil {
		sch.logger.Printf("Error claiming transaction: %v", err)
		return false
	}
	if tx == nil {
		return false
	}

	sch.pdr.Record("tx.dispatch", map[string]interface{}{
		"tx_id":     tx.ID,
		"worker_id": workerID,
		"connector": connectorName,
	}, audit.OutcomeSuccess, tx.ID, fmt.Sprintf("Dispatched to worker %s", workerID))

	sch.logger.Printf("Dispatched transaction %s (%d actions) to worker %s", tx.ID, len(tx.Actions), workerID)

	sch.mu.Lock()
	sch.activeWorkers++
	sch.connectorCounts[connectorName]++
	sch.mu.Unlock()

	sch.wg.Add(1)
	go sch.runWorker(tx, workerID, connectorName)
	return true
}

// runWorker applies one claimed transaction.
func (sch *Scheduler) runWorker(tx *models.Transaction, workerID, connectorName string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		sch.completed++
		sch.connectorCounts[connectorName]--
		sch.mu.Unlock()
	}()

	// A started transaction always runs to a final state; Stop waits for it.
	ctx := context.WithoutCancel(sch.ctx)

	result, err := sch.service.ExecuteTransaction(ctx, tx)
	if err != nil {
		sch.logger.Printf("Worker %s: transaction %s: %v", workerID, tx.ID, err)
		if uerr := sch.store.UpdateTransactionStatus(tx.ID, models.TxStatusFailed, err.Error()); uerr != nil {
			sch.logger.Printf("Worker %s: mark transaction %s failed: %v", workerID, tx.ID, uerr)
		}
		return
	}

	sch.logger.Printf("Worker %s finished transaction %s: %s", workerID, tx.ID, result.Status)
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	connectorCounts := make(map[string]int)
	for k, v := range sch.connectorCounts {
		connectorCounts[k] = v
	}

	return map[string]interface{}{
		"active_workers":   sch.activeWorkers,
		"completed":        sch.completed,
		"global_max":       sch.config.GlobalMax,
		"connector_counts": connectorCounts,
	}
}
