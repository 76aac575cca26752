package automation

import (
	"context"
	"fmt"

	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"go.uber.org/zap"
)

// QueueRecorder exposes the queue depth gauge. Satisfied by
// observability.Metrics.
type QueueRecorder interface {
	SetQueueDepth(n int)
}

// ProcessorStats summarizes one queue drain.
type ProcessorStats struct {
	Fetched   int `json:"fetched"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Processor drains pending actions from the queue and hands them to
// the dispatcher. Each claimed action reaches a terminal status:
// completed, or failed with its attempt counter incremented. Failed
// actions are not re-queued; the attempt budget only bounds actions
// that stay pending, such as a claim whose write-back never landed.
type Processor struct {
	queueRepo   repositories.ActionQueueRepository
	dispatcher  *Dispatcher
	metrics     QueueRecorder
	logger      *zap.Logger
	batchLimit  int
	maxAttempts int
}

// NewProcessor creates a new queue Processor instance.
func NewProcessor(queueRepo repositories.ActionQueueRepository, dispatcher *Dispatcher, metrics QueueRecorder, logger *zap.Logger, batchLimit, maxAttempts int) *Processor {
	return &Processor{
		queueRepo:   queueRepo,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
		batchLimit:  batchLimit,
		maxAttempts: maxAttempts,
	}
}

// Drain processes one batch of due pending actions for a tenant.
func (p *Processor) Drain(ctx context.Context, tenantSlug string) (*ProcessorStats, error) {
	actions, err := p.queueRepo.FetchPending(ctx, tenantSlug, p.batchLimit, p.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending actions: %w", err)
	}

	stats := &ProcessorStats{Fetched: len(actions)}
	if p.metrics != nil {
		p.metrics.SetQueueDepth(len(actions))
	}

	for _, action := range actions {
		if err := p.process(ctx, action); err != nil {
			// The action stays pending and will be retried; log and
			// keep draining the rest of the batch.
			p.logger.Error("failed to process action",
				zap.String("action_id", action.ID.String()),
				zap.Error(err))
			continue
		}
		if action.Status == models.ActionStatusCompleted {
			stats.Completed++
		} else {
			stats.Failed++
		}
	}

	p.logger.Info("queue drained",
		zap.String("tenant_slug", tenantSlug),
		zap.Int("fetched", stats.Fetched),
		zap.Int("completed", stats.Completed),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (p *Processor) process(ctx context.Context, action *models.AutomationAction) error {
	if err := p.queueRepo.MarkStatus(ctx, action.ID, models.ActionStatusProcessing, "", false); err != nil {
		return err
	}

	result := p.dispatcher.Dispatch(ctx, action)

	// Failed dispatches consume one attempt; completions do not need
	// the counter.
	increment := result.Status == models.ActionStatusFailed
	if err := p.queueRepo.MarkStatus(ctx, action.ID, result.Status, result.Error, increment); err != nil {
		return err
	}

	action.Status = result.Status
	action.Error = result.Error
	return nil
}
