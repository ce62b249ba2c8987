package service

import (
	"context"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/logger"
)

const (
	historyQueueSize  = 512
	historyPruneEvery = 50
)

// HistoryRecorder persists accepted statuses off the reconciler's path and
// keeps at most limit rows per device.
type HistoryRecorder struct {
	repo   repository.StatusHistoryRepository
	limit  int
	queue  chan models.DeviceStatus
	counts map[string]int
	log    logger.Logger
}

// NewHistoryRecorder creates a recorder writing to repo. Nothing is written
// until Run is started.
func NewHistoryRecorder(repo repository.StatusHistoryRepository, limit int, log logger.Logger) *HistoryRecorder {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &HistoryRecorder{
		repo:   repo,
		limit:  limit,
		queue:  make(chan models.DeviceStatus, historyQueueSize),
		counts: make(map[string]int),
		log:    log.WithComponent("history"),
	}
}

// Record enqueues a change without blocking. A full queue drops it.
func (h *HistoryRecorder) Record(change models.StatusChange) {
	select {
	case h.queue <- change.Current:
	default:
		h.log.Warn(context.Background(), "History queue full, dropping status",
			logger.Serial(change.Current.Serial))
	}
}

// Run writes queued statuses until ctx is done.
func (h *HistoryRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-h.queue:
			h.write(ctx, status)
		}
	}
}

func (h *HistoryRecorder) write(ctx context.Context, status models.DeviceStatus) {
	if err := h.repo.Append(ctx, status); err != nil {
		h.log.Error(ctx, "Failed to record status", err, logger.Serial(status.Serial))
		return
	}
	h.counts[status.Serial]++
	if h.limit <= 0 || h.counts[status.Serial] < historyPruneEvery {
		return
	}
	h.counts[status.Serial] = 0
	if _, err := h.repo.Prune(ctx, status.Serial, h.limit); err != nil {
		h.log.Error(ctx, "Failed to prune status history", err, logger.Serial(status.Serial))
	}
}
