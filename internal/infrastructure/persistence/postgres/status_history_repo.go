package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/logger"
)

// statusRecord is one accepted device status.
type statusRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Serial     string    `gorm:"size:64;not null;index:idx_status_serial_observed,priority:1"`
	Gate       string    `gorm:"size:16;not null"`
	Relay      string    `gorm:"size:16;not null"`
	Source     string    `gorm:"size:8;not null"`
	ObservedAt time.Time `gorm:"not null;index:idx_status_serial_observed,priority:2"`
	CreatedAt  time.Time
}

func (statusRecord) TableName() string { return "contatto_status_history" }

// StatusHistoryRepositoryImpl implements repository.StatusHistoryRepository with GORM.
type StatusHistoryRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewStatusHistoryRepository creates a GORM status history repository.
func NewStatusHistoryRepository(db *gorm.DB, log logger.Logger) *StatusHistoryRepositoryImpl {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &StatusHistoryRepositoryImpl{db: db, logger: log.WithComponent("status-history-repo")}
}

// Append stores one status.
func (r *StatusHistoryRepositoryImpl) Append(ctx context.Context, status models.DeviceStatus) error {
	rec := statusRecord{
		Serial:     status.Serial,
		Gate:       string(status.Gate),
		Relay:      string(status.Relay),
		Source:     string(status.Source),
		ObservedAt: status.ObservedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.logger.Error(ctx, "Failed to append status", err, logger.Serial(status.Serial))
		return mapPgErr(err)
	}
	return nil
}

// ListBySerial returns up to limit statuses of a device, newest first.
func (r *StatusHistoryRepositoryImpl) ListBySerial(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error) {
	var recs []statusRecord
	err := r.db.WithContext(ctx).
		Where("serial = ?", serial).
		Order("observed_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, mapPgErr(err)
	}

	out := make([]models.DeviceStatus, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.DeviceStatus{
			Serial:     rec.Serial,
			Gate:       models.GateState(rec.Gate),
			Relay:      models.RelayState(rec.Relay),
			Source:     models.StatusSource(rec.Source),
			ObservedAt: rec.ObservedAt.UTC(),
		})
	}
	return out, nil
}

// Prune keeps the newest keep statuses of a device and deletes the rest.
func (r *StatusHistoryRepositoryImpl) Prune(ctx context.Context, serial string, keep int) (int64, error) {
	newest := r.db.Model(&statusRecord{}).
		Select("id").
		Where("serial = ?", serial).
		Order("observed_at DESC, id DESC").
		Limit(keep)

	res := r.db.WithContext(ctx).
		Where("serial = ? AND id NOT IN (?)", serial, newest).
		Delete(&statusRecord{})
	if res.Error != nil {
		return 0, mapPgErr(res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.Debug(ctx, "Pruned status history",
			logger.Serial(serial),
			logger.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

var _ repository.StatusHistoryRepository = (*StatusHistoryRepositoryImpl)(nil)
