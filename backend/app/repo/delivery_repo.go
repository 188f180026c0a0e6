package repo

import (
	"shaka-fleet/backend/app/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryRepository keeps the audit log of command deliveries. It is not a
// queue: pending commands live in the device registry.
type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(rec *models.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.db.Create(rec).Error
}

// ListByDevice returns the newest records first. An empty deviceID lists all.
func (r *DeliveryRepository) ListByDevice(deviceID string, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.Model(&models.DeliveryRecord{})
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	var recs []models.DeliveryRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *DeliveryRepository) CountByTransport(transport string) (int64, error) {
	var n int64
	return n, r.db.Model(&models.DeliveryRecord{}).Where("transport = ?", transport).Count(&n).Error
}
