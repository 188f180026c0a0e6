package repo

import (
	"shaka-fleet/backend/app/models"

	"gorm.io/gorm"
)

type WebhookEventRepository struct{ db *gorm.DB }

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(e *models.WebhookEvent) error { return r.db.Create(e).Error }

func (r *WebhookEventRepository) Latest(limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var evs []models.WebhookEvent
	err := r.db.Order("id DESC").Limit(limit).Find(&evs).Error
	return evs, err
}
