package models

import "time"

type WebhookEvent struct {
	ID             uint   `gorm:"primaryKey"`
	Provider       string `gorm:"size:32;index"`
	EventType      string `gorm:"size:96"`
	CorrelationKey string `gorm:"size:191"`
	DeviceID       string `gorm:"size:191;index"`
	Forwarded      bool
	Reason         string    `gorm:"size:255"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}
