package models

import "time"

// DeliveryRecord is the audit trail of a command delivery attempt.
type DeliveryRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	DeviceID  string    `gorm:"size:191;index"`
	Kind      string    `gorm:"size:32"`
	Transport string    `gorm:"size:16;index"` // live,direct-http,queued
	Payload   string    `gorm:"type:text"`
	LastError string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
