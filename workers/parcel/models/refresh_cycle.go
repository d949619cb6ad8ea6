package models

import "time"

// RefreshCycle is the audit row written for every completed refresh cycle.
type RefreshCycle struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	EntryID       string    `gorm:"size:64;not null;index"`
	Cycle         uint64    `gorm:"not null"`
	StartedAt     time.Time `gorm:"not null"`
	FinishedAt    time.Time `gorm:"not null"`
	Success       bool      `gorm:"not null"`
	Result        string    `gorm:"size:32;not null"`
	ErrorMessage  string    `gorm:"size:512"`
	DeliveryCount int       `gorm:"not null"`
}
