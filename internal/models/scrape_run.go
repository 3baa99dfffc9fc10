package models

import "time"

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusWarning = "warning"
	RunStatusFailed  = "failed"
)

// ScrapeRun is one adapter invocation in the append-only run ledger. Rows are
// created with status "running" and receive exactly one terminal update.
type ScrapeRun struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement"`
	SourceSiteKey string     `gorm:"type:text;not null;index"`
	Status        string     `gorm:"type:text;not null;index"`
	StartedAt     time.Time  `gorm:"type:timestamptz;not null;index"`
	FinishedAt    *time.Time `gorm:"type:timestamptz"`
	ItemsFound    int        `gorm:"not null;default:0"`
	ItemsUpserted int        `gorm:"not null;default:0"`
	Message       *string    `gorm:"type:text"`
	CreatedAt     time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt     time.Time  `gorm:"type:timestamptz;not null"`
}

func (ScrapeRun) TableName() string {
	return "scrape_runs"
}
