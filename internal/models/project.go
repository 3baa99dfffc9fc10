package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project is the canonical cross-source representation of a procurement
// listing. Scraped rows are keyed by (SourceSiteKey, SourceExternalID);
// manual entries leave both null and are exempt from that uniqueness.
type Project struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement"`
	Title       string  `gorm:"type:text;not null"`
	Description *string `gorm:"type:text"`

	SourceSiteKey    *string        `gorm:"type:text;uniqueIndex:idx_projects_source_identity"`
	SourceExternalID *string        `gorm:"type:text;uniqueIndex:idx_projects_source_identity"`
	SourceSiteName   *string        `gorm:"type:text"`
	SourceURL        *string        `gorm:"type:text"`
	SourceStatus     *string        `gorm:"type:text"`
	SourceScope      *string        `gorm:"type:text"`
	SourceTimezone   *string        `gorm:"type:text"`
	SourceRaw        datatypes.JSON `gorm:"type:jsonb"`

	SolicitationNumber   *string `gorm:"type:text;index"`
	SolicitationType     *string `gorm:"type:text"`
	SolicitationFormType *string `gorm:"type:text"`
	PurchasingGroup      *string `gorm:"type:text"`
	HighLevelCategory    *string `gorm:"type:text"`
	BuyerName            *string `gorm:"type:text"`
	BuyerEmail           *string `gorm:"type:text"`
	BuyerPhone           *string `gorm:"type:text"`
	BuyerLocation        *string `gorm:"type:text"`
	Location             *string `gorm:"type:text"`

	PublishedAt     *time.Time `gorm:"type:timestamptz;index"`
	DateAvailableAt *time.Time `gorm:"type:timestamptz"`
	DateIssueAt     *time.Time `gorm:"type:timestamptz"`
	DatePublishAt   *time.Time `gorm:"type:timestamptz"`
	DateClosingAt   *time.Time `gorm:"type:timestamptz;index"`

	IsManualEntry bool `gorm:"not null;default:false"`
	IsFeatured    bool `gorm:"not null;default:false"`

	CreatedAt time.Time      `gorm:"type:timestamptz;not null"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null"`
	DeletedAt gorm.DeletedAt `gorm:"type:timestamptz;index"`
}

func (Project) TableName() string {
	return "projects"
}

// ComputedStatus derives the status served to readers. A closing date in the
// past wins over whatever the source last reported.
func (p *Project) ComputedStatus() string {
	return p.ComputedStatusAt(time.Now())
}

func (p *Project) ComputedStatusAt(now time.Time) string {
	if p.DateClosingAt != nil && p.DateClosingAt.Before(now) {
		return "Expired"
	}
	raw := ""
	if p.SourceStatus != nil {
		raw = strings.TrimSpace(*p.SourceStatus)
	}
	if strings.Contains(strings.ToLower(raw), "award") {
		return "Awarded"
	}
	if raw == "" {
		return "Open"
	}
	return raw
}
