package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ScraperSetting is the per-source enable flag plus the adapter-specific
// parameter blob (page caps, session credentials, expected counts).
type ScraperSetting struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement"`
	SourceSiteKey string         `gorm:"type:text;not null;uniqueIndex"`
	IsEnabled     bool           `gorm:"not null;default:true;index"`
	Settings      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;not null"`
	UpdatedAt     time.Time      `gorm:"type:timestamptz;not null"`
}

func (ScraperSetting) TableName() string {
	return "scraper_settings"
}

// Params decodes the settings blob into string parameters. Numeric JSON
// values are stringified so adapters can parse them uniformly.
func (s *ScraperSetting) Params() map[string]string {
	out := map[string]string{}
	if s == nil || len(s.Settings) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(s.Settings, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = json.Number(formatFloat(val)).String()
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		}
	}
	return out
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
