package db

import (
	"errors"

	"tendersync/internal/models"
)

func (d *DB) AutoMigrate() error {
	if d == nil || d.Gorm == nil {
		return errors.New("db not open")
	}
	return d.Gorm.AutoMigrate(
		&models.Project{},
		&models.ScrapeRun{},
		&models.ScraperSetting{},
	)
}
