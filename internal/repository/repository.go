package repository

import (
	"context"
	"time"

	"tendersync/internal/models"
)

type ListRunsParams struct {
	SourceSiteKey string
	Status        string
	Limit         int
	Offset        int
}

type SearchProjectsParams struct {
	Query  string
	Source string
	// Status filters on the derived status: "open", "awarded" or "expired".
	Status string
	Limit  int
	Offset int
}

// Store is the persistence surface used by the ingestion pipeline and the
// HTTP handlers. The gorm implementation lives in repository/gorm.
type Store interface {
	// Projects
	GetProjectBySourceIdentity(ctx context.Context, sourceKey, externalID string) (*models.Project, error)
	UpsertProject(ctx context.Context, item *models.Project) error
	ListFeaturedProjects(ctx context.Context, limit int) ([]models.Project, error)
	SearchProjects(ctx context.Context, params SearchProjectsParams) ([]models.Project, int64, error)
	ListSourceNames(ctx context.Context) ([]string, error)

	// Run ledger
	CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	FinishScrapeRun(ctx context.Context, id uint64, status string, finishedAt time.Time, found, upserted int, message *string) error
	ListScrapeRuns(ctx context.Context, params ListRunsParams) ([]models.ScrapeRun, int64, error)
	LatestRunsBySource(ctx context.Context) (map[string]models.ScrapeRun, error)

	// Source configuration
	GetScraperSetting(ctx context.Context, sourceKey string) (*models.ScraperSetting, error)
	ListScraperSettings(ctx context.Context) ([]models.ScraperSetting, error)
	SaveScraperSetting(ctx context.Context, setting *models.ScraperSetting) error
}
