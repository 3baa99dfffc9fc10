package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tendersync/internal/models"
	"tendersync/internal/repository"
)

// projectUpdateColumns are the columns refreshed when an incoming record
// collides with an existing (source_site_key, source_external_id) pair.
// is_featured and is_manual_entry stay whatever an operator set them to.
var projectUpdateColumns = []string{
	"title", "description",
	"source_site_name", "source_url", "source_status", "source_scope",
	"source_timezone", "source_raw",
	"solicitation_number", "solicitation_type", "solicitation_form_type",
	"purchasing_group", "high_level_category",
	"buyer_name", "buyer_email", "buyer_phone", "buyer_location",
	"location", "published_at",
	"date_available_at", "date_issue_at", "date_publish_at", "date_closing_at",
	"updated_at",
}

type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetProjectBySourceIdentity(ctx context.Context, sourceKey, externalID string) (*models.Project, error) {
	var item models.Project
	err := s.db.WithContext(ctx).
		Where("source_site_key = ? AND source_external_id = ?", sourceKey, externalID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s/%s: %w", sourceKey, externalID, err)
	}
	return &item, nil
}

func (s *Store) UpsertProject(ctx context.Context, item *models.Project) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source_site_key"},
				{Name: "source_external_id"},
			},
			DoUpdates: clause.AssignmentColumns(projectUpdateColumns),
		}).
		Create(item).Error
	if err != nil {
		key, ext := "", ""
		if item.SourceSiteKey != nil {
			key = *item.SourceSiteKey
		}
		if item.SourceExternalID != nil {
			ext = *item.SourceExternalID
		}
		return fmt.Errorf("upsert project %s/%s: %w", key, ext, err)
	}
	return nil
}

func (s *Store) ListFeaturedProjects(ctx context.Context, limit int) ([]models.Project, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []models.Project
	err := s.db.WithContext(ctx).
		Where("is_featured = ?", true).
		Order("date_closing_at ASC NULLS LAST").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list featured projects: %w", err)
	}
	return items, nil
}

// publiclyVisible keeps records from sources an operator disabled out of
// public listings. Manual entries have no source and always pass.
func publiclyVisible(db *gorm.DB) *gorm.DB {
	disabled := db.Session(&gorm.Session{NewDB: true}).
		Model(&models.ScraperSetting{}).
		Select("source_site_key").
		Where("is_enabled = ?", false)
	return db.Where("is_manual_entry = ? OR source_site_key NOT IN (?)", true, disabled)
}

func searchProjectsQuery(db *gorm.DB, params repository.SearchProjectsParams, now time.Time) *gorm.DB {
	q := publiclyVisible(db.Model(&models.Project{}))

	if trimmed := strings.TrimSpace(params.Query); trimmed != "" {
		like := "%" + trimmed + "%"
		q = q.Where(
			"title ILIKE ? OR description ILIKE ? OR solicitation_number ILIKE ? OR purchasing_group ILIKE ?",
			like, like, like, like,
		)
	}
	if params.Source != "" {
		// Callers pass either the machine key or the display name.
		q = q.Where("source_site_key = ? OR source_site_name = ?", params.Source, params.Source)
	}

	switch params.Status {
	case "open":
		q = q.Where("date_closing_at IS NULL OR date_closing_at > ?", now).
			Where("source_status IS NULL OR source_status = '' OR lower(source_status) IN ?",
				[]string{"open", "active", "published"})
	case "awarded":
		q = q.Where("source_status ILIKE ?", "%award%")
	case "expired":
		q = q.Where("date_closing_at IS NOT NULL AND date_closing_at <= ?", now)
	}
	return q
}

func (s *Store) SearchProjects(ctx context.Context, params repository.SearchProjectsParams) ([]models.Project, int64, error) {
	q := searchProjectsQuery(s.db.WithContext(ctx), params, time.Now().UTC())

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var items []models.Project
	err := q.Order("date_closing_at ASC NULLS LAST").
		Limit(limit).
		Offset(params.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("search projects: %w", err)
	}
	return items, total, nil
}

// sourceNamesQuery lists the distinct display names behind the public
// listings. Manual entries carry a NULL name and would break the scan.
func sourceNamesQuery(db *gorm.DB) *gorm.DB {
	return publiclyVisible(db.Model(&models.Project{})).
		Where("source_site_name IS NOT NULL").
		Distinct("source_site_name").
		Order("source_site_name ASC")
}

func (s *Store) ListSourceNames(ctx context.Context) ([]string, error) {
	var names []string
	err := sourceNamesQuery(s.db.WithContext(ctx)).
		Pluck("source_site_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list source names: %w", err)
	}
	return names, nil
}

func (s *Store) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create scrape run for %s: %w", run.SourceSiteKey, err)
	}
	return nil
}

func (s *Store) FinishScrapeRun(ctx context.Context, id uint64, status string, finishedAt time.Time, found, upserted int, message *string) error {
	updates := map[string]any{
		"status":         status,
		"finished_at":    finishedAt,
		"items_found":    found,
		"items_upserted": upserted,
		"message":        message,
	}
	res := s.db.WithContext(ctx).
		Model(&models.ScrapeRun{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finish scrape run %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish scrape run %d: not found", id)
	}
	return nil
}

func (s *Store) ListScrapeRuns(ctx context.Context, params repository.ListRunsParams) ([]models.ScrapeRun, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ScrapeRun{})
	if params.SourceSiteKey != "" {
		q = q.Where("source_site_key = ?", params.SourceSiteKey)
	}
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count scrape runs: %w", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.ScrapeRun
	err := q.Order("started_at DESC").
		Limit(limit).
		Offset(params.Offset).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list scrape runs: %w", err)
	}
	return runs, total, nil
}

func (s *Store) LatestRunsBySource(ctx context.Context) (map[string]models.ScrapeRun, error) {
	var runs []models.ScrapeRun
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (source_site_key) *
		     FROM scrape_runs
		     ORDER BY source_site_key, started_at DESC`).
		Scan(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("latest runs by source: %w", err)
	}
	out := make(map[string]models.ScrapeRun, len(runs))
	for _, r := range runs {
		out[r.SourceSiteKey] = r
	}
	return out, nil
}

func (s *Store) GetScraperSetting(ctx context.Context, sourceKey string) (*models.ScraperSetting, error) {
	var setting models.ScraperSetting
	err := s.db.WithContext(ctx).
		Where("source_site_key = ?", sourceKey).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scraper setting %s: %w", sourceKey, err)
	}
	return &setting, nil
}

func (s *Store) ListScraperSettings(ctx context.Context) ([]models.ScraperSetting, error) {
	var settings []models.ScraperSetting
	err := s.db.WithContext(ctx).
		Order("source_site_key ASC").
		Find(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("list scraper settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SaveScraperSetting(ctx context.Context, setting *models.ScraperSetting) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_site_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "settings", "updated_at"}),
		}).
		Create(setting).Error
	if err != nil {
		return fmt.Errorf("save scraper setting %s: %w", setting.SourceSiteKey, err)
	}
	return nil
}
