package service

import (
	"context"
	"time"

	"tendersync/internal/models"
	"tendersync/internal/repository"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	projects map[string]*models.Project
	runs     []*models.ScrapeRun
	settings map[string]*models.ScraperSetting

	upsertCalls int
	failUpsert  error
}

func newStubStore() *stubStore {
	return &stubStore{
		projects: map[string]*models.Project{},
		settings: map[string]*models.ScraperSetting{},
	}
}

func projectKey(sourceKey, externalID string) string {
	return sourceKey + "/" + externalID
}

func (s *stubStore) GetProjectBySourceIdentity(_ context.Context, sourceKey, externalID string) (*models.Project, error) {
	p, ok := s.projects[projectKey(sourceKey, externalID)]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (s *stubStore) UpsertProject(_ context.Context, item *models.Project) error {
	s.upsertCalls++
	if s.failUpsert != nil {
		return s.failUpsert
	}
	key := projectKey(deref(item.SourceSiteKey), deref(item.SourceExternalID))
	if existing, ok := s.projects[key]; ok {
		item.ID = existing.ID
	} else if item.ID == 0 {
		item.ID = uint64(len(s.projects) + 1)
	}
	clone := *item
	s.projects[key] = &clone
	return nil
}

func (s *stubStore) ListFeaturedProjects(_ context.Context, _ int) ([]models.Project, error) {
	var out []models.Project
	for _, p := range s.projects {
		if p.IsFeatured {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubStore) SearchProjects(_ context.Context, _ repository.SearchProjectsParams) ([]models.Project, int64, error) {
	var out []models.Project
	for _, p := range s.projects {
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (s *stubStore) ListSourceNames(_ context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubStore) CreateScrapeRun(_ context.Context, run *models.ScrapeRun) error {
	run.ID = uint64(len(s.runs) + 1)
	s.runs = append(s.runs, run)
	return nil
}

func (s *stubStore) FinishScrapeRun(_ context.Context, id uint64, status string, finishedAt time.Time, found, upserted int, message *string) error {
	for _, run := range s.runs {
		if run.ID != id {
			continue
		}
		run.Status = status
		run.FinishedAt = &finishedAt
		run.ItemsFound = found
		run.ItemsUpserted = upserted
		run.Message = message
		return nil
	}
	return nil
}

func (s *stubStore) ListScrapeRuns(_ context.Context, _ repository.ListRunsParams) ([]models.ScrapeRun, int64, error) {
	var out []models.ScrapeRun
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, int64(len(out)), nil
}

func (s *stubStore) LatestRunsBySource(_ context.Context) (map[string]models.ScrapeRun, error) {
	out := map[string]models.ScrapeRun{}
	for _, run := range s.runs {
		out[run.SourceSiteKey] = *run
	}
	return out, nil
}

func (s *stubStore) GetScraperSetting(_ context.Context, sourceKey string) (*models.ScraperSetting, error) {
	return s.settings[sourceKey], nil
}

func (s *stubStore) ListScraperSettings(_ context.Context) ([]models.ScraperSetting, error) {
	var out []models.ScraperSetting
	for _, setting := range s.settings {
		out = append(out, *setting)
	}
	return out, nil
}

func (s *stubStore) SaveScraperSetting(_ context.Context, setting *models.ScraperSetting) error {
	s.settings[setting.SourceSiteKey] = setting
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ repository.Store = (*stubStore)(nil)
