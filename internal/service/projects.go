package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tendersync/internal/models"
	"tendersync/internal/repository"
)

// ProjectView is the read shape served to clients: the stored row plus the
// derived status.
type ProjectView struct {
	models.Project
	ComputedStatus string `json:"computed_status"`
}

type Projects struct {
	store repository.Store
	log   *zap.Logger
}

func NewProjects(store repository.Store, log *zap.Logger) *Projects {
	return &Projects{store: store, log: log}
}

func (p *Projects) Featured(ctx context.Context, limit int) ([]ProjectView, error) {
	items, err := p.store.ListFeaturedProjects(ctx, limit)
	if err != nil {
		return nil, err
	}
	return toViews(items), nil
}

func (p *Projects) Search(ctx context.Context, params repository.SearchProjectsParams) ([]ProjectView, int64, error) {
	items, total, err := p.store.SearchProjects(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return toViews(items), total, nil
}

func (p *Projects) Sources(ctx context.Context) ([]string, error) {
	return p.store.ListSourceNames(ctx)
}

func toViews(items []models.Project) []ProjectView {
	now := time.Now()
	views := make([]ProjectView, 0, len(items))
	for _, item := range items {
		views = append(views, ProjectView{
			Project:        item,
			ComputedStatus: item.ComputedStatusAt(now),
		})
	}
	return views
}
