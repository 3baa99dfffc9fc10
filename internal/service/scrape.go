package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tendersync/internal/models"
	"tendersync/internal/repository"
	"tendersync/internal/scraper"
)

// Scraper runs source adapters and keeps the run ledger honest: every run
// gets a "running" row up front and is finalized exactly once, whatever
// happens in between.
type Scraper struct {
	store    repository.Store
	registry *scraper.Registry
	ingester *Ingester
	log      *zap.Logger

	continueOnError bool
	defaults        scraper.Params
}

// NewScraper wires the run pipeline. defaults are config-level adapter
// params (paging knobs); persisted settings and per-run overrides shadow
// them.
func NewScraper(store repository.Store, registry *scraper.Registry, ingester *Ingester, log *zap.Logger, continueOnError bool, defaults scraper.Params) *Scraper {
	return &Scraper{
		store:           store,
		registry:        registry,
		ingester:        ingester,
		log:             log,
		continueOnError: continueOnError,
		defaults:        defaults,
	}
}

// RunSource executes one adapter and records the run. A direct run ignores
// the source's enabled flag; disabling only removes a source from batches.
// Overrides win over the persisted settings for this run only.
func (s *Scraper) RunSource(ctx context.Context, sourceKey string, overrides map[string]string) (*models.ScrapeRun, error) {
	adapter, ok := s.registry.Get(sourceKey)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", sourceKey)
	}

	run := &models.ScrapeRun{
		SourceSiteKey: sourceKey,
		Status:        models.RunStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateScrapeRun(ctx, run); err != nil {
		return nil, err
	}

	setting, err := s.store.GetScraperSetting(ctx, sourceKey)
	if err != nil {
		s.finalize(run, models.RunStatusFailed, scraper.Result{}, err.Error())
		return run, err
	}
	params := scraper.Params{}
	for k, v := range s.defaults {
		params[k] = v
	}
	for k, v := range setting.Params() {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}

	log := s.log.With(zap.String("source", sourceKey))
	log.Info("scrape started")
	result, runErr := adapter.Run(ctx, params, s.ingester)

	switch {
	case runErr != nil:
		s.finalize(run, models.RunStatusFailed, result, runErr.Error())
		log.Error("scrape failed",
			zap.Int("found", result.Found),
			zap.Int("upserted", result.Upserted),
			zap.Error(runErr))
	case result.Warning != "":
		s.finalize(run, models.RunStatusWarning, result, result.Warning)
		log.Warn("scrape finished with warning",
			zap.Int("found", result.Found),
			zap.Int("upserted", result.Upserted),
			zap.String("warning", result.Warning))
	default:
		s.finalize(run, models.RunStatusSuccess, result, "")
		log.Info("scrape finished",
			zap.Int("found", result.Found),
			zap.Int("upserted", result.Upserted))
	}
	return run, runErr
}

// finalize writes the run's terminal state. Ledger write failures are
// logged rather than surfaced; the scrape outcome already happened.
func (s *Scraper) finalize(run *models.ScrapeRun, status string, result scraper.Result, message string) {
	finishedAt := time.Now().UTC()
	var msg *string
	if message != "" {
		msg = &message
	}

	// The original context may already be dead; the ledger row still has
	// to leave the "running" state.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.FinishScrapeRun(ctx, run.ID, status, finishedAt, result.Found, result.Upserted, msg); err != nil {
		s.log.Error("failed to finalize scrape run",
			zap.Uint64("run_id", run.ID),
			zap.String("source", run.SourceSiteKey),
			zap.Error(err))
		return
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.ItemsFound = result.Found
	run.ItemsUpserted = result.Upserted
	run.Message = msg
}

// BatchSummary reports one batch invocation.
type BatchSummary struct {
	Ran     []string `json:"ran"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// RunAll executes every registered adapter sequentially in registration
// order, skipping sources an operator disabled. With continue-on-error the
// batch visits every source and reports the failures; without it the first
// failure stops the batch.
func (s *Scraper) RunAll(ctx context.Context) (BatchSummary, error) {
	var summary BatchSummary
	for _, key := range s.registry.Keys() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		setting, err := s.store.GetScraperSetting(ctx, key)
		if err != nil {
			return summary, err
		}
		if setting != nil && !setting.IsEnabled {
			s.log.Info("source disabled, skipping", zap.String("source", key))
			summary.Skipped = append(summary.Skipped, key)
			continue
		}

		if _, err := s.RunSource(ctx, key, nil); err != nil {
			summary.Failed = append(summary.Failed, key)
			if !s.continueOnError {
				return summary, fmt.Errorf("source %s: %w", key, err)
			}
			continue
		}
		summary.Ran = append(summary.Ran, key)
	}
	return summary, nil
}
