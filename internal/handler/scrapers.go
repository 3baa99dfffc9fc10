package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tendersync/internal/models"
	"tendersync/internal/repository"
	"tendersync/internal/scraper"
	"tendersync/internal/service"
)

type ScrapersHandler struct {
	Scraper  *service.Scraper
	Registry *scraper.Registry
	Store    repository.Store
	Logger   *zap.Logger
}

func (h *ScrapersHandler) Register(r *gin.Engine) {
	group := r.Group("/api/scrapers")
	group.GET("", h.listScrapers)
	group.PATCH("/:key", h.updateScraper)
	group.POST("/:key/run", h.runScraper)
	group.POST("/run-all", h.runAll)
	r.GET("/api/runs", h.listRuns)
}

type scraperStatus struct {
	SourceSiteKey string            `json:"source_site_key"`
	Name          string            `json:"name"`
	IsEnabled     bool              `json:"is_enabled"`
	Settings      json.RawMessage   `json:"settings,omitempty"`
	LastRun       *models.ScrapeRun `json:"last_run,omitempty"`
}

func (h *ScrapersHandler) listScrapers(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := h.Store.ListScraperSettings(ctx)
	if err != nil {
		h.Logger.Warn("list scraper settings failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	latest, err := h.Store.LatestRunsBySource(ctx)
	if err != nil {
		h.Logger.Warn("latest runs lookup failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	byKey := make(map[string]models.ScraperSetting, len(settings))
	for _, s := range settings {
		byKey[s.SourceSiteKey] = s
	}

	out := make([]scraperStatus, 0, len(h.Registry.Keys()))
	for _, key := range h.Registry.Keys() {
		adapter, _ := h.Registry.Get(key)
		status := scraperStatus{
			SourceSiteKey: key,
			Name:          adapter.Name(),
			IsEnabled:     true,
		}
		if s, ok := byKey[key]; ok {
			status.IsEnabled = s.IsEnabled
			status.Settings = json.RawMessage(s.Settings)
		}
		if run, ok := latest[key]; ok {
			runCopy := run
			status.LastRun = &runCopy
		}
		out = append(out, status)
	}
	Ok(c, out, nil)
}

type updateScraperRequest struct {
	IsEnabled *bool           `json:"is_enabled"`
	Settings  json.RawMessage `json:"settings"`
}

func (h *ScrapersHandler) updateScraper(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if _, ok := h.Registry.Get(key); !ok {
		Error(c, http.StatusNotFound, "unknown source", nil)
		return
	}

	var req updateScraperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Settings != nil && !json.Valid(req.Settings) {
		Error(c, http.StatusBadRequest, "settings must be a JSON object", nil)
		return
	}

	ctx := c.Request.Context()
	setting, err := h.Store.GetScraperSetting(ctx, key)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if setting == nil {
		setting = &models.ScraperSetting{
			SourceSiteKey: key,
			IsEnabled:     true,
			CreatedAt:     time.Now().UTC(),
		}
	}
	if req.IsEnabled != nil {
		setting.IsEnabled = *req.IsEnabled
	}
	if req.Settings != nil {
		setting.Settings = datatypes.JSON(req.Settings)
	}
	setting.UpdatedAt = time.Now().UTC()

	if err := h.Store.SaveScraperSetting(ctx, setting); err != nil {
		h.Logger.Warn("save scraper setting failed", zap.String("source", key), zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, setting, nil)
}

func (h *ScrapersHandler) runScraper(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	overrides := map[string]string{}
	for param, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			overrides[param] = values[0]
		}
	}
	run, err := h.Scraper.RunSource(c.Request.Context(), key, overrides)
	if err != nil && run == nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		// The run happened and the ledger has the failure; report both.
		Ok(c, run, map[string]any{"error": err.Error()})
		return
	}
	Ok(c, run, nil)
}

func (h *ScrapersHandler) runAll(c *gin.Context) {
	summary, err := h.Scraper.RunAll(c.Request.Context())
	if err != nil {
		h.Logger.Warn("batch scrape failed", zap.Error(err))
		Ok(c, summary, map[string]any{"error": err.Error()})
		return
	}
	Ok(c, summary, nil)
}

func (h *ScrapersHandler) listRuns(c *gin.Context) {
	params := repository.ListRunsParams{
		SourceSiteKey: strings.TrimSpace(c.Query("source")),
		Status:        strings.TrimSpace(c.Query("status")),
		Limit:         intQuery(c, "limit", 50),
		Offset:        intQuery(c, "offset", 0),
	}
	runs, total, err := h.Store.ListScrapeRuns(c.Request.Context(), params)
	if err != nil {
		h.Logger.Warn("list runs failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, runs, map[string]any{"total": total})
}
