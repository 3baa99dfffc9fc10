package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tendersync/internal/repository"
	"tendersync/internal/service"
)

type ProjectsHandler struct {
	Projects *service.Projects
	Logger   *zap.Logger
}

func (h *ProjectsHandler) Register(r *gin.Engine) {
	group := r.Group("/api/projects")
	group.GET("", h.listFeatured)
	group.GET("/search", h.searchProjects)
	r.GET("/api/sources", h.listSources)
}

func (h *ProjectsHandler) searchProjects(c *gin.Context) {
	limit := intQuery(c, "limit", 25)
	page := intQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	params := repository.SearchProjectsParams{
		Query:  strings.TrimSpace(c.Query("q")),
		Source: strings.TrimSpace(c.Query("source")),
		Status: strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	items, total, err := h.Projects.Search(c.Request.Context(), params)
	if err != nil {
		h.Logger.Warn("project search failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *ProjectsHandler) listFeatured(c *gin.Context) {
	items, err := h.Projects.Featured(c.Request.Context(), intQuery(c, "limit", 10))
	if err != nil {
		h.Logger.Warn("featured projects failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *ProjectsHandler) listSources(c *gin.Context) {
	sources, err := h.Projects.Sources(c.Request.Context())
	if err != nil {
		h.Logger.Warn("list sources failed", zap.Error(err))
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, sources, nil)
}
