package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// InfraOntario ingests Infrastructure Ontario's project search, filtered to
// projects in the procurement stage. Tiles have no numeric id, so the tile
// URL path doubles as the external id.
type InfraOntario struct {
	BaseURL     string
	FrontendURL string

	client *Client
	log    *zap.Logger
}

func NewInfraOntario(cfg ClientConfig, log *zap.Logger) *InfraOntario {
	return &InfraOntario{
		BaseURL:     "https://www.infrastructureontario.ca/en/what-we-do/projectssearch/GetSearchResults",
		FrontendURL: "https://www.infrastructureontario.ca",
		client:      NewClient(cfg, log),
		log:         log,
	}
}

func (io *InfraOntario) Key() string  { return KeyInfraOntario }
func (io *InfraOntario) Name() string { return "Infrastructure Ontario Projects" }

const infraOntarioFacets = "projectstage:inprocurement"

type infraOntarioResponse struct {
	TotalCount          int `json:"totalCount"`
	PaginationViewModel struct {
		PageSize     int `json:"pageSize"`
		TotalNumPage int `json:"totalNumPage"`
	} `json:"paginationViewModel"`
	SearchResults struct {
		RowViewModels []json.RawMessage `json:"rowViewModels"`
	} `json:"searchResults"`
}

func (io *InfraOntario) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	maxPages := params.Int("max_pages", 10)
	if maxPages < 1 {
		maxPages = 1
	}

	header := http.Header{}
	header.Set("Accept", "application/json, text/plain, */*")
	header.Set("Referer", io.FrontendURL+"/en/what-we-do/projectssearch/?cpage=1&facets=projectstage%3Ainprocurement")

	page := 1
	totalPages := 1
	for page <= maxPages && page <= totalPages {
		q := url.Values{}
		q.Set("facets", infraOntarioFacets)
		q.Set("cpage", strconv.Itoa(page))

		body, _, err := io.client.Get(ctx, io.BaseURL+"?"+q.Encode(), header)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		var parsed infraOntarioResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode page %d: %w", page, err)
		}

		totalPages = parsed.PaginationViewModel.TotalNumPage
		if totalPages == 0 {
			pageSize := parsed.PaginationViewModel.PageSize
			if pageSize <= 0 {
				pageSize = 6
			}
			totalPages = int(math.Ceil(float64(parsed.TotalCount) / float64(pageSize)))
			if totalPages < 1 {
				totalPages = 1
			}
		}

		rows := parsed.SearchResults.RowViewModels
		res.Found += len(rows)
		for _, raw := range rows {
			changed, err := io.ingestRow(ctx, raw, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		page++
		if err := io.client.PageDelay(ctx, 0); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (io *InfraOntario) ingestRow(ctx context.Context, raw json.RawMessage, ing Ingester) (bool, error) {
	var row struct {
		TileTitle     string `json:"tileTitle"`
		TileURL       string `json:"tileUrl"`
		TileShortDesc string `json:"tileShortDesc"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		io.log.Debug("skipping malformed row", zap.Error(err))
		return false, nil
	}
	if row.TileTitle == "" || row.TileURL == "" {
		return false, nil
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	cand := Candidate{
		ExternalID:  strings.Trim(row.TileURL, "/"),
		Title:       row.TileTitle,
		Description: Str(row.TileShortDesc),
		SourceURL:   Str(io.FrontendURL + row.TileURL),
		Scope:       Str("Project Stage: In Procurement"),
		Raw:         rawMap,
		Location:    Str("Ontario"),
	}
	return ing.Upsert(ctx, io.Key(), io.Name(), cand)
}
