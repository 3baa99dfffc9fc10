package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Alberta ingests the Alberta Purchasing portal, a clean JSON search API
// paged by offset/limit. Offsets are 1-based.
type Alberta struct {
	BaseURL     string
	FrontendURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewAlberta(cfg ClientConfig, log *zap.Logger) *Alberta {
	return &Alberta{
		BaseURL:     "https://purchasing.alberta.ca/api/opportunity/search",
		FrontendURL: "https://purchasing.alberta.ca",
		client:      NewClient(cfg, log),
		log:         log,
		loc:         LoadLocation("America/Edmonton"),
	}
}

func (a *Alberta) Key() string  { return KeyAlberta }
func (a *Alberta) Name() string { return "Alberta Purchasing" }

type albertaSearchResponse struct {
	TotalCount int               `json:"totalCount"`
	Values     []json.RawMessage `json:"values"`
}

func (a *Alberta) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	limit := params.Int("limit", 50)
	if limit < 1 {
		limit = 1
	}
	maxPages := params.Int("max_pages", 10)
	if maxPages < 1 {
		maxPages = 1
	}

	header := http.Header{}
	header.Set("Accept", "application/json, text/plain, */*")
	header.Set("Origin", a.FrontendURL)
	header.Set("Referer", a.FrontendURL+"/search")

	page := 1
	totalPages := 1
	offset := 1
	for page <= maxPages && page <= totalPages {
		payload := map[string]any{
			"query":                   "",
			"queryMode":               "standard",
			"includeEnhancedMatchIds": false,
			"filter": map[string]any{
				"solicitationNumber":    "",
				"categories":            []string{},
				"statuses":              []string{},
				"agreementTypes":        []string{},
				"solicitationTypes":     []string{},
				"opportunityTypes":      []string{},
				"deliveryRegions":       []string{},
				"deliveryRegion":        "",
				"organizations":         []string{},
				"unspsc":                []string{},
				"postDateRange":         "$$custom",
				"closeDateRange":        "$$custom",
				"onlyBookmarked":        false,
				"onlyInterestExpressed": false,
			},
			"limit":  limit,
			"offset": offset,
			"sortOptions": []map[string]string{
				{"field": "PostDateTime", "direction": "desc"},
			},
		}

		body, _, err := a.client.PostJSON(ctx, a.BaseURL, payload, header)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		var parsed albertaSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode page %d: %w", page, err)
		}
		totalPages = int(math.Ceil(float64(parsed.TotalCount) / float64(limit)))

		res.Found += len(parsed.Values)
		for _, raw := range parsed.Values {
			changed, err := a.ingestRow(ctx, raw, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		page++
		offset += limit
		if err := a.client.PageDelay(ctx, 250*time.Millisecond); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (a *Alberta) ingestRow(ctx context.Context, raw json.RawMessage, ing Ingester) (bool, error) {
	var row struct {
		ID                      json.Number `json:"id"`
		Title                   string      `json:"title"`
		ShortTitle              string      `json:"shortTitle"`
		StatusCode              string      `json:"statusCode"`
		ProjectDescription      string      `json:"projectDescription"`
		PostDateTime            string      `json:"postDateTime"`
		CloseDateTime           string      `json:"closeDateTime"`
		ExternalOriginLink      string      `json:"externalOriginLink"`
		SolicitationNumber      string      `json:"solicitationNumber"`
		SolicitationTypeCode    string      `json:"solicitationTypeCode"`
		OpportunityTypeCode     string      `json:"opportunityTypeCode"`
		ContractingOrganization string      `json:"contractingOrganization"`
		RegionOfDelivery        []string    `json:"regionOfDelivery"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		a.log.Debug("skipping malformed row", zap.Error(err))
		return false, nil
	}

	externalID := row.ID.String()
	title := row.Title
	if title == "" {
		title = row.ShortTitle
	}
	if externalID == "" || title == "" {
		return false, nil
	}

	sourceURL := row.ExternalOriginLink
	if sourceURL == "" {
		sourceURL = a.FrontendURL + "/opportunity/" + externalID
	}
	location := "Alberta"
	if len(row.RegionOfDelivery) > 0 {
		location = strings.Join(row.RegionOfDelivery, ", ")
	}
	postDate := ParseDate(row.PostDateTime, a.loc)

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	cand := Candidate{
		ExternalID:         externalID,
		Title:              title,
		SkipCreate:         !IsOpenStatus(row.StatusCode),
		Description:        Str(row.ProjectDescription),
		SourceStatus:       Str(row.StatusCode),
		SourceURL:          Str(sourceURL),
		Scope:              Str(row.OpportunityTypeCode),
		Timezone:           "America/Edmonton",
		Raw:                rawMap,
		SolicitationNumber: Str(row.SolicitationNumber),
		SolicitationType:   Str(row.SolicitationTypeCode),
		PurchasingGroup:    Str(row.ContractingOrganization),
		BuyerName:          Str(row.ContractingOrganization),
		Location:           Str(location),
		PublishedAt:        postDate,
		DatePublishAt:      postDate,
		DateClosingAt:      ParseDate(row.CloseDateTime, a.loc),
	}
	return ing.Upsert(ctx, a.Key(), a.Name(), cand)
}
