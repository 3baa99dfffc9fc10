package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NovaScotia ingests the Nova Scotia Procurement Portal. The JSON endpoint
// only answers with a bearer token the portal hands out to anonymous
// browser sessions, and sits behind a WAF that sometimes serves an HTML
// rejection page with a 200. A WAF'd run finishes as a warning rather than
// a failure so the batch keeps its last good data.
type NovaScotia struct {
	BaseURL     string
	FrontendURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

const novaScotiaPageSize = 100

func NewNovaScotia(cfg ClientConfig, log *zap.Logger) *NovaScotia {
	return &NovaScotia{
		BaseURL:     "https://procurement-portal.novascotia.ca/procurementui/tenders",
		FrontendURL: "https://procurement-portal.novascotia.ca/tenders",
		client:      NewClient(cfg, log),
		log:         log,
		loc:         LoadLocation("America/Halifax"),
	}
}

func (n *NovaScotia) Key() string  { return KeyNovaScotia }
func (n *NovaScotia) Name() string { return "Nova Scotia Procurement Portal" }

type novaScotiaResponse struct {
	PaginationData struct {
		TotalRecords int `json:"totalRecords"`
	} `json:"paginationData"`
	TenderDataList []json.RawMessage `json:"tenderDataList"`
}

func (n *NovaScotia) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	maxPages := params.Int("max_pages", 50)
	if maxPages < 1 {
		maxPages = 1
	}
	token := params.Get("guest_token")
	if token == "" {
		return res, errors.New("guest_token is not configured")
	}

	header := http.Header{}
	header.Set("Accept", "application/json, text/plain, */*")
	header.Set("Accept-Language", "en-US,en;q=0.9")
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "https://procurement-portal.novascotia.ca")
	header.Set("Referer", n.FrontendURL)
	header.Set("Sec-Fetch-Dest", "empty")
	header.Set("Sec-Fetch-Mode", "cors")
	header.Set("Sec-Fetch-Site", "same-origin")

	page := 1
	totalPages := 1
	for page <= maxPages && page <= totalPages {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("numberOfRecords", strconv.Itoa(novaScotiaPageSize))
		q.Set("sortType", "POSTED_DATE_DESC")
		q.Set("keyword", "")
		q.Set("myOrganization", "")
		q.Set("mine", "")
		q.Set("watchlist", "")

		body, _, err := n.client.PostForm(ctx, n.BaseURL+"?"+q.Encode(), url.Values{}, header)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && strings.Contains(httpErr.Body, "Request Rejected") {
				res.Warning = "request blocked by WAF"
				return res, nil
			}
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		// The WAF rejection arrives as HTML with a 200.
		if LooksLikeChallenge(string(body), "Request Rejected", "<html>") {
			res.Warning = "request blocked by WAF (HTML response received)"
			return res, nil
		}

		var parsed novaScotiaResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode page %d: %w", page, err)
		}
		if parsed.PaginationData.TotalRecords == 0 || len(parsed.TenderDataList) == 0 {
			break
		}
		totalPages = int(math.Ceil(float64(parsed.PaginationData.TotalRecords) / float64(novaScotiaPageSize)))

		res.Found += len(parsed.TenderDataList)
		for _, raw := range parsed.TenderDataList {
			changed, err := n.ingestRow(ctx, raw, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		page++
		if err := n.client.PageDelay(ctx, 500*time.Millisecond); err != nil {
			return res, err
		}
	}

	if res.Found == 0 {
		res.Warning = "no items found, API may be protected by WAF"
	}
	return res, nil
}

func (n *NovaScotia) ingestRow(ctx context.Context, raw json.RawMessage, ing Ingester) (bool, error) {
	var row struct {
		ID                json.Number `json:"id"`
		TenderID          string      `json:"tenderId"`
		Title             string      `json:"title"`
		Description       string      `json:"description"`
		TenderStatus      string      `json:"tenderStatus"`
		SolicitationType  string      `json:"solicitationType"`
		ProcurementEntity string      `json:"procurementEntity"`
		EndUserEntity     string      `json:"endUserEntity"`
		ClosingDate       string      `json:"closingDate"`
		PostDate          string      `json:"postDate"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		n.log.Debug("skipping malformed row", zap.Error(err))
		return false, nil
	}
	externalID := row.ID.String()
	if externalID == "" {
		return false, nil
	}
	title := row.Title
	if title == "" {
		title = "Untitled"
	}

	sourceURL := n.FrontendURL + "/" + externalID
	location := "Nova Scotia"
	if row.ProcurementEntity != "" {
		location = row.ProcurementEntity + ", Nova Scotia"
	}
	postDate := ParseDate(row.PostDate, n.loc)

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	cand := Candidate{
		ExternalID:         externalID,
		Title:              title,
		SkipCreate:         !IsOpenStatus(row.TenderStatus),
		Description:        Str(row.Description),
		SourceStatus:       Str(row.TenderStatus),
		SourceURL:          Str(sourceURL),
		Timezone:           "America/Halifax",
		Raw:                rawMap,
		SolicitationNumber: Str(row.TenderID),
		SolicitationType:   Str(row.SolicitationType),
		PurchasingGroup:    Str(row.EndUserEntity),
		BuyerName:          Str(row.ProcurementEntity),
		Location:           Str(location),
		PublishedAt:        postDate,
		DatePublishAt:      postDate,
		DateClosingAt:      ParseDate(row.ClosingDate, n.loc),
	}
	return ing.Upsert(ctx, n.Key(), n.Name(), cand)
}
