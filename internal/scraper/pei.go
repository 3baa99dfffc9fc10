package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PEI ingests Prince Edward Island's tender search, a "workflow" endpoint
// that answers with a UI widget tree instead of flat rows. The table is
// found by walking the tree for TableV2 nodes, one query per publication
// year going back a configurable number of years.
type PEI struct {
	BaseURL     string
	FrontendURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewPEI(cfg ClientConfig, log *zap.Logger) *PEI {
	return &PEI{
		BaseURL:     "https://wdf.princeedwardisland.ca/api/workflow",
		FrontendURL: "https://www.princeedwardisland.ca/en/feature/search-for-tenders-and-procurement-opportunities/#/service/Tenders/TenderView",
		client:      NewClient(cfg, log),
		log:         log,
		loc:         LoadLocation("America/Halifax"),
	}
}

func (p *PEI) Key() string  { return KeyPEI }
func (p *PEI) Name() string { return "Prince Edward Island Tenders" }

// peiNode is one node of the widget tree the workflow endpoint returns.
type peiNode struct {
	Type     string    `json:"type"`
	Data     peiData   `json:"data"`
	Children []peiNode `json:"children"`
}

type peiData struct {
	Text        string            `json:"text"`
	QueryParams map[string]string `json:"queryParams"`
}

type peiRow struct {
	tenderID           string
	solicitationNumber string
	title              string
	organization       string
	publishedRaw       string
	closingRaw         string
}

func (p *PEI) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	years := params.Int("years", 5)
	if years < 1 {
		years = 1
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Origin", "https://www.princeedwardisland.ca")
	header.Set("Referer", "https://www.princeedwardisland.ca/en/feature/search-for-tenders-and-procurement-opportunities/")

	currentYear := time.Now().In(p.loc).Year()
	var rows []peiRow
	for offset := 0; offset < years; offset++ {
		year := currentYear - offset
		payload := map[string]any{
			"appName":     "Tenders",
			"featureName": "Tenders",
			"metaVars": map[string]any{
				"service_id":    nil,
				"save_location": nil,
			},
			"queryVars": map[string]any{
				"keyword":          nil,
				"category":         nil,
				"status":           "Open",
				"organization":     nil,
				"publication_year": strconv.Itoa(year),
				"wdf_url_query":    "true",
				"service":          "Tenders",
				"activity":         "TenderSearch",
			},
			"queryName": "TenderSearch",
		}

		body, _, err := p.client.PostJSON(ctx, p.BaseURL, payload, header)
		if err != nil {
			return res, fmt.Errorf("fetch year %d: %w", year, err)
		}
		var parsed struct {
			Data []peiNode `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode year %d: %w", year, err)
		}
		rows = append(rows, p.parseRows(parsed.Data)...)
	}

	res.Found = len(rows)
	for _, row := range rows {
		changed, err := p.ingestRow(ctx, row, ing)
		if err != nil {
			return res, err
		}
		if changed {
			res.Upserted++
		}
	}
	return res, nil
}

func (p *PEI) parseRows(nodes []peiNode) []peiRow {
	table := findPEINode(nodes, "TableV2")
	if table == nil {
		return nil
	}

	var rows []peiRow
	for _, child := range table.Children {
		if child.Type != "TableV2Row" {
			continue
		}
		cells := child.Children
		if len(cells) < 5 {
			continue
		}

		link := findPEINode(cells[0].Children, "LinkV2")
		solicitationNumber := ""
		tenderID := ""
		if link != nil {
			solicitationNumber = strings.TrimSpace(link.Data.Text)
			tenderID = link.Data.QueryParams["tender_id"]
		}
		if solicitationNumber == "" {
			solicitationNumber = cellText(cells[0])
		}
		title := cellText(cells[1])
		if solicitationNumber == "" || title == "" {
			continue
		}

		rows = append(rows, peiRow{
			tenderID:           tenderID,
			solicitationNumber: solicitationNumber,
			title:              title,
			organization:       cellText(cells[2]),
			publishedRaw:       cellText(cells[3]),
			closingRaw:         cellText(cells[4]),
		})
	}
	return rows
}

func (p *PEI) ingestRow(ctx context.Context, row peiRow, ing Ingester) (bool, error) {
	externalID := row.tenderID
	if externalID == "" {
		externalID = row.solicitationNumber
	}

	var sourceURL *string
	if row.tenderID != "" {
		sourceURL = Str(p.FrontendURL + "?tender_id=" + row.tenderID)
	}
	publishedAt := ParseDate(row.publishedRaw, p.loc)

	cand := Candidate{
		ExternalID:   externalID,
		Title:        row.title,
		SourceStatus: Str("Open"),
		SourceURL:    sourceURL,
		Timezone:     "America/Halifax",
		Raw: map[string]any{
			"tender_id":           row.tenderID,
			"solicitation_number": row.solicitationNumber,
			"title":               row.title,
			"organization":        row.organization,
			"published_raw":       row.publishedRaw,
			"closing_raw":         row.closingRaw,
		},
		SolicitationNumber: Str(row.solicitationNumber),
		PurchasingGroup:    Str(row.organization),
		Location:           Str("Prince Edward Island"),
		PublishedAt:        publishedAt,
		DatePublishAt:      publishedAt,
		DateClosingAt:      ParseDate(row.closingRaw, p.loc),
	}
	return ing.Upsert(ctx, p.Key(), p.Name(), cand)
}

func cellText(cell peiNode) string {
	if text := strings.TrimSpace(cell.Data.Text); text != "" {
		return text
	}
	for _, child := range cell.Children {
		if text := strings.TrimSpace(child.Data.Text); text != "" {
			return text
		}
	}
	return ""
}

func findPEINode(nodes []peiNode, nodeType string) *peiNode {
	for i := range nodes {
		if nodes[i].Type == nodeType {
			return &nodes[i]
		}
		if found := findPEINode(nodes[i].Children, nodeType); found != nil {
			return found
		}
	}
	return nil
}
