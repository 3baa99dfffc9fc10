package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// MerxOttawa ingests the City of Ottawa's MERX open-bids listing by walking
// its HTML result table page by page until a page comes back empty.
type MerxOttawa struct {
	BaseURL   string
	SearchURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewMerxOttawa(cfg ClientConfig, log *zap.Logger) *MerxOttawa {
	return &MerxOttawa{
		BaseURL:   "https://www.merx.com",
		SearchURL: "https://www.merx.com/cityofottawa/solicitations/open-bids",
		client:    NewClient(cfg, log),
		log:       log,
		loc:       LoadLocation("America/Toronto"),
	}
}

func (m *MerxOttawa) Key() string  { return KeyMerxOttawa }
func (m *MerxOttawa) Name() string { return "MERX City of Ottawa" }

var merxExternalIDRe = regexp.MustCompile(`/(\d{7,})\b`)

type merxRow struct {
	solNumber    string
	title        string
	href         string
	location     string
	publishedRaw string
	closingRaw   string
}

func (m *MerxOttawa) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	maxPages := params.Int("max_pages", 10)
	if maxPages < 1 {
		maxPages = 1
	}

	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Referer", m.SearchURL)

	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("sortDirection", "DESC")
		q.Set("pageNumber", strconv.Itoa(page))
		q.Set("pageNumberSelect", "1")
		q.Set("sortBy", "solicitationNumber")

		body, _, err := m.client.Get(ctx, m.SearchURL+"?"+q.Encode(), header)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page, err)
		}
		rows, err := m.parseRows(body)
		if err != nil {
			return res, fmt.Errorf("parse page %d: %w", page, err)
		}
		if len(rows) == 0 {
			break
		}

		res.Found += len(rows)
		for _, row := range rows {
			changed, err := m.ingestRow(ctx, row, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}
		if err := m.client.PageDelay(ctx, 0); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (m *MerxOttawa) parseRows(html []byte) ([]merxRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table.sol-table").First()
	if table.Length() == 0 {
		table = doc.Find("table.mets-table").First()
	}
	if table.Length() == 0 {
		return nil, nil
	}

	var rows []merxRow
	table.Find("tr.mets-table-row").Each(func(_ int, tr *goquery.Selection) {
		if tr.HasClass("mets-table-row-empty") {
			return
		}
		solNumber := CleanText(tr.Find("div.sol-num").First().Text())
		titleNode := tr.Find("div.sol-title a").First()
		title := CleanText(titleNode.Text())
		if solNumber == "" || title == "" {
			return
		}
		href, _ := titleNode.Attr("href")
		rows = append(rows, merxRow{
			solNumber:    solNumber,
			title:        title,
			href:         href,
			location:     CleanText(tr.Find("div.sol-region span").First().Text()),
			publishedRaw: CleanText(tr.Find("span.sol-publication-date span.date-value").First().Text()),
			closingRaw:   CleanText(tr.Find("span.sol-closing-date span.date-value").First().Text()),
		})
	})
	return rows, nil
}

func (m *MerxOttawa) ingestRow(ctx context.Context, row merxRow, ing Ingester) (bool, error) {
	externalID := row.solNumber
	if mm := merxExternalIDRe.FindStringSubmatch(row.href); mm != nil {
		externalID = mm[1]
	}

	location := row.location
	if location == "" {
		location = "Ottawa, ON"
	}
	publishedAt := ParseDateLayout(row.publishedRaw, "2006/01/02", m.loc)

	cand := Candidate{
		ExternalID:   externalID,
		Title:        row.title,
		SourceStatus: Str("Open"),
		SourceURL:    Str(AbsoluteURL(m.BaseURL, row.href)),
		Timezone:     "America/Toronto",
		Raw: map[string]any{
			"solicitation_number": row.solNumber,
			"title":               row.title,
			"href":                row.href,
			"location":            row.location,
			"published_raw":       row.publishedRaw,
			"closing_raw":         row.closingRaw,
		},
		SolicitationNumber: Str(row.solNumber),
		Location:           Str(location),
		PublishedAt:        publishedAt,
		DatePublishAt:      publishedAt,
		DateClosingAt:      ParseDateLayout(row.closingRaw, "2006/01/02", m.loc),
	}
	return ing.Upsert(ctx, m.Key(), m.Name(), cand)
}
