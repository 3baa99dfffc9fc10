package scraper

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// SaskTenders ingests sasktenders.ca, a classic ASP.NET WebForms page. Each
// next page is a full form postback: every hidden field from the current
// page is echoed back with __EVENTTARGET pointing at the next-page link.
type SaskTenders struct {
	BaseURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewSaskTenders(cfg ClientConfig, log *zap.Logger) *SaskTenders {
	return &SaskTenders{
		BaseURL: "https://sasktenders.ca/content/public/Search.aspx",
		client:  NewClient(cfg, log, WithCookieJar()),
		log:     log,
		loc:     LoadLocation("America/Regina"),
	}
}

func (s *SaskTenders) Key() string  { return KeySaskTenders }
func (s *SaskTenders) Name() string { return "Saskatchewan Tenders" }

const (
	saskFieldRows    = "ctl00$ContentPlaceHolder1$hdnNumberOfRows"
	saskFieldSize    = "ctl00$ContentPlaceHolder1$hdnPageSize"
	saskFieldCurrent = "ctl00$ContentPlaceHolder1$hdnCurrentPage"
	saskNextTarget   = "ctl00$ContentPlaceHolder1$lnkNextPage"
	saskScriptMgr    = "ctl00$ToolkitScriptManager1"
)

func (s *SaskTenders) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	maxPages := params.Int("max_pages", 10)
	if maxPages < 1 {
		maxPages = 1
	}

	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Origin", "https://sasktenders.ca")
	header.Set("Referer", s.BaseURL)

	body, _, err := s.client.Get(ctx, s.BaseURL, header)
	if err != nil {
		return res, fmt.Errorf("initial request: %w", err)
	}

	page := 1
	for {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return res, fmt.Errorf("parse page %d: %w", page, err)
		}

		found, err := s.ingestPage(ctx, doc, &res, ing)
		if err != nil {
			return res, err
		}
		res.Found += found

		hidden := extractHiddenFields(doc)
		totalRows, _ := strconv.Atoi(hidden.Get(saskFieldRows))
		pageSize, _ := strconv.Atoi(hidden.Get(saskFieldSize))
		if pageSize <= 0 {
			pageSize = 50
		}
		currentPage, _ := strconv.Atoi(hidden.Get(saskFieldCurrent))
		if currentPage == 0 {
			currentPage = page
		}
		totalPages := int(math.Ceil(float64(totalRows) / float64(pageSize)))
		if currentPage >= totalPages || page >= maxPages {
			break
		}

		form := hidden
		form.Set("__EVENTTARGET", saskNextTarget)
		form.Set("__EVENTARGUMENT", "")
		form.Set("__LASTFOCUS", "")
		if form.Has(saskScriptMgr) {
			form.Set(saskScriptMgr, "ctl00$ContentPlaceHolder1$upnlSearchResults|"+saskNextTarget)
		}

		body, _, err = s.client.PostForm(ctx, s.BaseURL, form, header)
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", page+1, err)
		}
		page++
		if err := s.client.PageDelay(ctx, 300*time.Millisecond); err != nil {
			return res, err
		}
	}
	return res, nil
}

// extractHiddenFields collects every hidden input so a postback can replay
// the server's view state byte for byte.
func extractHiddenFields(doc *goquery.Document) url.Values {
	fields := url.Values{}
	doc.Find(`input[type="hidden"][name]`).Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		if name != "" {
			fields.Set(name, value)
		}
	})
	return fields
}

func (s *SaskTenders) ingestPage(ctx context.Context, doc *goquery.Document, res *Result, ing Ingester) (int, error) {
	count := 0
	var ingestErr error
	doc.Find("div.HeaderAccordionPlusFormat").EachWithBreak(func(_ int, headerDiv *goquery.Selection) bool {
		table := headerDiv.Find("table.ContentAccordionFormat, table.HeadertAlternateAccordionFormat").First()
		if table.Length() == 0 {
			return true
		}
		cells := table.Find("td")
		if cells.Length() < 7 {
			return true
		}

		title := CleanText(cells.Eq(1).Text())
		organization := CleanText(cells.Eq(2).Text())
		competitionNumber := CleanText(cells.Eq(3).Text())
		openDateRaw := CleanText(cells.Eq(4).Text())
		closeDateRaw := CleanText(cells.Eq(5).Text())
		status := CleanText(cells.Eq(6).Text())
		if title == "" || competitionNumber == "" {
			return true
		}

		competitionID := ""
		sourceURL := s.BaseURL
		detail := headerDiv.NextFiltered("div.ContentAccordionFormat_SearchPage")
		if link := detail.Find(`a[href*="print.aspx?competitionId="]`).First(); link.Length() > 0 {
			href, _ := link.Attr("href")
			if u, err := url.Parse(href); err == nil {
				competitionID = u.Query().Get("competitionId")
			}
			if competitionID != "" {
				sourceURL = "https://sasktenders.ca/content/public/print.aspx?competitionId=" + competitionID
			}
		}

		externalID := competitionID
		if externalID == "" {
			externalID = competitionNumber
		}
		location := "Saskatchewan"
		if organization != "" {
			location = organization + ", SK"
		}
		openAt := ParseDate(openDateRaw, s.loc)

		cand := Candidate{
			ExternalID:   externalID,
			Title:        title,
			SkipCreate:   !IsOpenStatus(status),
			SourceStatus: Str(status),
			SourceURL:    Str(sourceURL),
			Timezone:     "America/Regina",
			Raw: map[string]any{
				"competition_id":     competitionID,
				"competition_number": competitionNumber,
				"organization":       organization,
				"open_date":          openDateRaw,
				"close_date":         closeDateRaw,
				"status":             status,
			},
			SolicitationNumber: Str(competitionNumber),
			BuyerName:          Str(organization),
			Location:           Str(location),
			PublishedAt:        openAt,
			DatePublishAt:      openAt,
			DateClosingAt:      ParseDate(closeDateRaw, s.loc),
		}
		count++
		changed, err := ing.Upsert(ctx, s.Key(), s.Name(), cand)
		if err != nil {
			ingestErr = err
			return false
		}
		if changed {
			res.Upserted++
		}
		return true
	})
	return count, ingestErr
}
