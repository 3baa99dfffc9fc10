package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Windsor ingests the City of Windsor open-data bids page, a single HTML
// table. The GUID inside the DownloadTender link is the stable id; titles
// lead with the solicitation number.
type Windsor struct {
	BaseURL string
	Host    string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewWindsor(cfg ClientConfig, log *zap.Logger) *Windsor {
	return &Windsor{
		BaseURL: "https://opendata.citywindsor.ca/Tools/BidsAndTenders",
		Host:    "https://opendata.citywindsor.ca",
		client:  NewClient(cfg, log),
		log:     log,
		loc:     LoadLocation("America/Toronto"),
	}
}

func (w *Windsor) Key() string  { return KeyWindsor }
func (w *Windsor) Name() string { return "Windsor Bids & Tenders" }

var windsorGUIDRe = regexp.MustCompile(`\{([^}]+)\}`)

func (w *Windsor) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result

	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Referer", w.BaseURL)
	header.Set("Origin", w.Host)

	body, _, err := w.client.Get(ctx, w.BaseURL, header)
	if err != nil {
		return res, fmt.Errorf("fetch bids page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("parse bids page: %w", err)
	}

	rows := doc.Find("tbody#tableBody tr.BT_BidAndTender")
	if rows.Length() == 0 {
		rows = doc.Find("table#DataTables_Table_0 tr.BT_BidAndTender")
	}

	var ingestErr error
	rows.EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		title := CleanText(tr.Find("span.h5").First().Text())
		if title == "" {
			return true
		}

		openRaw := windsorDateAfterLabel(tr, "Open")
		closeRaw := windsorDateAfterLabel(tr, "Close")
		downloadHref, _ := tr.Find(`a[href*="DownloadTender"]`).First().Attr("href")

		solicitationNumber := strings.TrimSpace(strings.SplitN(title, ",", 2)[0])

		externalID := ""
		if m := windsorGUIDRe.FindStringSubmatch(downloadHref); m != nil {
			externalID = m[1]
		}
		if externalID == "" {
			externalID = solicitationNumber
		}
		if externalID == "" {
			externalID = title
		}

		sourceURL := w.BaseURL
		if downloadHref != "" {
			sourceURL = AbsoluteURL(w.Host, downloadHref)
		}
		openAt := w.parseWindsorDate(openRaw)

		cand := Candidate{
			ExternalID:   externalID,
			Title:        title,
			SourceStatus: Str("Open"),
			SourceURL:    Str(sourceURL),
			Timezone:     "America/Toronto",
			Raw: map[string]any{
				"title":               title,
				"solicitation_number": solicitationNumber,
				"open_raw":            openRaw,
				"close_raw":           closeRaw,
				"download_href":       downloadHref,
			},
			SolicitationNumber: Str(solicitationNumber),
			Location:           Str("Windsor, ON"),
			PublishedAt:        openAt,
			DateAvailableAt:    openAt,
			DateClosingAt:      w.parseWindsorDate(closeRaw),
		}
		res.Found++
		changed, err := ing.Upsert(ctx, w.Key(), w.Name(), cand)
		if err != nil {
			ingestErr = err
			return false
		}
		if changed {
			res.Upserted++
		}
		return true
	})
	return res, ingestErr
}

// windsorDateAfterLabel finds the span following a bold label like "Open:"
// or "Close:".
func windsorDateAfterLabel(tr *goquery.Selection, label string) string {
	value := ""
	tr.Find("strong").EachWithBreak(func(_ int, strong *goquery.Selection) bool {
		if !strings.Contains(CleanText(strong.Text()), label) {
			return true
		}
		value = CleanText(strong.NextFiltered("span").Text())
		return false
	})
	return value
}

// Dates look like "Jan 02, 2026 03:04 PM EST"; the trailing zone name is
// dropped in favor of the city's own zone.
func (w *Windsor) parseWindsorDate(value string) *time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if t, err := time.ParseInLocation("Jan 02, 2006 03:04 PM MST", trimmed, w.loc); err == nil {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, w.loc)
		return &t
	}
	return ParseDate(trimmed, w.loc)
}
