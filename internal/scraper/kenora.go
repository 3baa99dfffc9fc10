package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Kenora ingests the City of Kenora tender list, a single static page of
// document links. The cleaned href doubles as the external id since the
// list exposes nothing better.
type Kenora struct {
	BaseURL string
	Host    string

	client *Client
	log    *zap.Logger
}

func NewKenora(cfg ClientConfig, log *zap.Logger) *Kenora {
	return &Kenora{
		BaseURL: "https://listview.kenora.ca/Listview.aspx?root=Tenders&wmode=transparent",
		Host:    "https://listview.kenora.ca",
		client:  NewClient(cfg, log),
		log:     log,
	}
}

func (k *Kenora) Key() string  { return KeyKenora }
func (k *Kenora) Name() string { return "City of Kenora Tenders" }

var kenoraHrefTailRe = regexp.MustCompile(`[#?].*$`)

func (k *Kenora) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result

	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	header.Set("Referer", k.Host+"/")

	body, _, err := k.client.Get(ctx, k.BaseURL, header)
	if err != nil {
		return res, fmt.Errorf("fetch list view: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("parse list view: %w", err)
	}

	var ingestErr error
	doc.Find("table#dgFileList a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		title := CleanText(link.Text())
		if href == "" || title == "" {
			return true
		}

		externalID := strings.Trim(kenoraHrefTailRe.ReplaceAllString(href, ""), "/")
		if externalID == "" {
			externalID = HashID(href)
		}

		cand := Candidate{
			ExternalID:   externalID,
			Title:        title,
			SourceStatus: Str("Open"),
			SourceURL:    Str(AbsoluteURL(k.Host, href)),
			Timezone:     "America/Winnipeg",
			Raw: map[string]any{
				"href":  href,
				"title": title,
			},
			Location: Str("Kenora, ON"),
		}
		res.Found++
		changed, err := ing.Upsert(ctx, k.Key(), k.Name(), cand)
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
