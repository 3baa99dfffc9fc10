package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Barrie ingests the City of Barrie bidsandtenders.ca portal. A warm-up GET
// establishes the ASP.NET session and yields an anti-forgery token that the
// search POST must echo back.
type Barrie struct {
	BaseURL   string
	SearchURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewBarrie(cfg ClientConfig, log *zap.Logger) *Barrie {
	return &Barrie{
		BaseURL:   "https://barrie.bidsandtenders.ca",
		SearchURL: "https://barrie.bidsandtenders.ca/Module/Tenders/en/Tender/Search/a27a6121-d413-479f-be32-ec3d87c828b7",
		client:    NewClient(cfg, log, WithCookieJar()),
		log:       log,
		loc:       LoadLocation("America/Toronto"),
	}
}

func (b *Barrie) Key() string  { return KeyBarrie }
func (b *Barrie) Name() string { return "Barrie Bids & Tenders" }

var barrieTokenRe = regexp.MustCompile(`name="__RequestVerificationToken"[^>]*value="([^"]+)"`)

type barrieSearchResponse struct {
	Total int               `json:"total"`
	Data  []json.RawMessage `json:"data"`
}

func (b *Barrie) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	limit := params.Int("limit", 25)
	if limit < 1 {
		limit = 1
	}

	warmupURL := b.BaseURL + "/Module/Tenders/en"
	warmup, _, err := b.client.Get(ctx, warmupURL, nil)
	if err != nil {
		return res, fmt.Errorf("warm-up request: %w", err)
	}

	token := ""
	if m := barrieTokenRe.FindStringSubmatch(string(warmup)); m != nil {
		token = m[1]
	}
	if token == "" {
		for _, c := range b.client.Cookies(warmupURL) {
			if c.Name == "XSRF-TOKEN" || c.Name == "__RequestVerificationToken" {
				if v, err := url.QueryUnescape(c.Value); err == nil {
					token = v
				} else {
					token = c.Value
				}
				break
			}
		}
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("X-Requested-With", "XMLHttpRequest")
	header.Set("Referer", warmupURL)
	header.Set("Origin", b.BaseURL)
	if token != "" {
		header.Set("RequestVerificationToken", token)
		header.Set("X-XSRF-TOKEN", token)
	}

	start := 0
	for {
		form := url.Values{}
		form.Set("status", "Open")
		form.Set("limit", strconv.Itoa(limit))
		form.Set("start", strconv.Itoa(start))
		form.Set("dir", "ASC")
		form.Set("from", "")
		form.Set("to", "")
		form.Set("sort", "DateClosing ASC,Id")
		if token != "" {
			form.Set("__RequestVerificationToken", token)
		}

		body, respHeader, err := b.client.PostForm(ctx, b.SearchURL, form, header)
		if err != nil {
			return res, fmt.Errorf("search at offset %d: %w", start, err)
		}
		if ct := respHeader.Get("Content-Type"); !strings.Contains(ct, "application/json") {
			// The portal serves an HTML interstitial when the session is
			// not accepted; paging on would only parse garbage.
			return res, fmt.Errorf("non-JSON response (%s) at offset %d: %w", ct, start, ErrChallenge)
		}

		var parsed barrieSearchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode search response at offset %d: %w", start, err)
		}

		res.Found += len(parsed.Data)
		for _, raw := range parsed.Data {
			changed, err := b.ingestRow(ctx, raw, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		start += limit
		if start >= parsed.Total {
			break
		}
		if err := b.client.PageDelay(ctx, 0); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (b *Barrie) ingestRow(ctx context.Context, raw json.RawMessage, ing Ingester) (bool, error) {
	var row struct {
		ID            json.Number `json:"Id"`
		Title         string      `json:"Title"`
		Description   string      `json:"Description"`
		Status        string      `json:"Status"`
		Scope         string      `json:"Scope"`
		TimeZoneLabel string      `json:"TimeZoneLabel"`
		DateAvailable string      `json:"DateAvailable"`
		DateClosing   string      `json:"DateClosing"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		b.log.Debug("skipping malformed row", zap.Error(err))
		return false, nil
	}
	externalID := row.ID.String()
	if externalID == "" || row.Title == "" {
		return false, nil
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	dateAvailable := b.parseBidsDate(row.DateAvailable)

	cand := Candidate{
		ExternalID:      externalID,
		Title:           row.Title,
		Description:     Str(row.Description),
		SourceStatus:    Str(row.Status),
		SourceURL:       Str(fmt.Sprintf("%s/Module/Tenders/en/Tender/Detail/%s", b.BaseURL, externalID)),
		Scope:           Str(row.Scope),
		Timezone:        strings.TrimSpace(row.TimeZoneLabel),
		Raw:             rawMap,
		Location:        Str("Barrie, ON"),
		PublishedAt:     dateAvailable,
		DateAvailableAt: dateAvailable,
		DateClosingAt:   b.parseBidsDate(row.DateClosing),
	}
	return ing.Upsert(ctx, b.Key(), b.Name(), cand)
}

// parseBidsDate only accepts the portal's /Date(ms)/ epoch format; anything
// else is treated as absent rather than guessed at.
func (b *Barrie) parseBidsDate(value string) *time.Time {
	if !epochMillisRe.MatchString(value) {
		return nil
	}
	return ParseDate(value, b.loc)
}
