package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// BCBid ingests bcbid.gov.bc.ca. The portal hides its grid behind a browser
// check, so runs ride session credentials harvested from a real browser
// (ASP.NET_SessionId + CSRFToken). Paging is an IV-Ajax postback against an
// ASP.NET grid whose row ids must be echoed back on the next request. When
// no credentials are configured, a headless-browser snapshot tool can stand
// in and hand over rendered pages.
type BCBid struct {
	Host    string
	PageURL string
	AjaxURL string

	Snapshots *SnapshotFetcher

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewBCBid(cfg ClientConfig, log *zap.Logger, snapshots *SnapshotFetcher) *BCBid {
	return &BCBid{
		Host:      "https://bcbid.gov.bc.ca",
		PageURL:   "https://bcbid.gov.bc.ca/page.aspx/en/rfp/request_browse_public",
		AjaxURL:   "https://bcbid.gov.bc.ca/ajax.aspx/en/rfp/request_browse_public",
		Snapshots: snapshots,
		client:    NewClient(cfg, log),
		log:       log,
		loc:       LoadLocation("America/Vancouver"),
	}
}

func (b *BCBid) Key() string  { return KeyBCBid }
func (b *BCBid) Name() string { return "British Columbia Bid" }

var (
	bcbidChallengeMarkers = []string{"Browser check: BC Bid", "Access Denied"}
	bcbidDataIDRe         = regexp.MustCompile(`data-id="(\d+)"`)
	bcbidRowTagRe         = regexp.MustCompile(`(?i)<tr[^>]*data-id="\d+"`)
	bcbidMaxPageRe        = regexp.MustCompile(`(?i)name="maxpageindexbody_x_grid_grd"[^>]*value="(\d+)"`)
	bcbidMaxPageAltRe     = regexp.MustCompile(`(?i)value="(\d+)"[^>]*name="maxpageindexbody_x_grid_grd"`)
	bcbidPageIndexRe      = regexp.MustCompile(`(?i)data-page-index="(\d+)"`)
	bcbidRowCountRe       = regexp.MustCompile(`(?i)name="hdnRowCountbody_x_grid_grd"[^>]*value="(\d+)"`)
	bcbidRecordsRe        = regexp.MustCompile(`(?i)(\d+)\s*Record\(s\)`)
	bcbidCountRe          = regexp.MustCompile(`(?i)\bcount\s*:\s*(\d+)`)
)

func (b *BCBid) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	maxPages := params.Int("max_pages", 0)
	if maxPages <= 0 {
		maxPages = math.MaxInt32
	}

	creds := SessionFromParams(params, "cookie_header", map[string]string{
		"session_id": "ASP.NET_SessionId",
		"csrf_token": "CSRFToken",
	})
	sessionID := normalizeCredential(creds.Get("ASP.NET_SessionId"), "ASP.NET_SessionId")
	csrfToken := normalizeCredential(creds.Get("CSRFToken"), "CSRFToken")

	var pages []string
	switch {
	case sessionID != "" && csrfToken != "":
		creds.Set("ASP.NET_SessionId", sessionID)
		creds.Set("CSRFToken", csrfToken)
		var err error
		pages, err = b.fetchWithCredentials(ctx, creds, csrfToken, maxPages, params.Int("expected_count", 0))
		if err != nil {
			return res, err
		}
	case b.Snapshots.Enabled():
		var err error
		pages, err = b.Snapshots.Fetch(ctx, b.Key())
		if err != nil {
			return res, fmt.Errorf("snapshot fallback: %w", err)
		}
		for _, html := range pages {
			if LooksLikeChallenge(html, bcbidChallengeMarkers...) {
				return res, fmt.Errorf("snapshot hit the browser check: %w", ErrChallenge)
			}
		}
	default:
		return res, errors.New("no credentials available: set session_id and csrf_token (or cookie_header) in the source settings")
	}

	for _, html := range pages {
		found, err := b.ingestPage(ctx, html, &res, ing)
		if err != nil {
			return res, err
		}
		res.Found += found
	}
	return res, nil
}

// normalizeCredential accepts either a bare value or a pasted "key=value"
// fragment and strips quoting left over from copy/paste.
func normalizeCredential(value, key string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key) + `=([^;\s]+)`)
	if m := re.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	trimmed = strings.Trim(trimmed, " \t\n\r\"'")
	if unescaped, err := url.QueryUnescape(trimmed); err == nil {
		return unescaped
	}
	return trimmed
}

func (b *BCBid) fetchWithCredentials(ctx context.Context, creds *SessionCredentials, csrfToken string, maxPages, expectedCount int) ([]string, error) {
	cookie := creds.CookieHeader()

	ajaxHeader := http.Header{}
	ajaxHeader.Set("Accept", "*/*")
	ajaxHeader.Set("Accept-Language", "en-US,en;q=0.9")
	ajaxHeader.Set("Cookie", cookie)
	ajaxHeader.Set("IV-Ajax", "AjaxPost=true")
	ajaxHeader.Set("IV-AjaxControl", "updatepanel")
	ajaxHeader.Set("Origin", b.Host)
	ajaxHeader.Set("Referer", b.PageURL)
	ajaxHeader.Set("Sec-Fetch-Dest", "empty")
	ajaxHeader.Set("Sec-Fetch-Mode", "cors")
	ajaxHeader.Set("Sec-Fetch-Site", "same-origin")
	ajaxHeader.Set("X-Requested-With", "XMLHttpRequest")
	ajaxHeader.Set("mode", "html")

	basePayload := bcbidBasePayload(csrfToken)

	totalRecords := expectedCount
	if totalRecords <= 0 {
		totalRecords = b.probeTotalRecords(ctx, basePayload, ajaxHeader)
	}

	// A plain page load doubles as a credential check and a fallback for
	// the record count.
	pageHeader := http.Header{}
	pageHeader.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	pageHeader.Set("Cookie", cookie)
	pageHeader.Set("Referer", b.PageURL)
	pageHeader.Set("Upgrade-Insecure-Requests", "1")
	if fullPage, _, err := b.client.Get(ctx, b.PageURL, pageHeader); err == nil {
		html := string(fullPage)
		if LooksLikeChallenge(html, bcbidChallengeMarkers...) {
			return nil, fmt.Errorf("session credentials are invalid or expired: %w", ErrChallenge)
		}
		if totalRecords <= 0 {
			if m := bcbidRecordsRe.FindStringSubmatch(html); m != nil {
				totalRecords, _ = strconv.Atoi(m[1])
			} else if m := bcbidRowCountRe.FindStringSubmatch(html); m != nil {
				totalRecords, _ = strconv.Atoi(m[1])
			}
		}
	}

	html, err := b.fetchAjaxPage(ctx, basePayload, ajaxHeader, 1)
	if err != nil {
		return nil, err
	}
	if LooksLikeChallenge(html, bcbidChallengeMarkers...) {
		return nil, fmt.Errorf("session credentials are invalid or expired: %w", ErrChallenge)
	}
	pages := []string{html}

	rowsOnPage := len(bcbidRowTagRe.FindAllString(html, -1))
	pagesAvailable := bcbidMaxPageIndex(html, totalRecords, rowsOnPage)
	b.log.Debug("grid paging resolved",
		zap.Int("total_records", totalRecords),
		zap.Int("rows_on_page", rowsOnPage),
		zap.Int("pages_available", pagesAvailable))

	rowIDs := extractBCBidRowIDs(html)
	for pageIndex := 2; pageIndex <= maxPages && pageIndex <= pagesAvailable; pageIndex++ {
		payload := bcbidPagePayload(basePayload, pageIndex, rowIDs)
		html, err = b.fetchAjaxPage(ctx, payload, ajaxHeader, pageIndex)
		if err != nil {
			return nil, err
		}
		pages = append(pages, html)
		rowIDs = extractBCBidRowIDs(html)
		if err := Sleep(ctx, 500*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return pages, nil
}

func bcbidBasePayload(csrfToken string) url.Values {
	v := url.Values{}
	v.Set("__isSecurePage", "true")
	v.Set("hdnUserValue", "body_x_txtQuery,body_x_selFamily,body_x_selNtypeCode,body_x_selSrfxCode,body_x_selBpmIdOrgaLevelOrgaNode,body_x_txtRfpBeginDate,body_x_selPtypeCode,body_x_selRtgrouCode,body_x_txtRfpEndDate,body_x_selRfpIdAreaLevelAreaNode,body_x_txtRfpRfxId_1")
	v.Set("__LASTFOCUS", "")
	v.Set("__EVENTTARGET", "body_x_grid_grd")
	v.Set("__EVENTARGUMENT", "Page|1")
	v.Set("HTTP_RESOLUTION", "")
	v.Set("REQUEST_METHOD", "GET")
	v.Set("header:x:prxHeaderLogInfo:x:ContrastModal:chkContrastTheme_radio", "true")
	v.Set("header:x:prxHeaderLogInfo:x:ContrastModal:chkContrastTheme", "True")
	v.Set("x_headaction", "")
	v.Set("x_headloginName", "")
	v.Set("header:x:prxHeaderLogInfo:x:ContrastModal:chkPassiveNotification", "0")
	v.Set("proxyActionBar:x:txtWflRefuseMessage", "")
	v.Set("hdnMandatory", "0")
	v.Set("hdnWflAction", "")
	v.Set("body:_ctl0", "")
	v.Set("body:x:txtQuery", "")
	v.Set("body:x:txtRfpRfxId_1", "")
	v.Set("body_x_selSrfxCode_text", "")
	// "val" is the portal's code for the Open status filter.
	v.Set("body:x:selSrfxCode", "val")
	v.Set("body_x_selRtgrouCode_text", "")
	v.Set("body:x:selRtgrouCode", "")
	v.Set("body_x_selNtypeCode_text", "")
	v.Set("body:x:selNtypeCode", "")
	v.Set("body_x_selRfpIdAreaLevelAreaNode_text", "")
	v.Set("body:x:selRfpIdAreaLevelAreaNode", "")
	v.Set("body:x:txtRfpBeginDate", "")
	v.Set("body:x:txtRfpBeginDatemax", "")
	v.Set("body_x_selBpmIdOrgaLevelOrgaNode_text", "")
	v.Set("body:x:selBpmIdOrgaLevelOrgaNode", "")
	v.Set("body_x_selPtypeCode_text", "")
	v.Set("body:x:selPtypeCode", "")
	v.Set("body_x_selFamily_text", "")
	v.Set("body:x:selFamily", "")
	v.Set("body:x:txtRfpEndDate", "")
	v.Set("body:x:txtRfpEndDatemax", "")
	v.Set("body:x:prxFilterBar:x:hdnResetFilterUrlbody_x_prxFilterBar_x_cmdRazBtn", "")
	v.Set("hdnSortExpressionbody_x_grid_grd", "")
	v.Set("hdnSortDirectionbody_x_grid_grd", "")
	v.Set("hdnCurrentPageIndexbody_x_grid_grd", "1")
	v.Set("hdnRowCountbody_x_grid_grd", "151")
	v.Set("maxpageindexbody_x_grid_grd", "10")
	v.Set("ajaxrowsiscountedbody_x_grid_grd", "False")
	v.Set("CSRFToken", csrfToken)
	return v
}

func bcbidPagePayload(base url.Values, pageIndex int, rowIDs []string) url.Values {
	payload := url.Values{}
	for k, vals := range base {
		payload[k] = vals
	}
	payload.Set("__LASTFOCUS", "body_x_grid_gridPagerBtnNextPage")
	payload.Set("__EVENTARGUMENT", "Page|"+strconv.Itoa(pageIndex))
	payload.Set("hdnCurrentPageIndexbody_x_grid_grd", strconv.Itoa(pageIndex-1))
	for _, rowID := range rowIDs {
		payload.Set(fmt.Sprintf("body:x:grid:grd:tr_%s:ctrl_colRfpPlanholdersUsed", rowID), "False")
	}
	return payload
}

func extractBCBidRowIDs(html string) []string {
	var ids []string
	for _, m := range bcbidDataIDRe.FindAllStringSubmatch(html, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func bcbidMaxPageIndex(html string, totalRecords, rowsOnPage int) int {
	if totalRecords > 0 && rowsOnPage > 0 {
		return int(math.Ceil(float64(totalRecords) / float64(rowsOnPage)))
	}

	maxIndex := -1
	if m := bcbidMaxPageRe.FindStringSubmatch(html); m != nil {
		maxIndex, _ = strconv.Atoi(m[1])
	} else if m := bcbidMaxPageAltRe.FindStringSubmatch(html); m != nil {
		maxIndex, _ = strconv.Atoi(m[1])
	} else {
		for _, m := range bcbidPageIndexRe.FindAllStringSubmatch(html, -1) {
			if idx, err := strconv.Atoi(m[1]); err == nil && idx > maxIndex {
				maxIndex = idx
			}
		}
	}
	if maxIndex >= 0 {
		return maxIndex + 1
	}

	if m := bcbidRowCountRe.FindStringSubmatch(html); m != nil && rowsOnPage > 0 {
		rowCount, _ := strconv.Atoi(m[1])
		if pages := int(math.Ceil(float64(rowCount) / float64(rowsOnPage))); pages > 0 {
			return pages
		}
	}
	return 1
}

func (b *BCBid) fetchAjaxPage(ctx context.Context, payload url.Values, header http.Header, pageIndex int) (string, error) {
	ajaxURL := b.AjaxURL + "?ivControlUIDsAsync=body:x:grid:upgrid&asyncmodulename=rfp&asyncpagename=request_browse_public"
	body, _, err := b.client.PostForm(ctx, ajaxURL, payload, header)
	if err != nil {
		return "", fmt.Errorf("fetch page %d: %w", pageIndex, err)
	}
	return normalizeAjaxBody(string(body)), nil
}

// normalizeAjaxBody unwraps the grid HTML from whichever envelope the IV
// framework chose: a JSON string, a JSON array of fragments, or raw HTML.
// The JSON checks come first; a quoted fragment still contains the raw
// markers and would otherwise be returned with its escapes intact.
func normalizeAjaxBody(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, `"`) {
		var asString string
		if err := json.Unmarshal([]byte(trimmed), &asString); err == nil {
			return asString
		}
	}
	if strings.HasPrefix(trimmed, "[") {
		var asArray []any
		if err := json.Unmarshal([]byte(trimmed), &asArray); err == nil {
			for _, v := range asArray {
				if s, ok := v.(string); ok && strings.Contains(s, "<table") {
					return s
				}
			}
		}
	}
	if strings.Contains(body, "<table") || strings.Contains(body, "<div") {
		return body
	}
	// Escaped fragment without a surrounding envelope.
	var unquoted string
	if err := json.Unmarshal([]byte(`"`+trimmed+`"`), &unquoted); err == nil && strings.Contains(unquoted, "<") {
		return unquoted
	}
	return body
}

// probeTotalRecords asks the grid for its row count via the GetCount event.
// Failure is fine; the count is recovered from the page itself.
func (b *BCBid) probeTotalRecords(ctx context.Context, base url.Values, header http.Header) int {
	payload := url.Values{}
	for k, vals := range base {
		payload[k] = vals
	}
	payload.Set("__EVENTARGUMENT", "GetCount")
	payload.Set("__EVENTTARGET", "body_x_grid_grd")
	payload.Set("ajaxmaxpageindexbody_x_grid_grd", base.Get("maxpageindexbody_x_grid_grd"))

	ajaxURL := b.AjaxURL + "?ivControlUIDsAsync=body:x:grid:upgrid&asyncmodulename=rfp&asyncpagename=request_browse_public"
	body, _, err := b.client.PostForm(ctx, ajaxURL, payload, header)
	if err != nil {
		return 0
	}
	text := strings.TrimSpace(string(body))
	if text == "" || LooksLikeChallenge(text, bcbidChallengeMarkers...) {
		return 0
	}

	var decoded struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err == nil && decoded.Count > 0 {
		return decoded.Count
	}
	if m := bcbidCountRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := bcbidRecordsRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func (b *BCBid) ingestPage(ctx context.Context, html string, res *Result, ing Ingester) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return 0, fmt.Errorf("parse grid html: %w", err)
	}

	count := 0
	var ingestErr error
	doc.Find("table#body_x_grid_grd tr[data-id]").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		externalID, _ := tr.Attr("data-id")
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < 12 {
			return true
		}

		status := CleanText(cells.Eq(0).Text())
		opportunityID := CleanText(cells.Eq(1).Text())
		title := CleanText(cells.Eq(2).Text())
		commodities := CleanText(cells.Eq(3).Text())
		oppType := CleanText(cells.Eq(4).Text())
		issueDateRaw := CleanText(cells.Eq(5).Text())
		closeDateRaw := CleanText(cells.Eq(6).Text())
		lastUpdatedRaw := CleanText(cells.Eq(9).Text())
		orgIssuedBy := CleanText(cells.Eq(10).Text())
		orgIssuedFor := CleanText(cells.Eq(11).Text())
		if externalID == "" || title == "" {
			return true
		}

		sourceURL := b.PageURL
		if link := cells.Eq(1).Find("a[href]").First(); link.Length() > 0 {
			if href, ok := link.Attr("href"); ok {
				sourceURL = AbsoluteURL(b.Host, href)
			}
		}
		location := "British Columbia"
		if orgIssuedFor != "" {
			location = orgIssuedFor
		} else if orgIssuedBy != "" {
			location = orgIssuedBy
		}

		issueAt := ParseDateLayout(issueDateRaw, "2006-01-02 3:04:05 PM", b.loc)

		cand := Candidate{
			ExternalID:   externalID,
			Title:        title,
			SkipCreate:   !IsOpenStatus(status),
			Description:  Str(commodities),
			SourceStatus: Str(status),
			SourceURL:    Str(sourceURL),
			Timezone:     "America/Vancouver",
			Raw: map[string]any{
				"status":         status,
				"opportunity_id": opportunityID,
				"commodities":    commodities,
				"type":           oppType,
				"issue_date":     issueDateRaw,
				"close_date":     closeDateRaw,
				"last_updated":   lastUpdatedRaw,
				"issued_by":      orgIssuedBy,
				"issued_for":     orgIssuedFor,
			},
			SolicitationNumber: Str(opportunityID),
			SolicitationType:   Str(oppType),
			PurchasingGroup:    Str(orgIssuedBy),
			BuyerName:          Str(orgIssuedBy),
			Location:           Str(location),
			PublishedAt:        issueAt,
			DatePublishAt:      issueAt,
			DateIssueAt:        issueAt,
			DateClosingAt:      ParseDateLayout(closeDateRaw, "2006-01-02 3:04:05 PM", b.loc),
		}
		count++
		changed, err := ing.Upsert(ctx, b.Key(), b.Name(), cand)
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
