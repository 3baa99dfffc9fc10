package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const torontoPortalURL = "https://www.toronto.ca/business-economy/doing-business-with-the-city/searching-bidding-on-city-contracts/toronto-bids-portal/"

// Toronto ingests the Toronto Bids Portal OData feed. The feed is queried
// for published, open solicitations only, so no creation gate is needed.
type Toronto struct {
	BaseURL string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewToronto(cfg ClientConfig, log *zap.Logger) *Toronto {
	return &Toronto{
		BaseURL: "https://secure.toronto.ca/c3api_data/v2/DataAccess.svc/pmmd_solicitations/feis_solicitation_published",
		client:  NewClient(cfg, log),
		log:     log,
		loc:     LoadLocation("America/Toronto"),
	}
}

func (t *Toronto) Key() string  { return KeyToronto }
func (t *Toronto) Name() string { return "Toronto Bids Portal" }

type torontoFeedResponse struct {
	Count int               `json:"@odata.count"`
	Value []json.RawMessage `json:"value"`
}

func (t *Toronto) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result
	limit := params.Int("limit", 50)
	if limit < 1 {
		limit = 1
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	skip := 0
	total := -1
	for {
		q := url.Values{}
		q.Set("$format", "application/json;odata.metadata=none")
		q.Set("$count", "true")
		q.Set("$skip", strconv.Itoa(skip))
		q.Set("$top", strconv.Itoa(limit))
		q.Set("$filter", "Ready_For_Posting eq 'Yes' and Status eq 'Open'")
		q.Set("$orderby", "Closing_Date desc,Issue_Date desc")

		body, _, err := t.client.Get(ctx, t.BaseURL+"?"+q.Encode(), header)
		if err != nil {
			return res, fmt.Errorf("fetch at skip %d: %w", skip, err)
		}
		var parsed torontoFeedResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode feed at skip %d: %w", skip, err)
		}
		if total < 0 {
			total = parsed.Count
		}

		res.Found += len(parsed.Value)
		for _, raw := range parsed.Value {
			changed, err := t.ingestRow(ctx, raw, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		skip += limit
		if total == 0 {
			if len(parsed.Value) == 0 {
				break
			}
		} else if skip >= total {
			break
		}
		if err := t.client.PageDelay(ctx, 0); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (t *Toronto) ingestRow(ctx context.Context, raw json.RawMessage, ing Ingester) (bool, error) {
	var row struct {
		ID                              json.Number `json:"id"`
		ParentID                        json.Number `json:"Parent_Id"`
		PostingTitle                    string      `json:"Posting_Title"`
		SolicitationDocumentDescription string      `json:"Solicitation_Document_Description"`
		SolicitationDocumentNumber      string      `json:"Solicitation_Document_Number"`
		SolicitationDocumentType        string      `json:"Solicitation_Document_Type"`
		SolicitationFormType            string      `json:"Solicitation_Form_Type"`
		PurchasingGroup                 string      `json:"Purchasing_Group"`
		HighLevelCategory               string      `json:"High_Level_Category"`
		BuyerName                       string      `json:"Buyer_Name"`
		BuyerEmail                      string      `json:"Buyer_Email"`
		BuyerPhoneNumber                string      `json:"Buyer_Phone_Number"`
		BuyerLocation                   string      `json:"Buyer_Location"`
		Status                          string      `json:"Status"`
		AribaDiscoveryPostingLink       string      `json:"Ariba_Discovery_Posting_Link"`
		PublishDateFormatted            string      `json:"Publish_Date_Formatted"`
		PublishDate                     string      `json:"Publish_Date"`
		IssueDateFormatted              string      `json:"Issue_Date_Formatted"`
		IssueDate                       string      `json:"Issue_Date"`
		ClosingDateFormatted            string      `json:"Closing_Date_Formatted"`
		ClosingDate                     string      `json:"Closing_Date"`
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		t.log.Debug("skipping malformed row", zap.Error(err))
		return false, nil
	}

	externalID := row.ID.String()
	if externalID == "" {
		externalID = row.ParentID.String()
	}
	if externalID == "" {
		return false, nil
	}
	title := row.PostingTitle
	if title == "" {
		title = "Untitled solicitation"
	}

	publishAt := t.firstDate(row.PublishDateFormatted, row.PublishDate)
	issueAt := t.firstDate(row.IssueDateFormatted, row.IssueDate)
	closingAt := t.firstDate(row.ClosingDateFormatted, row.ClosingDate)

	// Ariba links are sometimes literal filler text rather than a URL.
	sourceURL := ScrubPlaceholder(row.AribaDiscoveryPostingLink)
	if sourceURL == nil {
		sourceURL = Str(torontoPortalURL)
	}
	location := row.BuyerLocation
	if location == "" {
		location = "Toronto, ON"
	}

	var rawMap map[string]any
	_ = json.Unmarshal(raw, &rawMap)

	cand := Candidate{
		ExternalID:           externalID,
		Title:                title,
		Description:          Str(row.SolicitationDocumentDescription),
		SourceStatus:         Str(row.Status),
		SourceURL:            sourceURL,
		Scope:                Str(row.HighLevelCategory),
		Timezone:             "America/Toronto",
		Raw:                  rawMap,
		SolicitationNumber:   Str(row.SolicitationDocumentNumber),
		SolicitationType:     Str(row.SolicitationDocumentType),
		SolicitationFormType: Str(row.SolicitationFormType),
		PurchasingGroup:      Str(row.PurchasingGroup),
		HighLevelCategory:    Str(row.HighLevelCategory),
		BuyerName:            Str(row.BuyerName),
		BuyerEmail:           Str(row.BuyerEmail),
		BuyerPhone:           Str(row.BuyerPhoneNumber),
		BuyerLocation:        Str(row.BuyerLocation),
		Location:             Str(location),
		PublishedAt:          publishAt,
		DatePublishAt:        publishAt,
		DateIssueAt:          issueAt,
		DateClosingAt:        closingAt,
	}
	return ing.Upsert(ctx, t.Key(), t.Name(), cand)
}

func (t *Toronto) firstDate(values ...string) *time.Time {
	for _, v := range values {
		if parsed := ParseDate(v, t.loc); parsed != nil {
			return parsed
		}
	}
	return nil
}
