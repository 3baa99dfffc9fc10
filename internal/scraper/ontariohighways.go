package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OntarioHighways ingests the Ontario highway construction program from its
// public ArcGIS feature layer, paging with resultOffset until the service
// stops reporting exceededTransferLimit. Rows have no intrinsic id; the
// contract number serves when present, otherwise a hash of the fields.
type OntarioHighways struct {
	LayerURL string
	PageURL  string

	client *Client
	log    *zap.Logger
	loc    *time.Location
}

func NewOntarioHighways(cfg ClientConfig, log *zap.Logger) *OntarioHighways {
	return &OntarioHighways{
		LayerURL: "https://services.arcgis.com/6iGx1Dq91oKtcE7x/arcgis/rest/services/OHP_Buff_FilterHelper_June2025/FeatureServer/40",
		PageURL:  "https://www.ontario.ca/page/ontarios-highway-programs",
		client:   NewClient(cfg, log),
		log:      log,
		loc:      LoadLocation("America/Toronto"),
	}
}

func (o *OntarioHighways) Key() string  { return KeyOntarioHighways }
func (o *OntarioHighways) Name() string { return "Ontario Highway Programs" }

type arcgisLayerInfo struct {
	ObjectIDField     string `json:"objectIdField"`
	ObjectIDFieldName string `json:"objectIdFieldName"`
	MaxRecordCount    int    `json:"maxRecordCount"`
	EditingInfo       struct {
		DataLastEditDate int64 `json:"dataLastEditDate"`
	} `json:"editingInfo"`
}

type arcgisQueryResponse struct {
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Features              []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
}

func (o *OntarioHighways) Run(ctx context.Context, params Params, ing Ingester) (Result, error) {
	var res Result

	header := http.Header{}
	header.Set("Accept", "application/json, text/plain, */*")

	layerBody, _, err := o.client.Get(ctx, o.LayerURL+"?f=json", header)
	if err != nil {
		return res, fmt.Errorf("fetch layer info: %w", err)
	}
	var layer arcgisLayerInfo
	if err := json.Unmarshal(layerBody, &layer); err != nil {
		return res, fmt.Errorf("decode layer info: %w", err)
	}

	objectIDField := layer.ObjectIDField
	if objectIDField == "" {
		objectIDField = layer.ObjectIDFieldName
	}
	if objectIDField == "" {
		objectIDField = "OBJECTID"
	}
	pageSize := layer.MaxRecordCount
	if pageSize <= 0 {
		pageSize = 1000
	}
	if pageSize > 2000 {
		pageSize = 2000
	}

	var lastUpdated *time.Time
	if ms := layer.EditingInfo.DataLastEditDate; ms > 0 {
		t := time.UnixMilli(ms).In(o.loc)
		lastUpdated = &t
	}

	queryHeader := http.Header{}
	queryHeader.Set("Accept", "application/json, text/plain, */*")
	queryHeader.Set("Referer", o.PageURL)

	offset := 0
	for {
		q := url.Values{}
		q.Set("f", "json")
		q.Set("where", "1=1")
		q.Set("outFields", "*")
		q.Set("orderByFields", objectIDField+" ASC")
		q.Set("resultOffset", strconv.Itoa(offset))
		q.Set("resultRecordCount", strconv.Itoa(pageSize))
		q.Set("returnGeometry", "false")
		q.Set("resultType", "standard")

		body, _, err := o.client.Get(ctx, o.LayerURL+"/query?"+q.Encode(), queryHeader)
		if err != nil {
			return res, fmt.Errorf("query features at offset %d: %w", offset, err)
		}
		var parsed arcgisQueryResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return res, fmt.Errorf("decode features at offset %d: %w", offset, err)
		}
		if len(parsed.Features) == 0 {
			break
		}

		for _, feature := range parsed.Features {
			if len(feature.Attributes) == 0 {
				continue
			}
			res.Found++
			changed, err := o.ingestRow(ctx, feature.Attributes, lastUpdated, ing)
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			}
		}

		offset += len(parsed.Features)
		if !parsed.ExceededTransferLimit {
			break
		}
		if err := o.client.PageDelay(ctx, 0); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (o *OntarioHighways) ingestRow(ctx context.Context, attrs map[string]any, lastUpdated *time.Time, ing Ingester) (bool, error) {
	programType := attrString(attrs, "PROGRAM_TYPE")
	startYear := attrString(attrs, "PROJECT_START_YEAR")
	region := attrString(attrs, "REGION_NAME")
	highway := attrString(attrs, "WP_HIGHWAYS")
	location := attrString(attrs, "GWP_SHORT_DESCRIPTION")
	typeOfWork := attrString(attrs, "HP_TYPE_OF_WORK")
	status := attrString(attrs, "HIGHWAY_PROGRAM_STATUS")
	targetCompletion := attrString(attrs, "PROJECT_COMPLETION_YEAR")
	contract := attrString(attrs, "CONTRACT_NUMBER")
	projectLength := attrString(attrs, "PROJECT_LENGTH")
	costRange := attrString(attrs, "ESTIMATED_COST_RANGE")
	engineeringStatus := attrString(attrs, "ENGINEERING_STATUS")
	deliveryMethod := attrString(attrs, "DELIVERY_METHOD")

	if location == "" && highway == "" && contract == "" {
		return false, nil
	}

	var titleParts []string
	if highway != "" {
		titleParts = append(titleParts, "Highway "+highway)
	}
	if location != "" {
		titleParts = append(titleParts, location)
	}
	if len(titleParts) == 0 && programType != "" {
		titleParts = append(titleParts, programType)
	}
	title := strings.Join(titleParts, " - ")
	if title == "" {
		title = "Ontario Highway Program Project"
	}

	externalID := contract
	if externalID == "" {
		externalID = HashID(programType, startYear, region, highway, location,
			typeOfWork, status, targetCompletion, contract)
	}

	var descParts []string
	for _, part := range []struct{ label, value string }{
		{"Type of work", typeOfWork},
		{"Status", status},
		{"Engineering", engineeringStatus},
		{"Delivery", deliveryMethod},
		{"Estimated cost", costRange},
	} {
		if part.value != "" {
			descParts = append(descParts, part.label+": "+part.value)
		}
	}

	loc := location
	if loc == "" {
		loc = region
	}
	if loc == "" {
		loc = "Ontario"
	}

	lastUpdatedStr := ""
	if lastUpdated != nil {
		lastUpdatedStr = lastUpdated.Format("2006-01-02")
	}

	cand := Candidate{
		ExternalID: externalID,
		Title:      title,
		// Highway programs use a terminal-status vocabulary, so the gate
		// is the inverse of the usual open-list.
		SkipCreate:   !IsActiveStatus(status),
		Description:  Str(strings.Join(descParts, " | ")),
		SourceStatus: Str(status),
		SourceURL:    Str(o.PageURL),
		Scope:        Str(programType),
		Raw: map[string]any{
			"program_type":           programType,
			"start_year":             startYear,
			"region":                 region,
			"highway":                highway,
			"location":               location,
			"type_of_work":           typeOfWork,
			"highway_program_status": status,
			"target_completion":      targetCompletion,
			"contract_number":        contract,
			"project_length_km":      projectLength,
			"estimated_cost_range":   costRange,
			"engineering_status":     engineeringStatus,
			"delivery_method":        deliveryMethod,
			"data_last_updated":      lastUpdatedStr,
		},
		Location:      Str(loc),
		PublishedAt:   lastUpdated,
		DatePublishAt: lastUpdated,
	}
	return ing.Upsert(ctx, o.Key(), o.Name(), cand)
}

// attrString renders an ArcGIS attribute as text; numeric years and lengths
// arrive as float64.
func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
