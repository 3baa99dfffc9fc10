package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"
)

func TestOntarioHighways_PagesUntilTransferLimitClears(t *testing.T) {
	layerInfo := `{"objectIdField":"OBJECTID","maxRecordCount":2,"editingInfo":{"dataLastEditDate":1750000000000}}`
	page1 := `{"exceededTransferLimit":true,"features":[
		{"attributes":{"CONTRACT_NUMBER":"2026-4001","WP_HIGHWAYS":"17","GWP_SHORT_DESCRIPTION":"Kenora to Vermilion Bay","HIGHWAY_PROGRAM_STATUS":"Tendering","HP_TYPE_OF_WORK":"Resurfacing","REGION_NAME":"Northwestern","PROJECT_START_YEAR":2026}},
		{"attributes":{"CONTRACT_NUMBER":"","WP_HIGHWAYS":"11","GWP_SHORT_DESCRIPTION":"Hearst Area","HIGHWAY_PROGRAM_STATUS":"Planning","REGION_NAME":"Northeastern"}}
	]}`
	page2 := `{"exceededTransferLimit":false,"features":[
		{"attributes":{"CONTRACT_NUMBER":"2023-9001","WP_HIGHWAYS":"401","GWP_SHORT_DESCRIPTION":"Done Work","HIGHWAY_PROGRAM_STATUS":"Completed"}}
	]}`

	mux := http.NewServeMux()
	mux.HandleFunc("/layer", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(layerInfo))
	})
	mux.HandleFunc("/layer/query", func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("resultOffset"))
		if got := r.URL.Query().Get("resultRecordCount"); got != "2" {
			t.Errorf("resultRecordCount = %q", got)
		}
		if offset == 0 {
			w.Write([]byte(page1))
			return
		}
		if offset != 2 {
			t.Errorf("offset = %d", offset)
		}
		w.Write([]byte(page2))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := NewOntarioHighways(ClientConfig{}, zap.NewNop())
	o.LayerURL = srv.URL + "/layer"

	ing := &captureIngester{}
	res, err := o.Run(context.Background(), Params{}, ing)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Found != 3 || res.Upserted != 3 {
		t.Fatalf("result = %+v", res)
	}

	first := ing.candidates[0]
	if first.ExternalID != "2026-4001" {
		t.Fatalf("external id = %q", first.ExternalID)
	}
	if first.Title != "Highway 17 - Kenora to Vermilion Bay" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.SkipCreate {
		t.Fatalf("tendering project marked skip-create")
	}
	if first.PublishedAt == nil {
		t.Fatalf("layer edit date not applied")
	}
	if first.Description == nil || *first.Description == "" {
		t.Fatalf("description empty")
	}

	second := ing.candidates[1]
	if second.ExternalID == "" || second.ExternalID == "2026-4001" {
		t.Fatalf("hash fallback id = %q", second.ExternalID)
	}
	if len(second.ExternalID) != 32 {
		t.Fatalf("expected hashed id, got %q", second.ExternalID)
	}

	third := ing.candidates[2]
	if !third.SkipCreate {
		t.Fatalf("completed project should be skip-create")
	}
}

func TestAttrString(t *testing.T) {
	attrs := map[string]any{
		"str":   " Hwy 17 ",
		"whole": float64(2026),
		"frac":  12.5,
		"nil":   nil,
	}
	if got := attrString(attrs, "str"); got != "Hwy 17" {
		t.Fatalf("str = %q", got)
	}
	if got := attrString(attrs, "whole"); got != "2026" {
		t.Fatalf("whole = %q", got)
	}
	if got := attrString(attrs, "frac"); got != "12.5" {
		t.Fatalf("frac = %q", got)
	}
	if got := attrString(attrs, "nil"); got != "" {
		t.Fatalf("nil = %q", got)
	}
	if got := attrString(attrs, "missing"); got != "" {
		t.Fatalf("missing = %q", got)
	}
}
