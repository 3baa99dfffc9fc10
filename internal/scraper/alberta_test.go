package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newAlbertaTestServer(t *testing.T, pages []string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := payload["filter"]; !ok {
			t.Errorf("request missing filter block")
		}
		idx := calls
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pages[idx]))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAlberta_Run(t *testing.T) {
	page1 := `{"totalCount":3,"values":[
		{"id":101,"title":"Road Rehab","statusCode":"open","projectDescription":"Repave","postDateTime":"2026-01-10T08:00:00","closeDateTime":"2026-02-10T14:00:00","solicitationNumber":"AB-1","contractingOrganization":"Alberta Transportation","regionOfDelivery":["Calgary Region"]},
		{"id":102,"title":"Bridge Deck","statusCode":"open","regionOfDelivery":[]}
	]}`
	page2 := `{"totalCount":3,"values":[
		{"id":103,"title":"Closed Work","statusCode":"awarded"}
	]}`
	srv, calls := newAlbertaTestServer(t, []string{page1, page2})

	a := NewAlberta(ClientConfig{}, zap.NewNop())
	a.BaseURL = srv.URL
	a.FrontendURL = "https://purchasing.alberta.ca"

	ing := &captureIngester{}
	res, err := a.Run(context.Background(), Params{"limit": "2"}, ing)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}
	if res.Found != 3 || res.Upserted != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(ing.candidates) != 3 {
		t.Fatalf("candidates = %d", len(ing.candidates))
	}
	for _, key := range ing.sourceKeys {
		if key != KeyAlberta {
			t.Fatalf("source key = %q", key)
		}
	}

	first := ing.candidates[0]
	if first.ExternalID != "101" || first.Title != "Road Rehab" {
		t.Fatalf("first candidate = %+v", first)
	}
	if first.SkipCreate {
		t.Fatalf("open listing marked skip-create")
	}
	if first.SolicitationNumber == nil || *first.SolicitationNumber != "AB-1" {
		t.Fatalf("solicitation = %#v", first.SolicitationNumber)
	}
	if first.Location == nil || *first.Location != "Calgary Region" {
		t.Fatalf("location = %#v", first.Location)
	}
	if first.DateClosingAt == nil || first.PublishedAt == nil {
		t.Fatalf("dates missing: %+v", first)
	}
	if first.SourceURL == nil || *first.SourceURL != "https://purchasing.alberta.ca/opportunity/101" {
		t.Fatalf("source url = %#v", first.SourceURL)
	}

	second := ing.candidates[1]
	if second.Location == nil || *second.Location != "Alberta" {
		t.Fatalf("default location = %#v", second.Location)
	}

	third := ing.candidates[2]
	if !third.SkipCreate {
		t.Fatalf("awarded listing should be skip-create")
	}
}

func TestAlberta_SkipsMalformedRows(t *testing.T) {
	page := `{"totalCount":2,"values":[
		{"id":"","title":"no id"},
		{"id":7,"title":""}
	]}`
	srv, _ := newAlbertaTestServer(t, []string{page})

	a := NewAlberta(ClientConfig{}, zap.NewNop())
	a.BaseURL = srv.URL

	ing := &captureIngester{}
	res, err := a.Run(context.Background(), Params{"limit": "50"}, ing)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Found != 2 || res.Upserted != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(ing.candidates) != 0 {
		t.Fatalf("unusable rows were ingested")
	}
}
