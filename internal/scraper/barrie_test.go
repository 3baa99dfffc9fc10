package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBarrie_Run(t *testing.T) {
	const token = "tok-abc-123"
	mux := http.NewServeMux()
	mux.HandleFunc("/Module/Tenders/en", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<form><input name="__RequestVerificationToken" type="hidden" value="` + token + `" /></form>`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("__RequestVerificationToken") != token {
			t.Errorf("form token = %q", r.FormValue("__RequestVerificationToken"))
		}
		if r.Header.Get("RequestVerificationToken") != token {
			t.Errorf("header token = %q", r.Header.Get("RequestVerificationToken"))
		}
		if r.FormValue("status") != "Open" {
			t.Errorf("status = %q", r.FormValue("status"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":1,"data":[
			{"Id":5512,"Title":"Snow Removal 2026","Description":"Plowing","Status":"Open","Scope":"City Wide","TimeZoneLabel":"EST","DateAvailable":"/Date(1767225600000)/","DateClosing":"/Date(1769904000000)/"}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBarrie(ClientConfig{}, zap.NewNop())
	b.BaseURL = srv.URL
	b.SearchURL = srv.URL + "/search"

	ing := &captureIngester{}
	res, err := b.Run(context.Background(), Params{}, ing)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Found != 1 || res.Upserted != 1 {
		t.Fatalf("result = %+v", res)
	}

	cand := ing.candidates[0]
	if cand.ExternalID != "5512" || cand.Title != "Snow Removal 2026" {
		t.Fatalf("candidate = %+v", cand)
	}
	if cand.SourceURL == nil || *cand.SourceURL != srv.URL+"/Module/Tenders/en/Tender/Detail/5512" {
		t.Fatalf("source url = %#v", cand.SourceURL)
	}
	if cand.DateAvailableAt == nil || !cand.DateAvailableAt.Equal(time.UnixMilli(1767225600000)) {
		t.Fatalf("date available = %v", cand.DateAvailableAt)
	}
	if cand.DateClosingAt == nil || !cand.DateClosingAt.Equal(time.UnixMilli(1769904000000)) {
		t.Fatalf("date closing = %v", cand.DateClosingAt)
	}
}

func TestBarrie_NonJSONIsChallenge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Module/Tenders/en", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>no token here</html>`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html>please verify you are human</html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBarrie(ClientConfig{}, zap.NewNop())
	b.BaseURL = srv.URL
	b.SearchURL = srv.URL + "/search"

	_, err := b.Run(context.Background(), Params{}, &captureIngester{})
	if !errors.Is(err, ErrChallenge) {
		t.Fatalf("err = %v, want ErrChallenge", err)
	}
}

func TestBarrie_ParseBidsDate_RejectsOtherFormats(t *testing.T) {
	b := NewBarrie(ClientConfig{}, zap.NewNop())
	if got := b.parseBidsDate("2026-01-01"); got != nil {
		t.Fatalf("plain date accepted: %v", got)
	}
	if got := b.parseBidsDate("/Date(1767225600000)/"); got == nil {
		t.Fatalf("epoch format rejected")
	}
}
