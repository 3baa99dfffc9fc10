package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"tendersync/internal/models"
	"tendersync/internal/scraper"
)

func TestIngester_CreatesAndUpdates(t *testing.T) {
	store := newStubStore()
	ing := NewIngester(store, zap.NewNop())
	ctx := context.Background()

	closing := time.Date(2026, 9, 30, 14, 0, 0, 0, time.UTC)
	cand := scraper.Candidate{
		ExternalID:    "101",
		Title:         "Road Rehab",
		SourceStatus:  scraper.Str("Open"),
		Location:      scraper.Str("Calgary"),
		DateClosingAt: &closing,
		Raw:           map[string]any{"id": 101},
	}

	changed, err := ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !changed {
		t.Fatalf("create not reported as change")
	}
	stored := store.projects[projectKey("alberta-purchasing", "101")]
	if stored == nil {
		t.Fatalf("project not stored")
	}
	if stored.SourceSiteName == nil || *stored.SourceSiteName != "Alberta Purchasing" {
		t.Fatalf("site name = %#v", stored.SourceSiteName)
	}

	// Same payload again changes nothing and skips the write.
	writes := store.upsertCalls
	changed, err = ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if changed {
		t.Fatalf("identical payload reported as change")
	}
	if store.upsertCalls != writes {
		t.Fatalf("identical payload still wrote")
	}

	// A status flip is a change.
	cand.SourceStatus = scraper.Str("Awarded")
	changed, err = ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !changed {
		t.Fatalf("status change not reported")
	}
	stored = store.projects[projectKey("alberta-purchasing", "101")]
	if stored.SourceStatus == nil || *stored.SourceStatus != "Awarded" {
		t.Fatalf("status = %#v", stored.SourceStatus)
	}
}

func TestIngester_SkipCreateGatesNewRowsOnly(t *testing.T) {
	store := newStubStore()
	ing := NewIngester(store, zap.NewNop())
	ctx := context.Background()

	closed := scraper.Candidate{
		ExternalID:   "55",
		Title:        "Old Tender",
		SkipCreate:   true,
		SourceStatus: scraper.Str("Closed"),
	}
	changed, err := ing.Upsert(ctx, "sasktenders", "Saskatchewan Tenders", closed)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if changed || len(store.projects) != 0 {
		t.Fatalf("closed unseen listing was created")
	}

	// Once the row exists, the same gated candidate still updates it.
	open := closed
	open.SkipCreate = false
	open.SourceStatus = scraper.Str("Open")
	if _, err := ing.Upsert(ctx, "sasktenders", "Saskatchewan Tenders", open); err != nil {
		t.Fatalf("seed: %v", err)
	}
	changed, err = ing.Upsert(ctx, "sasktenders", "Saskatchewan Tenders", closed)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !changed {
		t.Fatalf("existing row not refreshed past the gate")
	}
	stored := store.projects[projectKey("sasktenders", "55")]
	if stored.SourceStatus == nil || *stored.SourceStatus != "Closed" {
		t.Fatalf("status = %#v", stored.SourceStatus)
	}
}

func TestIngester_PreservesOperatorFlags(t *testing.T) {
	store := newStubStore()
	ing := NewIngester(store, zap.NewNop())
	ctx := context.Background()

	cand := scraper.Candidate{ExternalID: "9", Title: "Flagged"}
	if _, err := ing.Upsert(ctx, "bc-bid", "British Columbia Bid", cand); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stored := store.projects[projectKey("bc-bid", "9")]
	stored.IsFeatured = true
	stored.IsManualEntry = true

	cand.Title = "Flagged v2"
	if _, err := ing.Upsert(ctx, "bc-bid", "British Columbia Bid", cand); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stored = store.projects[projectKey("bc-bid", "9")]
	if stored.Title != "Flagged v2" {
		t.Fatalf("title = %q", stored.Title)
	}
	if !stored.IsFeatured || !stored.IsManualEntry {
		t.Fatalf("operator flags lost: %+v", stored)
	}
}

func TestIngester_RejectsUnusableCandidates(t *testing.T) {
	store := newStubStore()
	ing := NewIngester(store, zap.NewNop())
	ctx := context.Background()

	for _, cand := range []scraper.Candidate{
		{ExternalID: "", Title: "No ID"},
		{ExternalID: "1", Title: ""},
	} {
		changed, err := ing.Upsert(ctx, "kenora-tenders", "Kenora Tenders", cand)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if changed {
			t.Fatalf("unusable candidate %+v accepted", cand)
		}
	}
	if len(store.projects) != 0 {
		t.Fatalf("projects stored: %d", len(store.projects))
	}
}

func TestIngester_JSONBRenderingIsNotAChange(t *testing.T) {
	store := newStubStore()
	ing := NewIngester(store, zap.NewNop())
	ctx := context.Background()

	cand := scraper.Candidate{
		ExternalID:   "101",
		Title:        "Road Rehab",
		SourceStatus: scraper.Str("Open"),
		Raw:          map[string]any{"status": "Open", "id": 101},
	}
	if _, err := ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Postgres hands jsonb back with its own key order and spacing, not the
	// compact bytes we marshaled. Rereading the row must not count as an update.
	stored := store.projects[projectKey("alberta-purchasing", "101")]
	stored.SourceRaw = []byte(`{"id": 101, "status": "Open"}`)

	writes := store.upsertCalls
	changed, err := ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if changed {
		t.Fatalf("reformatted payload reported as change")
	}
	if store.upsertCalls != writes {
		t.Fatalf("reformatted payload still wrote")
	}

	// A genuine value change in the payload still counts.
	cand.Raw = map[string]any{"status": "Closed", "id": 101}
	changed, err = ing.Upsert(ctx, "alberta-purchasing", "Alberta Purchasing", cand)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !changed {
		t.Fatalf("payload value change not reported")
	}
}

func TestProjectChanged_TimePointers(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	same := at.In(time.FixedZone("X", -4*3600))
	old := buildMust(t, scraper.Candidate{ExternalID: "1", Title: "T", DateClosingAt: &at})
	next := buildMust(t, scraper.Candidate{ExternalID: "1", Title: "T", DateClosingAt: &same})
	next.CreatedAt = old.CreatedAt
	next.UpdatedAt = old.UpdatedAt
	if projectChanged(old, next) {
		t.Fatalf("equal instants in different zones reported as change")
	}

	later := at.Add(time.Hour)
	next2 := buildMust(t, scraper.Candidate{ExternalID: "1", Title: "T", DateClosingAt: &later})
	if !projectChanged(old, next2) {
		t.Fatalf("moved closing date not reported as change")
	}
}

func buildMust(t *testing.T, c scraper.Candidate) *models.Project {
	t.Helper()
	p, err := buildProject("src", "Source", c)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return p
}
