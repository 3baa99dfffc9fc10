package models

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestComputedStatusAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name    string
		project Project
		want    string
	}{
		{"closing passed wins", Project{SourceStatus: strPtr("Open"), DateClosingAt: &past}, "Expired"},
		{"awarded from source", Project{SourceStatus: strPtr("Awarded"), DateClosingAt: &future}, "Awarded"},
		{"award substring", Project{SourceStatus: strPtr("Contract Award Pending")}, "Awarded"},
		{"empty status is open", Project{}, "Open"},
		{"raw status passthrough", Project{SourceStatus: strPtr("Tendering"), DateClosingAt: &future}, "Tendering"},
		{"no closing keeps raw", Project{SourceStatus: strPtr("Open")}, "Open"},
	}
	for _, tt := range tests {
		if got := tt.project.ComputedStatusAt(now); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestScraperSettingParams(t *testing.T) {
	setting := &ScraperSetting{
		Settings: []byte(`{"limit":25,"cookie_header":"a=1","enabled":true,"off":false,"nested":{"x":1}}`),
	}
	params := setting.Params()
	if params["limit"] != "25" {
		t.Fatalf("limit = %q", params["limit"])
	}
	if params["cookie_header"] != "a=1" {
		t.Fatalf("cookie_header = %q", params["cookie_header"])
	}
	if params["enabled"] != "true" || params["off"] != "false" {
		t.Fatalf("bools = %q/%q", params["enabled"], params["off"])
	}
	if _, ok := params["nested"]; ok {
		t.Fatalf("nested value stringified: %q", params["nested"])
	}

	var nilSetting *ScraperSetting
	if got := nilSetting.Params(); len(got) != 0 {
		t.Fatalf("nil setting params = %v", got)
	}
}
