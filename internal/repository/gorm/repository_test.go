package gormrepo

import (
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"

	"tendersync/internal/models"
	"tendersync/internal/repository"
)

// newDryRunDB builds a gorm handle that only renders SQL, so the query
// builders can be checked without a database.
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestSourceNamesQuery(t *testing.T) {
	db := newDryRunDB(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var names []string
		return sourceNamesQuery(tx).Pluck("source_site_name", &names)
	})

	if !strings.Contains(sql, "SELECT DISTINCT `source_site_name`") {
		t.Fatalf("names not distinct display names: %s", sql)
	}
	if !strings.Contains(sql, "source_site_name IS NOT NULL") {
		t.Fatalf("manual entries (NULL name) not filtered: %s", sql)
	}
	if !strings.Contains(sql, "is_enabled") {
		t.Fatalf("disabled sources not filtered: %s", sql)
	}
}

func TestSearchProjectsQuery_SourceMatchesKeyOrName(t *testing.T) {
	db := newDryRunDB(t)
	params := repository.SearchProjectsParams{Source: "Toronto Bids Portal"}
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var items []models.Project
		return searchProjectsQuery(tx, params, time.Now().UTC()).Find(&items)
	})

	if !strings.Contains(sql, "source_site_key = ") || !strings.Contains(sql, "source_site_name = ") {
		t.Fatalf("source filter should match key or display name: %s", sql)
	}
}

func TestSearchProjectsQuery_VisibilityAndStatus(t *testing.T) {
	db := newDryRunDB(t)
	params := repository.SearchProjectsParams{Query: "road", Status: "expired"}
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var items []models.Project
		return searchProjectsQuery(tx, params, time.Now().UTC()).Find(&items)
	})

	if !strings.Contains(sql, "is_manual_entry") || !strings.Contains(sql, "is_enabled") {
		t.Fatalf("public visibility filter missing: %s", sql)
	}
	if !strings.Contains(sql, "ILIKE") {
		t.Fatalf("text search missing: %s", sql)
	}
	if !strings.Contains(sql, "date_closing_at IS NOT NULL AND date_closing_at <=") {
		t.Fatalf("expired filter missing: %s", sql)
	}
}
