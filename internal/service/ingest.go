package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tendersync/internal/models"
	"tendersync/internal/repository"
	"tendersync/internal/scraper"
)

// Ingester persists normalized candidates from the adapters. Two rules
// shape it: a brand-new row is only created when the candidate's gate
// allows it, and an existing row is always refreshed so status changes are
// captured. The returned bool feeds the run's upserted counter and is true
// only when something was actually written.
type Ingester struct {
	store repository.Store
	log   *zap.Logger
}

func NewIngester(store repository.Store, log *zap.Logger) *Ingester {
	return &Ingester{store: store, log: log}
}

var _ scraper.Ingester = (*Ingester)(nil)

func (i *Ingester) Upsert(ctx context.Context, sourceKey, sourceName string, c scraper.Candidate) (bool, error) {
	if c.ExternalID == "" || c.Title == "" {
		return false, nil
	}

	existing, err := i.store.GetProjectBySourceIdentity(ctx, sourceKey, c.ExternalID)
	if err != nil {
		return false, err
	}
	if existing == nil && c.SkipCreate {
		return false, nil
	}

	next, err := buildProject(sourceKey, sourceName, c)
	if err != nil {
		return false, fmt.Errorf("build project %s/%s: %w", sourceKey, c.ExternalID, err)
	}
	if existing != nil {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		// Operator-controlled flags survive every refresh.
		next.IsFeatured = existing.IsFeatured
		next.IsManualEntry = existing.IsManualEntry
		if !projectChanged(existing, next) {
			return false, nil
		}
	}

	if err := i.store.UpsertProject(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

func buildProject(sourceKey, sourceName string, c scraper.Candidate) (*models.Project, error) {
	var raw datatypes.JSON
	if c.Raw != nil {
		encoded, err := json.Marshal(c.Raw)
		if err != nil {
			return nil, fmt.Errorf("encode source payload: %w", err)
		}
		raw = datatypes.JSON(encoded)
	}

	var tz *string
	if c.Timezone != "" {
		tz = &c.Timezone
	}

	now := time.Now().UTC()
	return &models.Project{
		Title:                c.Title,
		Description:          c.Description,
		SourceSiteKey:        &sourceKey,
		SourceExternalID:     &c.ExternalID,
		SourceSiteName:       &sourceName,
		SourceURL:            c.SourceURL,
		SourceStatus:         c.SourceStatus,
		SourceScope:          c.Scope,
		SourceTimezone:       tz,
		SourceRaw:            raw,
		SolicitationNumber:   c.SolicitationNumber,
		SolicitationType:     c.SolicitationType,
		SolicitationFormType: c.SolicitationFormType,
		PurchasingGroup:      c.PurchasingGroup,
		HighLevelCategory:    c.HighLevelCategory,
		BuyerName:            c.BuyerName,
		BuyerEmail:           c.BuyerEmail,
		BuyerPhone:           c.BuyerPhone,
		BuyerLocation:        c.BuyerLocation,
		Location:             c.Location,
		PublishedAt:          c.PublishedAt,
		DateAvailableAt:      c.DateAvailableAt,
		DateIssueAt:          c.DateIssueAt,
		DatePublishAt:        c.DatePublishAt,
		DateClosingAt:        c.DateClosingAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// projectChanged compares the fields a scrape run is allowed to touch.
func projectChanged(old, next *models.Project) bool {
	if old.Title != next.Title {
		return true
	}
	strPairs := [][2]*string{
		{old.Description, next.Description},
		{old.SourceSiteName, next.SourceSiteName},
		{old.SourceURL, next.SourceURL},
		{old.SourceStatus, next.SourceStatus},
		{old.SourceScope, next.SourceScope},
		{old.SourceTimezone, next.SourceTimezone},
		{old.SolicitationNumber, next.SolicitationNumber},
		{old.SolicitationType, next.SolicitationType},
		{old.SolicitationFormType, next.SolicitationFormType},
		{old.PurchasingGroup, next.PurchasingGroup},
		{old.HighLevelCategory, next.HighLevelCategory},
		{old.BuyerName, next.BuyerName},
		{old.BuyerEmail, next.BuyerEmail},
		{old.BuyerPhone, next.BuyerPhone},
		{old.BuyerLocation, next.BuyerLocation},
		{old.Location, next.Location},
	}
	for _, pair := range strPairs {
		if !strPtrEqual(pair[0], pair[1]) {
			return true
		}
	}
	timePairs := [][2]*time.Time{
		{old.PublishedAt, next.PublishedAt},
		{old.DateAvailableAt, next.DateAvailableAt},
		{old.DateIssueAt, next.DateIssueAt},
		{old.DatePublishAt, next.DatePublishAt},
		{old.DateClosingAt, next.DateClosingAt},
	}
	for _, pair := range timePairs {
		if !timePtrEqual(pair[0], pair[1]) {
			return true
		}
	}
	return !rawPayloadEqual(old.SourceRaw, next.SourceRaw)
}

// rawPayloadEqual compares source payloads by value. Postgres stores the
// column as jsonb, which reorders keys and reformats whitespace on the way
// back out, so a byte comparison against a freshly marshaled payload would
// flag every unchanged row.
func rawPayloadEqual(a, b datatypes.JSON) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == 0 && len(b) == 0
	}
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
