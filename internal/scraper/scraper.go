package scraper

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Source keys, as stored in projects.source_site_key and scraper_settings.
const (
	KeyAlberta         = "alberta-purchasing"
	KeyBarrie          = "barrie-bids-tenders"
	KeyToronto         = "toronto-bids-portal"
	KeyMerxOttawa      = "merx-ottawa"
	KeyPEI             = "pei-tenders"
	KeyNovaScotia      = "nova-scotia-procurement"
	KeyInfraOntario    = "infrastructure-ontario-projects"
	KeySaskTenders     = "sasktenders"
	KeyBCBid           = "bc-bid"
	KeyKenora          = "kenora-tenders"
	KeyWindsor         = "windsor-bids-tenders"
	KeyOntarioHighways = "ontario-highway-programs"
)

// ErrChallenge marks a response that is an anti-bot or WAF interstitial
// rather than real data. Adapters fail fast on it instead of paging on.
var ErrChallenge = errors.New("challenge page served instead of data")

// Params carries per-source settings (page caps, credentials, expected
// counts) decoded from the source's settings blob.
type Params map[string]string

func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

func (p Params) Int(key string, def int) int {
	v := p.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p Params) Bool(key string) bool {
	switch strings.ToLower(p.Get(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Candidate is one normalized listing produced by an adapter, before
// persistence. ExternalID must be stable across runs for the same listing.
type Candidate struct {
	ExternalID  string
	Title       string
	Description *string

	// SkipCreate suppresses inserting a brand-new row (already-closed
	// listings are not worth backfilling); an existing row still updates
	// so status changes are captured.
	SkipCreate bool

	SourceStatus *string
	SourceURL    *string
	Scope        *string
	Timezone     string
	Raw          map[string]any

	SolicitationNumber   *string
	SolicitationType     *string
	SolicitationFormType *string
	PurchasingGroup      *string
	HighLevelCategory    *string
	BuyerName            *string
	BuyerEmail           *string
	BuyerPhone           *string
	BuyerLocation        *string
	Location             *string

	PublishedAt     *time.Time
	DateAvailableAt *time.Time
	DateIssueAt     *time.Time
	DatePublishAt   *time.Time
	DateClosingAt   *time.Time
}

// Ingester persists candidates. Upsert reports whether the write created a
// new row or changed an existing one.
type Ingester interface {
	Upsert(ctx context.Context, sourceKey, sourceName string, c Candidate) (bool, error)
}

// Result summarizes one adapter run. A non-empty Warning finishes the run's
// ledger entry with status "warning" instead of "success".
type Result struct {
	Found    int
	Upserted int
	Warning  string
}

// Adapter is one per-source scraper. Run fetches, normalizes and hands every
// listing to the ingester; it returns an error only when the run as a whole
// failed (network, challenge, malformed payload).
type Adapter interface {
	Key() string
	Name() string
	Run(ctx context.Context, params Params, ing Ingester) (Result, error)
}

// Registry holds adapters in their batch execution order.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Key()]; !ok {
		r.order = append(r.order, a.Key())
	}
	r.adapters[a.Key()] = a
}

func (r *Registry) Get(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns source keys in registration order, which is the batch order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// openStatuses are the raw source statuses treated as still accepting bids.
var openStatuses = map[string]struct{}{
	"open":      {},
	"active":    {},
	"published": {},
}

// IsOpenStatus reports whether a raw source status should pass the creation
// gate. Sources that omit status entirely are taken at face value.
func IsOpenStatus(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return true
	}
	_, ok := openStatuses[strings.ToLower(trimmed)]
	return ok
}

// closedStatuses is the inverse gate used by sources whose vocabulary is a
// known closed-list rather than a known open-list.
var closedStatuses = map[string]struct{}{
	"completed": {},
	"cancelled": {},
	"closed":    {},
}

// IsActiveStatus reports whether a raw status is anything other than an
// explicitly terminal one.
func IsActiveStatus(raw string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return true
	}
	_, closed := closedStatuses[trimmed]
	return !closed
}

// Str returns a pointer to the trimmed string, or nil when it trims empty.
func Str(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
