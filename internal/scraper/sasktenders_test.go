package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func saskResultRow(title, org, number, compID string) string {
	return fmt.Sprintf(`
		<div class="HeaderAccordionPlusFormat">
			<table class="ContentAccordionFormat"><tr>
				<td></td><td>%s</td><td>%s</td><td>%s</td>
				<td>2026-01-05</td><td>2026-02-05 2:00 PM</td><td>Open</td>
			</tr></table>
		</div>
		<div class="ContentAccordionFormat_SearchPage">
			<a href="print.aspx?competitionId=%s">View</a>
		</div>`, title, org, number, compID)
}

func saskPage(rows string, totalRows, pageSize, currentPage int) string {
	return fmt.Sprintf(`<html><body><form>
		<input type="hidden" name="__VIEWSTATE" value="vs-%d" />
		<input type="hidden" name="ctl00$ContentPlaceHolder1$hdnNumberOfRows" value="%d" />
		<input type="hidden" name="ctl00$ContentPlaceHolder1$hdnPageSize" value="%d" />
		<input type="hidden" name="ctl00$ContentPlaceHolder1$hdnCurrentPage" value="%d" />
		%s
	</form></body></html>`, currentPage, totalRows, pageSize, currentPage, rows)
}

func TestSaskTenders_PostbackPaging(t *testing.T) {
	page1 := saskPage(
		saskResultRow("Culvert Replacement", "Ministry of Highways", "SK-100", "9001")+
			saskResultRow("Gravel Supply", "RM of Corman Park", "SK-101", "9002"),
		3, 2, 1)
	page2 := saskPage(saskResultRow("Paving", "City of Regina", "SK-102", "9003"), 3, 2, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(page1))
			return
		}
		if got := r.FormValue("__EVENTTARGET"); got != "ctl00$ContentPlaceHolder1$lnkNextPage" {
			t.Errorf("event target = %q", got)
		}
		if got := r.FormValue("__VIEWSTATE"); got != "vs-1" {
			t.Errorf("viewstate not echoed: %q", got)
		}
		w.Write([]byte(page2))
	}))
	defer srv.Close()

	s := NewSaskTenders(ClientConfig{}, zap.NewNop())
	s.BaseURL = srv.URL

	ing := &captureIngester{}
	res, err := s.Run(context.Background(), Params{}, ing)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Found != 3 || res.Upserted != 3 {
		t.Fatalf("result = %+v", res)
	}

	first := ing.candidates[0]
	if first.ExternalID != "9001" {
		t.Fatalf("external id = %q", first.ExternalID)
	}
	if first.SolicitationNumber == nil || *first.SolicitationNumber != "SK-100" {
		t.Fatalf("solicitation = %#v", first.SolicitationNumber)
	}
	if first.SourceURL == nil || *first.SourceURL != "https://sasktenders.ca/content/public/print.aspx?competitionId=9001" {
		t.Fatalf("source url = %#v", first.SourceURL)
	}
	if first.Location == nil || *first.Location != "Ministry of Highways, SK" {
		t.Fatalf("location = %#v", first.Location)
	}
	if first.DateClosingAt == nil {
		t.Fatalf("closing date missing")
	}

	last := ing.candidates[2]
	if last.Title != "Paving" || last.ExternalID != "9003" {
		t.Fatalf("last candidate = %+v", last)
	}
}

func TestSaskTenders_ExternalIDFallbackWhenNoDetailLink(t *testing.T) {
	row := `
		<div class="HeaderAccordionPlusFormat">
			<table class="ContentAccordionFormat"><tr>
				<td></td><td>Bridge Repair</td><td>Town of Melfort</td><td>SK-200</td>
				<td>2026-01-05</td><td>2026-02-05</td><td>Open</td>
			</tr></table>
		</div>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(saskPage(row, 1, 50, 1)))
	}))
	defer srv.Close()

	s := NewSaskTenders(ClientConfig{}, zap.NewNop())
	s.BaseURL = srv.URL

	ing := &captureIngester{}
	if _, err := s.Run(context.Background(), Params{}, ing); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(ing.candidates) != 1 {
		t.Fatalf("candidates = %d", len(ing.candidates))
	}
	if got := ing.candidates[0].ExternalID; got != "SK-200" {
		t.Fatalf("external id = %q, want competition number fallback", got)
	}
}
