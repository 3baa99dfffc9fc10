package scraper

import "testing"

func TestParseCookieHeader(t *testing.T) {
	sc := ParseCookieHeader("ASP.NET_SessionId=abc123; CSRFToken=tok==; empty; =bad")
	if sc.Get("ASP.NET_SessionId") != "abc123" {
		t.Fatalf("session id = %q", sc.Get("ASP.NET_SessionId"))
	}
	if sc.Get("CSRFToken") != "tok==" {
		t.Fatalf("csrf = %q", sc.Get("CSRFToken"))
	}
	if got := sc.CookieHeader(); got != "ASP.NET_SessionId=abc123; CSRFToken=tok==" {
		t.Fatalf("header = %q", got)
	}
}

func TestSessionFromParams_NamedOverridesHeader(t *testing.T) {
	params := Params{
		"cookie_header": "ASP.NET_SessionId=old; other=keep",
		"session_id":    "new",
	}
	sc := SessionFromParams(params, "cookie_header", map[string]string{
		"session_id": "ASP.NET_SessionId",
		"csrf_token": "CSRFToken",
	})
	if sc.Get("ASP.NET_SessionId") != "new" {
		t.Fatalf("named parameter did not win: %q", sc.Get("ASP.NET_SessionId"))
	}
	if sc.Get("other") != "keep" {
		t.Fatalf("header cookie lost: %q", sc.Get("other"))
	}
	if sc.Empty() {
		t.Fatalf("credentials reported empty")
	}
}

func TestSessionFromParams_Empty(t *testing.T) {
	sc := SessionFromParams(Params{}, "cookie_header", map[string]string{"session_id": "sid"})
	if !sc.Empty() {
		t.Fatalf("expected empty credentials, got %q", sc.CookieHeader())
	}
}
