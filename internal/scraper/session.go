package scraper

import (
	"fmt"
	"sort"
	"strings"
)

// SessionCredentials holds browser-harvested cookies for sources that sit
// behind session-bound anti-bot layers. Operators paste either individual
// values or a whole Cookie header into the source's settings.
type SessionCredentials struct {
	cookies map[string]string
	order   []string
}

// ParseCookieHeader splits a raw "a=1; b=2" Cookie header.
func ParseCookieHeader(raw string) *SessionCredentials {
	sc := &SessionCredentials{cookies: map[string]string{}}
	for _, part := range strings.Split(raw, ";") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 || pair[0] == "" {
			continue
		}
		sc.Set(pair[0], pair[1])
	}
	return sc
}

// SessionFromParams assembles credentials for a source. Named parameters
// (e.g. "session_id") win over the same cookie inside "cookie_header".
func SessionFromParams(params Params, header string, named map[string]string) *SessionCredentials {
	sc := &SessionCredentials{cookies: map[string]string{}}
	if raw := params.Get(header); raw != "" {
		parsed := ParseCookieHeader(raw)
		for _, name := range parsed.order {
			sc.Set(name, parsed.cookies[name])
		}
	}
	// Deterministic application order for the named overrides.
	keys := make([]string, 0, len(named))
	for param := range named {
		keys = append(keys, param)
	}
	sort.Strings(keys)
	for _, param := range keys {
		if v := params.Get(param); v != "" {
			sc.Set(named[param], v)
		}
	}
	return sc
}

func (sc *SessionCredentials) Set(name, value string) {
	if _, ok := sc.cookies[name]; !ok {
		sc.order = append(sc.order, name)
	}
	sc.cookies[name] = value
}

func (sc *SessionCredentials) Get(name string) string {
	return sc.cookies[name]
}

func (sc *SessionCredentials) Empty() bool {
	return len(sc.cookies) == 0
}

// CookieHeader renders the credentials as a request Cookie header value.
func (sc *SessionCredentials) CookieHeader() string {
	parts := make([]string, 0, len(sc.order))
	for _, name := range sc.order {
		parts = append(parts, fmt.Sprintf("%s=%s", name, sc.cookies[name]))
	}
	return strings.Join(parts, "; ")
}
