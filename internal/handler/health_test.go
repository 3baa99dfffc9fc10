package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler_Ready(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		db   Pinger
		want int
	}{
		{"reachable", stubPinger{}, http.StatusOK},
		{"unreachable", stubPinger{err: errors.New("refused")}, http.StatusServiceUnavailable},
		{"missing", nil, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := gin.New()
			(&HealthHandler{DB: tc.db}).Register(engine)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			engine.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
			}
		})
	}
}
