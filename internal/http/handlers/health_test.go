package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		health Pinger
		want   int
	}{
		{"no store", nil, http.StatusOK},
		{"store up", pingerFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"store down", pingerFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := &Handler{Health: tc.health, Logger: zerolog.Nop()}
		r := gin.New()
		r.GET("/healthz", h.Healthz)

		req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, w.Code)
		}
	}
}
