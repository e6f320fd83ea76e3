package http

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/labstack/echo/v4"
)

type pingHandler struct{}

type pingRequest struct {
	Name  string `query:"name" validate:"required"`
	Limit int    `query:"limit" default:"10" validate:"lte=100"`
}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		var req pingRequest
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, map[string]interface{}{"name": req.Name, "limit": req.Limit, "pad": strings.Repeat("x", 256)})
	})
	e.GET("/boom", func(echo.Context) error { panic("boom") })
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestServerValidationAndDefaults(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}})

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping?name=a", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"limit":10`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping?limit=500", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ERR_REQUIRED") || !strings.Contains(body, `"field":"name"`) || !strings.Contains(body, "ERR_LTE") {
		t.Fatalf("unexpected validation body %s", body)
	}
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}})
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestServerCompressesWithZstd(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}}, WithCompression(true))
	req := httptest.NewRequest(http.MethodGet, "/ping?name=z", nil)
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "zstd" {
		t.Fatalf("expected zstd encoding")
	}
	dec, err := zstd.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !strings.Contains(string(plain), `"name":"z"`) {
		t.Fatalf("unexpected body %s", plain)
	}
}

func TestServerRateLimitSkipsMetrics(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}}, WithRateLimiter(denyAll{}))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping?name=a", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics must not be limited, got %d", rec.Code)
	}
}
