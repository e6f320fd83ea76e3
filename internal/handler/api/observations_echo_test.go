package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"OptionPull/internal/domain/models"
	"OptionPull/internal/repository"
	"OptionPull/internal/usecase"
)

var (
	apiExpiry   = time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC)
	apiObserved = time.Date(2024, 12, 2, 9, 15, 30, 0, time.UTC)
)

func observation(strike int64, typ models.OptionType, at time.Time, volume float64) *models.Observation {
	return &models.Observation{ContractRecord: models.ContractRecord{
		Symbol: "NIFTY",
		ContractKey: models.ContractKey{
			StrikePrice: decimal.NewFromInt(strike),
			OptionType:  typ,
			ExpiryDate:  apiExpiry,
			ObservedAt:  at,
		},
		MarketData: models.MarketData{TotalTradedVolume: models.Float(volume), LastPrice: models.Float(100)},
	}}
}

type stubLoop struct{}

func (stubLoop) State() usecase.State { return usecase.StateSleeping }
func (stubLoop) LastReport() *usecase.CycleReport {
	return &usecase.CycleReport{Result: usecase.ResultOK, Fetched: 3}
}

type listBody struct {
	Status int `json:"status"`
	Data   struct {
		Rows  []models.ObservationMessage `json:"rows"`
		Total int                         `json:"total"`
	} `json:"data"`
}

func newTestAPI(t *testing.T) (*echo.Echo, *repository.SnapshotStore, *usecase.ObservationService) {
	t.Helper()
	store, err := repository.NewSnapshotStore(repository.WithDriver("sqlite", ":memory:"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	svc := usecase.NewObservationService(store, nil, "NIFTY", time.Minute, nil)
	e := echo.New()
	NewObservationsEchoHandler(nil, svc, stubLoop{}).RegisterRoutes(e)
	return e, store, svc
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func seed(t *testing.T, store *repository.SnapshotStore) {
	t.Helper()
	later := apiObserved.Add(time.Minute)
	err := store.UpsertBatch(context.Background(), []*models.Observation{
		observation(24000, models.Call, apiObserved, 20000),
		observation(24000, models.Put, apiObserved, 500),
		observation(24000, models.Call, later, 30000),
		observation(24500, models.Call, later, 10000),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestObservationsFilters(t *testing.T) {
	e, store, _ := newTestAPI(t)
	seed(t, store)

	rec := get(e, "/api/observations?option_type=CE&min_volume=10000&expiry=2024-12-26")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Total != 2 || len(body.Data.Rows) != 2 {
		t.Fatalf("expected the two liquid calls, got %d", body.Data.Total)
	}
	if !body.Data.Rows[0].ObservedAt.After(body.Data.Rows[1].ObservedAt) {
		t.Fatalf("rows must be newest first")
	}

	rec = get(e, "/api/observations?strike_min=24100&limit=1")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Data.Total != 1 {
		t.Fatalf("limit not applied: %s", rec.Body.String())
	}
	if !body.Data.Rows[0].StrikePrice.Equal(decimal.NewFromInt(24500)) {
		t.Fatalf("strike_min not applied: %s", rec.Body.String())
	}
}

func TestObservationsRejectsBadQueries(t *testing.T) {
	e, _, _ := newTestAPI(t)
	for _, q := range []string{
		"limit=99999",
		"option_type=XX",
		"expiry=26/12/2024",
		"strike_min=25000&strike_max=24000",
		"from=yesterday",
	} {
		rec := get(e, "/api/observations?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	e, store, _ := newTestAPI(t)
	seed(t, store)

	if rec := get(e, "/api/contracts/history?strike=24000&expiry=2024-12-26"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing option_type should be rejected, got %d", rec.Code)
	}

	rec := get(e, "/api/contracts/history?strike=24000&expiry=2024-12-26&option_type=CALL")
	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.Rows) != 2 || !body.Data.Rows[0].ObservedAt.Equal(apiObserved) {
		t.Fatalf("expected two rows oldest first: %s", rec.Body.String())
	}
}

func TestLatestChain(t *testing.T) {
	e, _, svc := newTestAPI(t)
	if rec := get(e, "/api/chain/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("empty store should give 404, got %d", rec.Code)
	}

	svc.OnCycle(context.Background(), []*models.Observation{observation(24000, models.Call, apiObserved, 20000)})
	rec := get(e, "/api/chain/latest")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"expiry_date":"2024-12-26"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderCacheControl) == "" {
		t.Fatalf("latest chain should be cacheable")
	}
}

func TestHealth(t *testing.T) {
	e, store, _ := newTestAPI(t)
	rec := get(e, "/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"loop":"sleeping"`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}

	_ = store.Close()
	rec = get(e, "/healthz")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "unreachable") {
		t.Fatalf("closed store should be unhealthy, got %d %s", rec.Code, rec.Body.String())
	}
}
