package optionchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
)

const chainBody = `{
  "optionChainData": {
    "records": {
      "data": [
        {
          "CE": {"strikePrice": 24000, "expiryDate": "26-Dec-2024", "openInterest": 1200, "changeinOpenInterest": -15,
                 "pchangeinOpenInterest": -1.2, "totalTradedVolume": 25000, "impliedVolatility": 14.5, "lastPrice": 310.4,
                 "change": 12.1, "pChange": 4.05, "totalBuyQuantity": 9000, "totalSellQuantity": 8000, "bidQty": 50,
                 "bidprice": 310, "askQty": 75, "askPrice": 311, "underlyingValue": 24102.35},
          "PE": {"strikePrice": 24000, "expiryDate": "26-Dec-2024", "totalTradedVolume": "1,250", "impliedVolatility": 0,
                 "lastPrice": "-", "underlyingValue": null}
        },
        {
          "PE": {"strikePrice": 23500, "expiryDate": "26-DEC-2024", "totalTradedVolume": 300}
        },
        {
          "CE": {"strikePrice": 24500, "expiryDate": "26-Dec-2024", "underlyingValue": 24102.35}
        }
      ]
    }
  }
}`

var fixedNow = time.Date(2024, 12, 2, 9, 15, 30, 123456789, time.UTC)

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/index-option-chain" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "NIFTY" {
			t.Errorf("symbol not sent: %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("configured header missing")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string) *Client {
	return New(url+"/api",
		WithHeaders(map[string]string{"User-Agent": "test-agent"}),
		WithClock(func() time.Time { return fixedNow }),
		WithTimeout(2*time.Second))
}

func TestFetchFlattensSides(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, chainBody)
	recs, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// row 2 has no underlying on either side and is dropped
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	ce, pe := recs[0], recs[1]
	if ce.OptionType != models.Call || pe.OptionType != models.Put {
		t.Fatalf("unexpected sides %s %s", ce.OptionType, pe.OptionType)
	}
	if ce.StrikePrice.String() != "24000" {
		t.Fatalf("unexpected strike %s", ce.StrikePrice)
	}
	if !ce.ExpiryDate.Equal(time.Date(2024, 12, 26, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", ce.ExpiryDate)
	}
	if !ce.ObservedAt.Equal(fixedNow.Truncate(time.Second)) || !pe.ObservedAt.Equal(ce.ObservedAt) {
		t.Fatalf("observed_at must be shared and truncated: %v %v", ce.ObservedAt, pe.ObservedAt)
	}
	if *ce.TotalTradedVolume != 25000 || *ce.ImpliedVolatility != 14.5 || *ce.BidPrice != 310 {
		t.Fatalf("market data not mapped: %+v", ce.MarketData)
	}
	if pe.UnderlyingValue == nil || *pe.UnderlyingValue != 24102.35 {
		t.Fatalf("put should inherit the call's underlying")
	}
	if *pe.TotalTradedVolume != 1250 {
		t.Fatalf("string volume not parsed: %v", *pe.TotalTradedVolume)
	}
	if pe.LastPrice != nil || pe.OpenInterest != nil {
		t.Fatalf("absent fields must stay nil")
	}
	if len(ce.Raw) == 0 || ce.Symbol != "NIFTY" {
		t.Fatalf("raw payload or symbol missing")
	}
	if recs[2].StrikePrice.String() != "24500" || recs[2].TotalTradedVolume != nil {
		t.Fatalf("unexpected third record %+v", recs[2])
	}
}

func TestFetchNon2xxIsTransient(t *testing.T) {
	srv := newTestServer(t, http.StatusServiceUnavailable, "busy")
	_, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errs.IsKind(err, errs.KindFetch) || !errs.IsTransient(err) {
		t.Fatalf("expected transient fetch error, got %v", err)
	}
}

func TestFetchMalformedBodyIsTransient(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   "<html>blocked</html>",
		"no records": `{"filtered": {}}`,
	} {
		srv := newTestServer(t, http.StatusOK, body)
		_, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
		if !errs.IsKind(err, errs.KindFetch) || !errs.IsTransient(err) {
			t.Fatalf("%s: expected transient fetch error, got %v", name, err)
		}
	}
}

func TestFetchTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.Fetch(context.Background(), "NIFTY")
	if !errs.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchEmptyChain(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"records": {"data": []}}`)
	recs, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty result, got %d %v", len(recs), err)
	}
}

func TestFetchKeepsSideWhenOtherSideIsUndecodable(t *testing.T) {
	body := `{"records": {"data": [
	  {"CE": {"strikePrice": 24000, "expiryDate": "26-Dec-2024", "totalTradedVolume": 25000,
	          "impliedVolatility": 14.5, "underlyingValue": 24102.35},
	   "PE": {"strikePrice": 24000, "expiryDate": "26-Dec-2024", "totalTradedVolume": "n/a",
	          "underlyingValue": 24102.35}}
	]}}`
	srv := newTestServer(t, http.StatusOK, body)
	recs, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(recs) != 1 || recs[0].OptionType != models.Call {
		t.Fatalf("expected only the call side, got %d records", len(recs))
	}
	if *recs[0].TotalTradedVolume != 25000 {
		t.Fatalf("call side not mapped: %+v", recs[0].MarketData)
	}
}

func TestFetchNonFiniteValuesAreAbsent(t *testing.T) {
	body := `{"records": {"data": [
	  {"CE": {"strikePrice": 24000, "expiryDate": "26-Dec-2024", "totalTradedVolume": 25000,
	          "impliedVolatility": "Infinity", "lastPrice": "NaN", "change": "-Inf", "underlyingValue": 24102.35}}
	]}}`
	srv := newTestServer(t, http.StatusOK, body)
	recs, err := newClient(srv.URL).Fetch(context.Background(), "NIFTY")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	md := recs[0].MarketData
	if md.LastPrice != nil || md.ImpliedVolatility != nil || md.Change != nil {
		t.Fatalf("non-finite values must be absent: %+v", md)
	}
	if _, err := json.Marshal(recs[0]); err != nil {
		t.Fatalf("record must stay encodable: %v", err)
	}
}
