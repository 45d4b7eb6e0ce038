package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domrepo "Genesis/internal/domain/repository"
)

const oandaCandlesBody = `{
  "instrument": "EUR_USD",
  "granularity": "H1",
  "candles": [
    {"complete": true, "volume": 120, "time": "2024-06-03T10:00:00Z", "mid": {"o": "1.0850", "h": "1.0870", "l": "1.0840", "c": "1.0860"}},
    {"complete": true, "volume": 95, "time": "2024-06-03T11:00:00Z", "mid": {"o": "1.0860", "h": "1.0880", "l": "1.0855", "c": "1.0875"}},
    {"complete": false, "volume": 10, "time": "2024-06-03T12:00:00Z", "mid": {"o": "1.0875", "h": "1.0876", "l": "1.0870", "c": "1.0871"}}
  ]
}`

func TestOANDAFetchCandles(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(oandaCandlesBody))
	}))
	defer srv.Close()

	md := NewOANDAMarketData(OANDAConfig{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, nil)
	until := time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC)
	candles, err := md.FetchCandles(context.Background(), domrepo.CandleQuery{
		Symbol: "EUR_USD", Timeframe: domrepo.TFH1, Count: 3, Until: until,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/v3/instruments/EUR_USD/candles" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	for _, want := range []string{"granularity=H1", "count=3", "price=M", "to=2024-06-03T12%3A30%3A00Z"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %s", gotQuery, want)
		}
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 complete candles, got %d", len(candles))
	}
	if candles[1].Close != 1.0875 || candles[0].High != 1.0870 || candles[0].Volume != 120 {
		t.Fatalf("unexpected candles %+v", candles)
	}
	if !candles[0].Bucket.Before(candles[1].Bucket) {
		t.Fatalf("candles not ascending")
	}
}

func TestOANDAFetchCandlesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessage":"Invalid value specified for 'instrument'"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	md := NewOANDAMarketData(OANDAConfig{BaseURL: srv.URL}, nil)
	if _, err := md.FetchCandles(context.Background(), domrepo.CandleQuery{Symbol: "NOPE", Count: 10}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := md.FetchCandles(context.Background(), domrepo.CandleQuery{}); err == nil {
		t.Fatalf("expected error for empty symbol")
	}
}
