package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	applogger "Genesis/pkg/logger"
)

// OANDAConfig holds REST credentials.
type OANDAConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// OANDAMarketData fetches mid-price candles from the OANDA v20 REST API.
type OANDAMarketData struct {
	client *resty.Client
	l      *applogger.Logger
}

func NewOANDAMarketData(cfg OANDAConfig, l *applogger.Logger) *OANDAMarketData {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept-Datetime-Format", "RFC3339")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &OANDAMarketData{client: client, l: l}
}

type oandaCandle struct {
	Complete bool      `json:"complete"`
	Volume   float64   `json:"volume"`
	Time     time.Time `json:"time"`
	Mid      *struct {
		O string `json:"o"`
		H string `json:"h"`
		L string `json:"l"`
		C string `json:"c"`
	} `json:"mid"`
}

type oandaCandlesResp struct {
	Instrument  string        `json:"instrument"`
	Granularity string        `json:"granularity"`
	Candles     []oandaCandle `json:"candles"`
}

// FetchCandles returns complete candles only, ascending.
func (o *OANDAMarketData) FetchCandles(ctx context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	if q.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	count := q.Count
	if count <= 0 {
		count = 100
	}
	params := map[string]string{
		"granularity": string(domrepo.NormalizeTimeframe(string(q.Timeframe))),
		"count":       strconv.Itoa(count),
		"price":       "M",
	}
	if !q.Until.IsZero() {
		params["to"] = q.Until.UTC().Format(time.RFC3339)
	}

	start := time.Now()
	resp, err := o.client.R().
		SetContext(ctx).
		SetPathParam("instrument", q.Symbol).
		SetQueryParams(params).
		Get("/v3/instruments/{instrument}/candles")
	if err != nil {
		return nil, fmt.Errorf("fetch candles for %s: %w", q.Symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("oanda error %d: %s", resp.StatusCode(), resp.String())
	}

	var body oandaCandlesResp
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	out := make([]models.Candle, 0, len(body.Candles))
	for _, c := range body.Candles {
		if !c.Complete || c.Mid == nil {
			continue
		}
		candle := models.Candle{Bucket: c.Time.UTC(), Symbol: q.Symbol, Volume: c.Volume}
		var perr error
		for _, f := range []struct {
			dst *float64
			src string
		}{{&candle.Open, c.Mid.O}, {&candle.High, c.Mid.H}, {&candle.Low, c.Mid.L}, {&candle.Close, c.Mid.C}} {
			v, err := strconv.ParseFloat(f.src, 64)
			if err != nil {
				perr = err
				break
			}
			*f.dst = v
		}
		if perr != nil {
			o.l.Warn("skipping malformed oanda candle", applogger.String("symbol", q.Symbol), applogger.Error(perr))
			continue
		}
		out = append(out, candle)
	}
	o.l.Debug("oanda fetch_candles ok",
		applogger.String("symbol", q.Symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

var _ domrepo.MarketData = (*OANDAMarketData)(nil)
