package optionchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	pkghttp "OptionPull/pkg/http"
	applogger "OptionPull/pkg/logger"
	"OptionPull/pkg/util"
)

const chainPath = "/index-option-chain"

// Option configures Client.
type Option func(*Client)

// WithTimeout bounds one fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeaders sets headers sent with every request. The upstream rejects requests
// without a browser-like User-Agent.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock replaces time.Now as the observation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client fetches option-chain snapshots over HTTP.
type Client struct {
	endpoint string
	timeout  time.Duration
	headers  map[string]string
	http     *pkghttp.Client
	log      *applogger.Logger
	now      func() time.Time
}

// New creates a fetcher for baseURL (e.g. https://host/api).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + chainPath,
		timeout:  15 * time.Second,
		headers: map[string]string{
			"Accept":          "application/json",
			"Accept-Language": "en-US,en;q=0.9",
		},
		log: applogger.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = pkghttp.NewClient(pkghttp.WithTimeout(c.timeout), pkghttp.WithHeaders(c.headers))
	return c
}

// Fetch pulls one snapshot for symbol. Every failure is a transient fetch error: the
// caller skips the cycle and tries again on the next one.
func (c *Client) Fetch(ctx context.Context, symbol string) ([]*models.ContractRecord, error) {
	observedAt := c.now().UTC().Truncate(time.Second)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:      pkghttp.MethodGet,
		URL:         c.endpoint,
		QueryParams: url.Values{"symbol": {symbol}},
	}, &body)
	if err != nil {
		return nil, errs.Fetch(c.endpoint, true, err)
	}

	var resp chainResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Fetch(c.endpoint, true, fmt.Errorf("malformed body: %w", err))
	}
	rows, ok := resp.rows()
	if !ok {
		return nil, errs.Fetch(c.endpoint, true, fmt.Errorf("malformed body: no records"))
	}

	out := make([]*models.ContractRecord, 0, 2*len(rows))
	dropped := 0
	for i, row := range rows {
		recs, err := c.normalize(symbol, observedAt, row)
		if err != nil {
			dropped++
			c.log.Warn("option chain: dropping row",
				applogger.String("symbol", symbol),
				applogger.Int("row", i),
				applogger.Error(err))
			continue
		}
		out = append(out, recs...)
	}

	c.log.Debug("option chain fetched",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(rows)),
		applogger.Int("records", len(out)),
		applogger.Int("dropped", dropped))
	return out, nil
}

// normalize flattens one row into a record per present side. The underlying value is
// shared between sides; a row with no underlying on either side cannot be priced.
func (c *Client) normalize(symbol string, observedAt time.Time, row chainRow) ([]*models.ContractRecord, error) {
	type side struct {
		t   models.OptionType
		raw json.RawMessage
		w   sideWire
	}
	var sides []side
	for _, s := range []side{{t: models.Call, raw: row.CE}, {t: models.Put, raw: row.PE}} {
		if len(s.raw) == 0 || string(s.raw) == "null" {
			continue
		}
		if err := json.Unmarshal(s.raw, &s.w); err != nil {
			c.log.Warn("option chain: dropping undecodable side",
				applogger.String("symbol", symbol),
				applogger.String("type", string(s.t)),
				applogger.Error(err))
			continue
		}
		sides = append(sides, s)
	}
	if len(sides) == 0 {
		return nil, fmt.Errorf("row has no decodable CE or PE")
	}

	var underlying *float64
	for _, s := range sides {
		if s.w.UnderlyingValue.v != nil {
			underlying = s.w.UnderlyingValue.v
			break
		}
	}
	if underlying == nil {
		return nil, fmt.Errorf("underlying value missing on both sides")
	}

	out := make([]*models.ContractRecord, 0, len(sides))
	for _, s := range sides {
		if !s.w.StrikePrice.Valid {
			c.log.Warn("option chain: dropping side without strike", applogger.String("type", string(s.t)))
			continue
		}
		expiry, err := util.ParseDate(s.w.ExpiryDate)
		if err != nil {
			c.log.Warn("option chain: dropping side with bad expiry",
				applogger.String("type", string(s.t)),
				applogger.String("expiry", s.w.ExpiryDate))
			continue
		}
		md := s.w.marketData()
		if md.UnderlyingValue == nil {
			md.UnderlyingValue = models.Float(*underlying)
		}
		out = append(out, &models.ContractRecord{
			Symbol: symbol,
			ContractKey: models.ContractKey{
				StrikePrice: s.w.StrikePrice.Decimal,
				OptionType:  s.t,
				ExpiryDate:  expiry,
				ObservedAt:  observedAt,
			},
			MarketData: md,
			Raw:        s.raw,
		})
	}
	return out, nil
}

func (w sideWire) marketData() models.MarketData {
	return models.MarketData{
		OpenInterest:          w.OpenInterest.v,
		ChangeInOpenInterest:  w.ChangeInOpenInterest.v,
		PctChangeOpenInterest: w.PctChangeOpenInterest.v,
		TotalTradedVolume:     w.TotalTradedVolume.v,
		ImpliedVolatility:     w.ImpliedVolatility.v,
		LastPrice:             w.LastPrice.v,
		Change:                w.Change.v,
		PctChange:             w.PctChange.v,
		TotalBuyQuantity:      w.TotalBuyQuantity.v,
		TotalSellQuantity:     w.TotalSellQuantity.v,
		BidQty:                w.BidQty.v,
		BidPrice:              w.BidPrice.v,
		AskQty:                w.AskQty.v,
		AskPrice:              w.AskPrice.v,
		UnderlyingValue:       w.UnderlyingValue.v,
	}
}

var _ drepo.ChainFetcher = (*Client)(nil)
