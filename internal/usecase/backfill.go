package usecase

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/domain/service"
	applogger "OptionPull/pkg/logger"
	"OptionPull/pkg/util"
)

// BackfillReport counts what one import did.
type BackfillReport struct {
	Rows     int                 `json:"rows"`
	Imported int                 `json:"imported"`
	Existing int                 `json:"existing"` // valid rows the conflict policy left untouched
	Rejected int                 `json:"rejected"`
	Pricing  service.EnrichStats `json:"pricing"`
}

// countingWriter is implemented by stores that can report how many rows a batch changed.
type countingWriter interface {
	WriteBatch(ctx context.Context, obs []*models.Observation) (int64, error)
}

// Backfill imports historical observations from CSV exports into the store.
// Column names are matched case-insensitively; both the legacy export names
// (pchange_in_open_interest, p_change, timestamp) and the current ones are accepted.
type Backfill struct {
	store     drepo.Storage
	pricer    service.Enricher // nil keeps analytics null
	symbol    string
	batchSize int
	l         *applogger.Logger
}

func NewBackfill(store drepo.Storage, pricer service.Enricher, symbol string, batchSize int, l *applogger.Logger) *Backfill {
	if batchSize <= 0 {
		batchSize = 500
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Backfill{store: store, pricer: pricer, symbol: symbol, batchSize: batchSize, l: l}
}

var columnAliases = map[string]string{
	"pchange_in_open_interest": "pct_change_open_interest",
	"p_change":                 "pct_change",
	"timestamp":                "observed_at",
	"strike":                   "strike_price",
	"expiry":                   "expiry_date",
	"type":                     "option_type",
}

var numericColumns = []string{
	"open_interest", "change_in_open_interest", "pct_change_open_interest",
	"total_traded_volume", "implied_volatility", "last_price", "change", "pct_change",
	"total_buy_quantity", "total_sell_quantity", "bid_qty", "bid_price", "ask_qty", "ask_price",
	"underlying_value",
}

// Import reads r to the end. Malformed rows are counted and skipped; a store
// failure aborts the import with the rows written so far left in place.
func (b *Backfill) Import(ctx context.Context, r io.Reader) (BackfillReport, error) {
	var rep BackfillReport
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return rep, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	for _, required := range []string{"strike_price", "option_type", "expiry_date", "observed_at"} {
		if _, ok := cols[required]; !ok {
			return rep, fmt.Errorf("missing column %q", required)
		}
	}

	batch := make([]*models.ContractRecord, 0, b.batchSize)
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			rep.Rejected++
			b.l.Warn("backfill: unreadable row", applogger.Int("line", line), applogger.Error(err))
			continue
		}
		rep.Rows++
		rec, err := b.parseRow(cols, row)
		if err != nil {
			rep.Rejected++
			b.l.Warn("backfill: rejected row", applogger.Int("line", line), applogger.Error(err))
			continue
		}
		batch = append(batch, rec)
		if len(batch) == b.batchSize {
			if err := b.flush(ctx, batch, &rep); err != nil {
				return rep, err
			}
			batch = batch[:0]
		}
	}
	if err := b.flush(ctx, batch, &rep); err != nil {
		return rep, err
	}
	b.l.Info("backfill complete",
		applogger.Int("rows", rep.Rows),
		applogger.Int("imported", rep.Imported),
		applogger.Int("existing", rep.Existing),
		applogger.Int("rejected", rep.Rejected),
	)
	return rep, nil
}

func (b *Backfill) flush(ctx context.Context, recs []*models.ContractRecord, rep *BackfillReport) error {
	if len(recs) == 0 {
		return nil
	}
	var obs []*models.Observation
	if b.pricer != nil {
		var stats service.EnrichStats
		obs, stats = b.pricer.Enrich(ctx, recs)
		rep.Pricing.Priced += stats.Priced
		rep.Pricing.Partial += stats.Partial
		rep.Pricing.Skipped += stats.Skipped
		rep.Pricing.BelowThreshold += stats.BelowThreshold
	} else {
		obs = make([]*models.Observation, len(recs))
		for i, rec := range recs {
			obs[i] = &models.Observation{ContractRecord: *rec}
		}
	}
	cw, ok := b.store.(countingWriter)
	if !ok {
		if err := b.store.UpsertBatch(ctx, obs); err != nil {
			return fmt.Errorf("backfill store: %w", err)
		}
		rep.Imported += len(obs)
		return nil
	}
	n, err := cw.WriteBatch(ctx, obs)
	if err != nil {
		return fmt.Errorf("backfill store: %w", err)
	}
	rep.Imported += int(n)
	if skipped := len(obs) - int(n); skipped > 0 {
		rep.Existing += skipped
	}
	return nil
}

func (b *Backfill) parseRow(cols map[string]int, row []string) (*models.ContractRecord, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	strike, err := decimal.NewFromString(strings.ReplaceAll(get("strike_price"), ",", ""))
	if err != nil {
		return nil, fmt.Errorf("strike_price: %w", err)
	}
	typ, err := models.ParseOptionType(get("option_type"))
	if err != nil {
		return nil, err
	}
	expiry, err := util.ParseDate(get("expiry_date"))
	if err != nil {
		return nil, fmt.Errorf("expiry_date: %w", err)
	}
	observed, ok := util.ParseTime(get("observed_at"))
	if !ok {
		return nil, fmt.Errorf("observed_at: unrecognized time %q", get("observed_at"))
	}

	rec := &models.ContractRecord{
		Symbol: b.symbol,
		ContractKey: models.ContractKey{
			StrikePrice: strike,
			OptionType:  typ,
			ExpiryDate:  expiry,
			ObservedAt:  observed,
		}.Normalize(),
	}
	if s := get("symbol"); s != "" {
		rec.Symbol = s
	}
	if err := rec.ContractKey.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]**float64{
		"open_interest":            &rec.OpenInterest,
		"change_in_open_interest":  &rec.ChangeInOpenInterest,
		"pct_change_open_interest": &rec.PctChangeOpenInterest,
		"total_traded_volume":      &rec.TotalTradedVolume,
		"implied_volatility":       &rec.ImpliedVolatility,
		"last_price":               &rec.LastPrice,
		"change":                   &rec.Change,
		"pct_change":               &rec.PctChange,
		"total_buy_quantity":       &rec.TotalBuyQuantity,
		"total_sell_quantity":      &rec.TotalSellQuantity,
		"bid_qty":                  &rec.BidQty,
		"bid_price":                &rec.BidPrice,
		"ask_qty":                  &rec.AskQty,
		"ask_price":                &rec.AskPrice,
		"underlying_value":         &rec.UnderlyingValue,
	}
	for _, name := range numericColumns {
		v, err := util.ParseNumber(get(name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*fields[name] = v
	}
	return rec, nil
}
