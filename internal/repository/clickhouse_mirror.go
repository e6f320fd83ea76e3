package repository

import (
	"context"
	"fmt"
	"time"

	"OptionPull/internal/domain/errs"
	"OptionPull/internal/domain/models"
	applogger "OptionPull/pkg/logger"
)

// BatchInserter is the part of pkg/clickhouse.Client the mirror uses.
type BatchInserter interface {
	InitSchema(ctx context.Context, stmts []string) error
	InsertBatch(ctx context.Context, query string, rows [][]any) error
	Health(ctx context.Context) error
}

// ClickHouseMirror keeps an analytical copy of the stream in ClickHouse.
// ReplacingMergeTree keyed on the contract key keeps the highest version per key,
// which gives last-write-wins once parts are merged.
type ClickHouseMirror struct {
	ch    BatchInserter
	table string
	l     *applogger.Logger
	now   func() time.Time
}

func NewClickHouseMirror(ch BatchInserter, table string, l *applogger.Logger) *ClickHouseMirror {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseMirror{ch: ch, table: table, l: l, now: time.Now}
}

func (m *ClickHouseMirror) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            symbol LowCardinality(String),
            strike_price Decimal(12, 2),
            option_type LowCardinality(String),
            expiry_date Date,
            observed_at DateTime('UTC'),
            open_interest Nullable(Float64),
            change_in_open_interest Nullable(Float64),
            total_traded_volume Nullable(Float64),
            implied_volatility Nullable(Float64),
            last_price Nullable(Float64),
            bid_price Nullable(Float64),
            ask_price Nullable(Float64),
            underlying_value Nullable(Float64),
            delta Nullable(Float64),
            gamma Nullable(Float64),
            theta Nullable(Float64),
            vega Nullable(Float64),
            rho Nullable(Float64),
            fair_value_closed_form Nullable(Float64),
            fair_value_simulated Nullable(Float64),
            version UInt64
        )
        ENGINE = ReplacingMergeTree(version)
        PARTITION BY toYYYYMM(expiry_date)
        ORDER BY (symbol, expiry_date, strike_price, option_type, observed_at)
    `, m.table)
	if err := m.ch.InitSchema(ctx, []string{ddl}); err != nil {
		return errs.Store(m.table, false, err)
	}
	return nil
}

// UpsertBatch appends the observations; duplicates collapse on merge.
func (m *ClickHouseMirror) UpsertBatch(ctx context.Context, obs []*models.Observation) error {
	start := time.Now()
	version := uint64(m.now().UnixNano())
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		k := o.ContractKey.Normalize()
		if err := k.Validate(); err != nil {
			continue
		}
		rows = append(rows, []any{
			o.Symbol, k.StrikePrice, string(k.OptionType), k.ExpiryDate, k.ObservedAt,
			o.OpenInterest, o.ChangeInOpenInterest, o.TotalTradedVolume, o.ImpliedVolatility,
			o.LastPrice, o.BidPrice, o.AskPrice, o.UnderlyingValue,
			o.Delta, o.Gamma, o.Theta, o.Vega, o.Rho, o.FairValueClosedForm, o.FairValueSimulated,
			version,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	q := fmt.Sprintf(`INSERT INTO %s (
            symbol, strike_price, option_type, expiry_date, observed_at,
            open_interest, change_in_open_interest, total_traded_volume, implied_volatility,
            last_price, bid_price, ask_price, underlying_value,
            delta, gamma, theta, vega, rho, fair_value_closed_form, fair_value_simulated,
            version
        )`, m.table)
	if err := m.ch.InsertBatch(ctx, q, rows); err != nil {
		m.l.Error("clickhouse mirror insert error",
			applogger.String("table", m.table),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return errs.Store(m.table, errs.IsTimeout(err), err)
	}
	m.l.Debug("clickhouse mirror insert ok",
		applogger.String("table", m.table),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (m *ClickHouseMirror) Health(ctx context.Context) error { return m.ch.Health(ctx) }
