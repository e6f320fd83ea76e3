package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"OptionPull/internal/domain/models"
)

// TableName is the snapshot table.
const TableName = "option_chain"

// ObservationRow maps one observation onto the option_chain table.
// The composite primary key is the contract business key.
type ObservationRow struct {
	StrikePrice decimal.Decimal `gorm:"column:strike_price;primaryKey;type:numeric(12,2);not null;index:idx_option_chain_expiry_strike,priority:2"`
	OptionType  string          `gorm:"column:option_type;primaryKey;type:varchar(2);not null"`
	ExpiryDate  time.Time       `gorm:"column:expiry_date;primaryKey;type:date;not null;index:idx_option_chain_expiry_strike,priority:1"`
	ObservedAt  time.Time       `gorm:"column:observed_at;primaryKey;not null;index:idx_option_chain_observed_at"`
	Symbol      string          `gorm:"column:symbol;type:varchar(32);not null;index:idx_option_chain_symbol"`

	OpenInterest          *float64 `gorm:"column:open_interest;type:numeric"`
	ChangeInOpenInterest  *float64 `gorm:"column:change_in_open_interest;type:numeric"`
	PctChangeOpenInterest *float64 `gorm:"column:pct_change_open_interest;type:numeric"`
	TotalTradedVolume     *float64 `gorm:"column:total_traded_volume;type:numeric"`
	ImpliedVolatility     *float64 `gorm:"column:implied_volatility;type:numeric"`
	LastPrice             *float64 `gorm:"column:last_price;type:numeric"`
	Change                *float64 `gorm:"column:change;type:numeric"`
	PctChange             *float64 `gorm:"column:pct_change;type:numeric"`
	TotalBuyQuantity      *float64 `gorm:"column:total_buy_quantity;type:numeric"`
	TotalSellQuantity     *float64 `gorm:"column:total_sell_quantity;type:numeric"`
	BidQty                *float64 `gorm:"column:bid_qty;type:numeric"`
	BidPrice              *float64 `gorm:"column:bid_price;type:numeric"`
	AskQty                *float64 `gorm:"column:ask_qty;type:numeric"`
	AskPrice              *float64 `gorm:"column:ask_price;type:numeric"`
	UnderlyingValue       *float64 `gorm:"column:underlying_value;type:numeric"`

	Delta               *float64 `gorm:"column:delta;type:double precision"`
	Gamma               *float64 `gorm:"column:gamma;type:double precision"`
	Theta               *float64 `gorm:"column:theta;type:double precision"`
	Vega                *float64 `gorm:"column:vega;type:double precision"`
	Rho                 *float64 `gorm:"column:rho;type:double precision"`
	FairValueClosedForm *float64 `gorm:"column:fair_value_closed_form;type:double precision"`
	FairValueSimulated  *float64 `gorm:"column:fair_value_simulated;type:double precision"`

	RawPayload datatypes.JSON `gorm:"column:raw_payload"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (ObservationRow) TableName() string { return TableName }

// keyColumns is the conflict target of every upsert.
var keyColumns = []string{"strike_price", "option_type", "expiry_date", "observed_at"}

// valueColumns are overwritten on conflict under last-write-wins.
var valueColumns = []string{
	"symbol",
	"open_interest", "change_in_open_interest", "pct_change_open_interest",
	"total_traded_volume", "implied_volatility", "last_price", "change", "pct_change",
	"total_buy_quantity", "total_sell_quantity", "bid_qty", "bid_price", "ask_qty", "ask_price",
	"underlying_value",
	"delta", "gamma", "theta", "vega", "rho", "fair_value_closed_form", "fair_value_simulated",
	"raw_payload", "updated_at",
}

func rowFromObservation(o *models.Observation) ObservationRow {
	k := o.ContractKey.Normalize()
	m := o.MarketData
	a := o.Analytics
	row := ObservationRow{
		StrikePrice:           k.StrikePrice,
		OptionType:            string(k.OptionType),
		ExpiryDate:            k.ExpiryDate,
		ObservedAt:            k.ObservedAt,
		Symbol:                o.Symbol,
		OpenInterest:          m.OpenInterest,
		ChangeInOpenInterest:  m.ChangeInOpenInterest,
		PctChangeOpenInterest: m.PctChangeOpenInterest,
		TotalTradedVolume:     m.TotalTradedVolume,
		ImpliedVolatility:     m.ImpliedVolatility,
		LastPrice:             m.LastPrice,
		Change:                m.Change,
		PctChange:             m.PctChange,
		TotalBuyQuantity:      m.TotalBuyQuantity,
		TotalSellQuantity:     m.TotalSellQuantity,
		BidQty:                m.BidQty,
		BidPrice:              m.BidPrice,
		AskQty:                m.AskQty,
		AskPrice:              m.AskPrice,
		UnderlyingValue:       m.UnderlyingValue,
		Delta:                 a.Delta,
		Gamma:                 a.Gamma,
		Theta:                 a.Theta,
		Vega:                  a.Vega,
		Rho:                   a.Rho,
		FairValueClosedForm:   a.FairValueClosedForm,
		FairValueSimulated:    a.FairValueSimulated,
	}
	if len(o.Raw) > 0 {
		row.RawPayload = datatypes.JSON(o.Raw)
	}
	return row
}

func (r *ObservationRow) observation() *models.Observation {
	return &models.Observation{
		ContractRecord: models.ContractRecord{
			Symbol: r.Symbol,
			ContractKey: models.ContractKey{
				StrikePrice: r.StrikePrice,
				OptionType:  models.OptionType(r.OptionType),
				ExpiryDate:  r.ExpiryDate,
				ObservedAt:  r.ObservedAt,
			}.Normalize(),
			MarketData: models.MarketData{
				OpenInterest:          r.OpenInterest,
				ChangeInOpenInterest:  r.ChangeInOpenInterest,
				PctChangeOpenInterest: r.PctChangeOpenInterest,
				TotalTradedVolume:     r.TotalTradedVolume,
				ImpliedVolatility:     r.ImpliedVolatility,
				LastPrice:             r.LastPrice,
				Change:                r.Change,
				PctChange:             r.PctChange,
				TotalBuyQuantity:      r.TotalBuyQuantity,
				TotalSellQuantity:     r.TotalSellQuantity,
				BidQty:                r.BidQty,
				BidPrice:              r.BidPrice,
				AskQty:                r.AskQty,
				AskPrice:              r.AskPrice,
				UnderlyingValue:       r.UnderlyingValue,
			},
			Raw: []byte(r.RawPayload),
		},
		Analytics: models.Analytics{
			Delta:               r.Delta,
			Gamma:               r.Gamma,
			Theta:               r.Theta,
			Vega:                r.Vega,
			Rho:                 r.Rho,
			FairValueClosedForm: r.FairValueClosedForm,
			FairValueSimulated:  r.FairValueSimulated,
		},
	}
}
