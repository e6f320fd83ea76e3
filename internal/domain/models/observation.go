package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType is the contract side as labelled by the upstream feed.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// ParseOptionType accepts the feed labels (CE/PE) and the long forms (CALL/PUT).
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL", "C":
		return Call, nil
	case "PE", "PUT", "P":
		return Put, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

func (t OptionType) IsCall() bool { return t == Call }

func (t OptionType) Valid() bool { return t == Call || t == Put }

// Label returns CALL or PUT.
func (t OptionType) Label() string {
	if t == Call {
		return "CALL"
	}
	return "PUT"
}

// ContractKey is the business key of one observation.
type ContractKey struct {
	StrikePrice decimal.Decimal
	OptionType  OptionType
	ExpiryDate  time.Time // UTC midnight
	ObservedAt  time.Time // UTC, second precision
}

// Normalize truncates the key's timestamps to their stored precision.
func (k ContractKey) Normalize() ContractKey {
	k.ExpiryDate = DateOf(k.ExpiryDate)
	k.ObservedAt = k.ObservedAt.UTC().Truncate(time.Second)
	return k
}

// String renders the key in a stable form usable as a map key.
func (k ContractKey) String() string {
	n := k.Normalize()
	return fmt.Sprintf("%s|%s|%s|%d", n.StrikePrice.String(), n.OptionType, n.ExpiryDate.Format(DateLayout), n.ObservedAt.Unix())
}

// Contract identifies a contract regardless of observation time.
func (k ContractKey) Contract() string {
	return fmt.Sprintf("%s|%s|%s", k.StrikePrice.String(), k.OptionType, DateOf(k.ExpiryDate).Format(DateLayout))
}

// Validate reports whether every key component is present.
func (k ContractKey) Validate() error {
	switch {
	case !k.StrikePrice.IsPositive():
		return fmt.Errorf("strike price must be positive")
	case !k.OptionType.Valid():
		return fmt.Errorf("invalid option type %q", k.OptionType)
	case k.ExpiryDate.IsZero():
		return fmt.Errorf("expiry date missing")
	case k.ObservedAt.IsZero():
		return fmt.Errorf("observed_at missing")
	}
	return nil
}

// MarketData holds the upstream attributes. Any field may be absent.
type MarketData struct {
	OpenInterest          *float64 `json:"open_interest"`
	ChangeInOpenInterest  *float64 `json:"change_in_open_interest"`
	PctChangeOpenInterest *float64 `json:"pct_change_open_interest"`
	TotalTradedVolume     *float64 `json:"total_traded_volume"`
	ImpliedVolatility     *float64 `json:"implied_volatility"` // percent
	LastPrice             *float64 `json:"last_price"`
	Change                *float64 `json:"change"`
	PctChange             *float64 `json:"pct_change"`
	TotalBuyQuantity      *float64 `json:"total_buy_quantity"`
	TotalSellQuantity     *float64 `json:"total_sell_quantity"`
	BidQty                *float64 `json:"bid_qty"`
	BidPrice              *float64 `json:"bid_price"`
	AskQty                *float64 `json:"ask_qty"`
	AskPrice              *float64 `json:"ask_price"`
	UnderlyingValue       *float64 `json:"underlying_value"`
}

// ContractRecord is one normalized side of one upstream chain row.
type ContractRecord struct {
	Symbol string
	ContractKey
	MarketData
	Raw []byte // upstream side object, kept for audit
}

// Analytics are the derived pricing fields. Nil means not computed.
type Analytics struct {
	Delta               *float64 `json:"delta"`
	Gamma               *float64 `json:"gamma"`
	Theta               *float64 `json:"theta"`
	Vega                *float64 `json:"vega"`
	Rho                 *float64 `json:"rho"`
	FairValueClosedForm *float64 `json:"fair_value_closed_form"`
	FairValueSimulated  *float64 `json:"fair_value_simulated"`
}

// Empty reports whether no analytics field is populated.
func (a Analytics) Empty() bool {
	return a.Delta == nil && a.Gamma == nil && a.Theta == nil && a.Vega == nil &&
		a.Rho == nil && a.FairValueClosedForm == nil && a.FairValueSimulated == nil
}

// Observation is a contract's market state at one timestamp plus its analytics.
type Observation struct {
	ContractRecord
	Analytics
}

// Volume returns total traded volume, or zero when absent.
func (o *Observation) Volume() float64 {
	if o.TotalTradedVolume == nil {
		return 0
	}
	return *o.TotalTradedVolume
}

// Float returns a pointer to v. Used for nullable numerics.
func Float(v float64) *float64 { return &v }
