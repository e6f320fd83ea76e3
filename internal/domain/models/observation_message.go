package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MessageSchema tags stream payloads so consumers can detect shape changes.
const MessageSchema = "option_observation.v1"

// ObservationMessage is the stream payload for one observation, post-analytics.
// Absent market and analytics fields are encoded as null.
type ObservationMessage struct {
	Symbol      string          `json:"symbol"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	OptionType  OptionType      `json:"option_type"`
	ExpiryDate  string          `json:"expiry_date"`
	ObservedAt  time.Time       `json:"observed_at"`
	MarketData
	Analytics
}

// Message converts the observation to its stream payload.
func (o *Observation) Message() ObservationMessage {
	k := o.ContractKey.Normalize()
	return ObservationMessage{
		Symbol:      o.Symbol,
		StrikePrice: k.StrikePrice,
		OptionType:  k.OptionType,
		ExpiryDate:  k.ExpiryDate.Format(DateLayout),
		ObservedAt:  k.ObservedAt,
		MarketData:  o.MarketData,
		Analytics:   o.Analytics,
	}
}

// StreamKey is the partitioning key: one contract's history shares a key.
func (o *Observation) StreamKey() []byte {
	return []byte(o.Symbol + "|" + o.ContractKey.Contract())
}

// Observation converts a decoded payload back to the domain type.
func (m ObservationMessage) Observation() (*Observation, error) {
	expiry, err := time.Parse(DateLayout, m.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("expiry_date: %w", err)
	}
	key := ContractKey{
		StrikePrice: m.StrikePrice,
		OptionType:  m.OptionType,
		ExpiryDate:  expiry,
		ObservedAt:  m.ObservedAt,
	}.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &Observation{
		ContractRecord: ContractRecord{Symbol: m.Symbol, ContractKey: key, MarketData: m.MarketData},
		Analytics:      m.Analytics,
	}, nil
}
