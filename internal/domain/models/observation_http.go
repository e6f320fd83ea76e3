package models

// Requests for the read API. Bound from query strings, defaults applied, then validated.

type ObservationsRequest struct {
	Expiry     string  `query:"expiry" json:"expiry" validate:"omitempty,datetime=2006-01-02"`
	OptionType string  `query:"option_type" json:"option_type" validate:"omitempty,oneof=CE PE CALL PUT"`
	StrikeMin  float64 `query:"strike_min" json:"strike_min" validate:"gte=0"`
	StrikeMax  float64 `query:"strike_max" json:"strike_max" validate:"gte=0"`
	From       string  `query:"from" json:"from"`
	To         string  `query:"to" json:"to"`
	MinVolume  float64 `query:"min_volume" json:"min_volume" validate:"gte=0"`
	Limit      int     `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type HistoryRequest struct {
	Strike     string `query:"strike" json:"strike" validate:"required,numeric"`
	Expiry     string `query:"expiry" json:"expiry" validate:"required,datetime=2006-01-02"`
	OptionType string `query:"option_type" json:"option_type" validate:"required,oneof=CE PE CALL PUT"`
	Limit      int    `query:"limit" json:"limit" default:"2000" validate:"gte=1,lte=20000"`
}
