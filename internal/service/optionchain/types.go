package optionchain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"OptionPull/pkg/util"

	"github.com/shopspring/decimal"
)

// chainResponse accepts both the wrapped ({optionChainData:{records:...}}) and the bare
// ({records:...}) forms of the upstream body.
type chainResponse struct {
	OptionChainData *struct {
		Records chainRecords `json:"records"`
	} `json:"optionChainData"`
	Records *chainRecords `json:"records"`
}

func (r chainResponse) rows() ([]chainRow, bool) {
	switch {
	case r.OptionChainData != nil:
		return r.OptionChainData.Records.Data, true
	case r.Records != nil:
		return r.Records.Data, true
	default:
		return nil, false
	}
}

type chainRecords struct {
	Data []chainRow `json:"data"`
}

type chainRow struct {
	CE json.RawMessage `json:"CE"`
	PE json.RawMessage `json:"PE"`
}

type sideWire struct {
	StrikePrice           decimal.NullDecimal `json:"strikePrice"`
	ExpiryDate            string              `json:"expiryDate"`
	OpenInterest          number              `json:"openInterest"`
	ChangeInOpenInterest  number              `json:"changeinOpenInterest"`
	PctChangeOpenInterest number              `json:"pchangeinOpenInterest"`
	TotalTradedVolume     number              `json:"totalTradedVolume"`
	ImpliedVolatility     number              `json:"impliedVolatility"`
	LastPrice             number              `json:"lastPrice"`
	Change                number              `json:"change"`
	PctChange             number              `json:"pChange"`
	TotalBuyQuantity      number              `json:"totalBuyQuantity"`
	TotalSellQuantity     number              `json:"totalSellQuantity"`
	BidQty                number              `json:"bidQty"`
	BidPrice              number              `json:"bidprice"`
	AskQty                number              `json:"askQty"`
	AskPrice              number              `json:"askPrice"`
	UnderlyingValue       number              `json:"underlyingValue"`
}

// number decodes a JSON number, a numeric string, "-" or null. Absent and non-finite
// values stay nil.
type number struct {
	v *float64
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		v, err := util.ParseNumber(s)
		if errors.Is(err, util.ErrNotFinite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("number %q: %w", s, err)
		}
		n.v = v
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("number %s: %w", b, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n.v = &v
	return nil
}
