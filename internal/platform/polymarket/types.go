package polymarket

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString keeps a JSON string or number as its literal text. Gamma sends
// volume and liquidity either way depending on the endpoint.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// stringList decodes either a JSON array of strings/numbers or a string that
// itself holds such an array, e.g. "[\"0.5\",\"0.5\"]". A malformed value
// decodes to an empty list so one bad field does not drop the whole page.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		data = []byte(encoded)
	}
	var items []flexString
	if err := json.Unmarshal(data, &items); err != nil {
		*l = nil
		return nil
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = string(it)
	}
	*l = out
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string     `json:"id"`
	ConditionID   string     `json:"conditionId"`
	Question      string     `json:"question"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Active        flexBool   `json:"active"` // API may send bool or "true"/"false" string
	Closed        flexBool   `json:"closed"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	Volume        flexString `json:"volume"`
	Volume24hr    flexString `json:"volume24hr"`
	Liquidity     flexString `json:"liquidity"`
}

// ToMarketState converts an APIMarket to a domain.MarketState. Numeric
// fields are passed through unparsed.
func (m *APIMarket) ToMarketState() domain.MarketState {
	st := domain.MarketState{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		Prices:      []string(m.OutcomePrices),
		Volume:      string(m.Volume),
		Liquidity:   string(m.Liquidity),
		Active:      bool(m.Active) && !bool(m.Closed),
	}
	if st.ID == "" {
		st.ID = m.ConditionID
	}
	if st.Question == "" {
		st.Question = m.Title
	}
	for i, tok := range m.ClobTokenIDs {
		if i >= 2 {
			break
		}
		st.TokenIDs[i] = tok
	}
	return st
}

// marketsPage accepts both the bare array and the {"data": [...]} envelope.
type marketsPage []APIMarket

func (p *marketsPage) UnmarshalJSON(data []byte) error {
	var list []APIMarket
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var env struct {
		Data []APIMarket `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*p = env.Data
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is one price level of a CLOB order book.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the response of GET /book.
type APIBook struct {
	Market  string         `json:"market"`
	AssetID string         `json:"asset_id"`
	Bids    []APIBookLevel `json:"bids"`
	Asks    []APIBookLevel `json:"asks"`
}

// levels parses a side of the book, skipping malformed or non-finite entries.
func levels(in []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, err1 := strconv.ParseFloat(l.Price, 64)
		s, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil || !finite(p) || !finite(s) {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
