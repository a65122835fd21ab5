package detector

import (
	"math"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// PriceDivergence flags price moves and volume that disagree: a large move
// on thin volume, or heavy volume with a flat price.
type PriceDivergence struct {
	// Threshold is the fractional price change considered large.
	Threshold float64
	// Sensitivity scales expected volume per unit of price change.
	Sensitivity float64
	// BaselineVolume stands in when the historical period volume is zero.
	BaselineVolume float64
}

// Detect compares the current price and period volume with a historical
// snapshot. hist is nil when no snapshot is old enough.
func (p PriceDivergence) Detect(price, volume float64, hist *domain.PriceSnapshot) Result {
	res := Result{Kind: domain.SignalPriceDivergence}
	if hist == nil {
		res.Detail = domain.DivergenceDetail{Reason: ReasonNoHistory, Threshold: p.Threshold}
		return res
	}

	var change float64
	if hist.YesPrice != 0 {
		change = math.Abs(price-hist.YesPrice) / hist.YesPrice
	}
	baseline := hist.Volume
	if baseline <= 0 {
		baseline = p.BaselineVolume
	}
	expected := baseline * (1 + change*p.Sensitivity*10)

	priceWithoutVolume := change > p.Threshold && volume < 0.5*expected
	volumeWithoutPrice := volume > 2*expected && change < 0.5*p.Threshold

	detail := domain.DivergenceDetail{
		CurrentPrice:    price,
		HistoricalPrice: hist.YesPrice,
		PriceChangePct:  change,
		CurrentVolume:   volume,
		BaselineVolume:  baseline,
		ExpectedVolume:  expected,
		Threshold:       p.Threshold,
	}
	switch {
	case priceWithoutVolume:
		res.Detected = true
		res.Score = band(change/(2*p.Threshold), 35, 25)
		detail.DivergenceType = domain.PriceWithoutVolume
	case volumeWithoutPrice:
		res.Detected = true
		res.Score = band((volume/expected-2)/3, 30, 20)
		detail.DivergenceType = domain.VolumeWithoutPrice
	}
	res.Detail = detail
	return res
}
