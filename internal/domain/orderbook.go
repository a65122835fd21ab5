package domain

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Notional returns the USD value resting on the first n levels.
func Notional(levels []PriceLevel, n int) float64 {
	if n > len(levels) || n <= 0 {
		n = len(levels)
	}
	var total float64
	for _, l := range levels[:n] {
		total += l.Price * l.Size
	}
	return total
}
