package pricefeed

import "github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"

// shortWindow is how many recent samples the trend baseline averages over.
const shortWindow = 10

// trend returns the fractional move of the latest price against the short
// window average. Positive means the price is above its recent average.
func trend(window []domain.PriceSample) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}

	start := n - shortWindow
	if start < 0 {
		start = 0
	}

	var sum float64
	for _, s := range window[start:n] {
		sum += s.Price
	}
	avg := sum / float64(n-start)
	if avg == 0 {
		return 0
	}
	return (window[n-1].Price - avg) / avg
}

// variance returns the population variance of prices in the window.
func variance(window []domain.PriceSample) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, s := range window {
		sum += s.Price
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range window {
		d := s.Price - mean
		sq += d * d
	}
	return sq / float64(n)
}
