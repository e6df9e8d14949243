package farm

import "math"

// Balances and catalog prices are fixed-point integers so repeated small
// credits never accumulate float error. TON amounts use the chain's native
// subunit; soft currencies (coin, bezoz) use cents.
const (
	NanoPerTon   = int64(1_000_000_000)
	CentsPerCoin = int64(100)
)

func TonToNano(v float64) int64 {
	return int64(math.Round(v * float64(NanoPerTon)))
}

func NanoToTon(v int64) float64 {
	return float64(v) / float64(NanoPerTon)
}

func CoinToCents(v float64) int64 {
	return int64(math.Round(v * float64(CentsPerCoin)))
}

func CentsToCoin(v int64) float64 {
	return float64(v) / float64(CentsPerCoin)
}
