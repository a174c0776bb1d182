// Package feature maps raw chain records and intel alerts into the canonical
// event shape and the fixed-length numeric vector used for model scoring.
// Everything here is pure and deterministic: the same record always produces
// the same features.
package feature

import "time"

// couponTTL is how long a featurized transaction's coupon stays valid.
const couponTTL = 10 * time.Minute

// Codec holds the conversion tables shared by all featurizers. Prices are
// injected (not read from the environment) so trainer and inference can be
// configured identically and tests can pin them.
type Codec struct {
	BTCUSD float64
	ETHUSD float64
	SOLUSD float64

	// Known bad addresses; membership only tags a risk factor, it never
	// gates anything by itself.
	Darknet map[string]bool
}

// DefaultDarknet is the built-in bad-address set.
var DefaultDarknet = map[string]bool{
	"1F1tAaz5x1HUXrCNLbtMDqcw6o5GNn4xqX": true,
	"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy": true,
}

// NewCodec builds a codec with the given USD prices and the default
// bad-address set.
func NewCodec(btc, eth, sol float64) *Codec {
	return &Codec{BTCUSD: btc, ETHUSD: eth, SOLUSD: sol, Darknet: DefaultDarknet}
}

func (c *Codec) btcToUSD(v float64) float64 { return v * c.BTCUSD }
func (c *Codec) ethToUSD(v float64) float64 { return v * c.ETHUSD }
func (c *Codec) solToUSD(v float64) float64 { return v * c.SOLUSD }

func (c *Codec) isDarknet(addr string) bool { return c.Darknet[addr] }
