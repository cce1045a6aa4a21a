// Package exchanges links every connector variant into the binary and fixes
// the order the engine loads them in.
package exchanges

import (
	_ "exchangehub/connector/binance"
	_ "exchangehub/connector/bitmart"
	_ "exchangehub/connector/bybit"
	_ "exchangehub/connector/kucoin"
	_ "exchangehub/connector/okx"
)

// Order is the load order; aggregation ties resolve in favour of the
// earlier exchange.
var Order = []string{"binance", "kucoin", "bybit", "okx", "bitmart"}
