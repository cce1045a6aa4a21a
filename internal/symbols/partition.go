package symbols

import "strings"

// PartitionName is the directory-safe spelling of a universal pair,
// BTC/USDT -> BTC_USDT.
func PartitionName(universal string) string {
	return strings.ToUpper(strings.ReplaceAll(universal, "/", "_"))
}
