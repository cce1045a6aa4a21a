package symbols

import (
	"fmt"
	"strings"
	"sync"

	"exchangehub/internal/errs"
)

// Case is the letter case an exchange expects in native symbols.
type Case int

const (
	Upper Case = iota
	Lower
)

// Rule describes how an exchange spells a pair: a separator between base
// and quote (possibly empty) and a case transform.
type Rule struct {
	Separator string
	Case      Case
}

func (r Rule) apply(s string) string {
	if r.Case == Lower {
		return strings.ToLower(s)
	}
	return strings.ToUpper(s)
}

// DefaultRules is the rule table for the supported exchanges.
var DefaultRules = map[string]Rule{
	"binance": {Separator: "", Case: Upper},
	"bybit":   {Separator: "", Case: Upper},
	"kucoin":  {Separator: "-", Case: Upper},
	"okx":     {Separator: "-", Case: Upper},
	"bitmart": {Separator: "_", Case: Upper},
}

// Mapper converts between universal BASE/QUOTE symbols and exchange-native
// spellings. It is safe for concurrent use.
type Mapper struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewMapper returns a mapper loaded with DefaultRules.
func NewMapper() *Mapper {
	m := &Mapper{rules: make(map[string]Rule, len(DefaultRules))}
	for id, r := range DefaultRules {
		m.rules[id] = r
	}
	return m
}

// Register adds or replaces the rule for an exchange.
func (m *Mapper) Register(exchange string, r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[strings.ToLower(exchange)] = r
}

func (m *Mapper) rule(exchange string) (Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[strings.ToLower(exchange)]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", errs.ErrUnknownExchange, exchange)
	}
	return r, nil
}

// ToExchange converts a universal symbol such as BTC/USDT to the exchange
// spelling, e.g. BTCUSDT for binance or BTC-USDT for okx.
func (m *Mapper) ToExchange(universal, exchange string) (string, error) {
	r, err := m.rule(exchange)
	if err != nil {
		return "", err
	}
	base, quote, ok := strings.Cut(universal, "/")
	if !ok {
		return r.apply(universal), nil
	}
	return r.apply(base + r.Separator + quote), nil
}

// ToUniversal converts a native symbol back to BASE/QUOTE.
//
// Exchanges without a separator are split on known quote suffixes: USDT and
// USDC take four characters, BTC and ETH three, and anything else defaults to
// a three-character quote. The split is lossy for bases that themselves end
// in a quote-like suffix and is not an exact inverse of ToExchange.
func (m *Mapper) ToUniversal(native, exchange string) (string, error) {
	r, err := m.rule(exchange)
	if err != nil {
		return "", err
	}
	if r.Separator != "" {
		base, quote, ok := strings.Cut(native, r.Separator)
		if ok {
			return strings.ToUpper(base + "/" + quote), nil
		}
		return strings.ToUpper(native), nil
	}
	return splitHeuristic(strings.ToUpper(native)), nil
}

func splitHeuristic(sym string) string {
	n := 3
	switch {
	case strings.HasSuffix(sym, "USDT"), strings.HasSuffix(sym, "USDC"):
		n = 4
	case strings.HasSuffix(sym, "BTC"), strings.HasSuffix(sym, "ETH"):
		n = 3
	}
	if len(sym) <= n {
		return sym
	}
	return sym[:len(sym)-n] + "/" + sym[len(sym)-n:]
}

// Pair returns the base and quote of a universal symbol.
func Pair(universal string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(strings.ToUpper(universal), "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("symbol %q is not BASE/QUOTE", universal)
	}
	return base, quote, nil
}
