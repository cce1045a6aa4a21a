package symbols

import (
	"errors"
	"testing"

	"exchangehub/internal/errs"
)

func TestToExchange(t *testing.T) {
	m := NewMapper()
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "BTC/USDT", "BTCUSDT"},
		{"bybit", "eth/usdt", "ETHUSDT"},
		{"kucoin", "BTC/USDT", "BTC-USDT"},
		{"OKX", "SOL/USDC", "SOL-USDC"},
		{"bitmart", "BTC/USDT", "BTC_USDT"},
	}
	for _, tt := range tests {
		got, err := m.ToExchange(tt.in, tt.exchange)
		if err != nil {
			t.Fatalf("ToExchange(%s,%s): %v", tt.in, tt.exchange, err)
		}
		if got != tt.want {
			t.Errorf("ToExchange(%s,%s)=%s want %s", tt.in, tt.exchange, got, tt.want)
		}
	}
}

func TestToUniversalHeuristic(t *testing.T) {
	m := NewMapper()
	tests := []struct {
		in   string
		want string
	}{
		{"BTCUSDT", "BTC/USDT"},
		{"ETHUSDC", "ETH/USDC"},
		{"SOLBTC", "SOL/BTC"},
		{"LINKETH", "LINK/ETH"},
		{"BTCEUR", "BTC/EUR"},
		{"btcusdt", "BTC/USDT"},
	}
	for _, tt := range tests {
		got, err := m.ToUniversal(tt.in, "binance")
		if err != nil {
			t.Fatalf("ToUniversal(%s): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ToUniversal(%s)=%s want %s", tt.in, got, tt.want)
		}
	}
}

func TestRoundTripWithSeparator(t *testing.T) {
	m := NewMapper()
	pairs := []string{"BTC/USDT", "ETH/BTC", "SHIB/USDC", "1000PEPE/USDT", "USDT/TRY"}
	for _, exchange := range []string{"kucoin", "okx", "bitmart"} {
		for _, p := range pairs {
			native, err := m.ToExchange(p, exchange)
			if err != nil {
				t.Fatalf("to exchange: %v", err)
			}
			back, err := m.ToUniversal(native, exchange)
			if err != nil {
				t.Fatalf("to universal: %v", err)
			}
			if back != p {
				t.Errorf("%s round trip on %s: %s -> %s -> %s", exchange, p, p, native, back)
			}
		}
	}
}

func TestUnknownExchange(t *testing.T) {
	m := NewMapper()
	if _, err := m.ToExchange("BTC/USDT", "mtgox"); !errors.Is(err, errs.ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}
	if _, err := m.ToUniversal("BTCUSDT", "mtgox"); !errors.Is(err, errs.ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	m := NewMapper()
	m.Register("Gate", Rule{Separator: "_", Case: Lower})
	got, err := m.ToExchange("BTC/USDT", "gate")
	if err != nil || got != "btc_usdt" {
		t.Fatalf("got %q, %v", got, err)
	}
	back, _ := m.ToUniversal(got, "gate")
	if back != "BTC/USDT" {
		t.Errorf("got %q", back)
	}
}

func TestPair(t *testing.T) {
	base, quote, err := Pair("btc/usdt")
	if err != nil || base != "BTC" || quote != "USDT" {
		t.Fatalf("Pair: %s %s %v", base, quote, err)
	}
	if _, _, err := Pair("BTCUSDT"); err == nil {
		t.Errorf("expected error without separator")
	}
	if PartitionName("btc/usdt") != "BTC_USDT" {
		t.Errorf("partition name")
	}
}
