package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"exchangehub/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
app:
  name: exchangehub
  version: test
logging:
  level: error
exchanges:
  okx:
    disabled: true
`

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNewOpensConfiguredConnectors(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	a, err := New(context.Background(), Options{
		ConfigPath: writeConfig(t, minimalConfig),
		Getenv: envMap(map[string]string{
			"BINANCE_API_KEY":    "k",
			"BINANCE_API_SECRET": "s",
			"OKX_API_KEY":        "k",
			"OKX_API_SECRET":     "s",
			"OKX_PASSPHRASE":     "p",
			"KUCOIN_API_KEY":     "k",
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := a.Engine.Connectors(); !reflect.DeepEqual(got, []string{"binance"}) {
		t.Fatalf("connectors %v", got)
	}
	if _, ok := a.Skipped["kucoin"]; !ok {
		t.Fatalf("kucoin should be reported as skipped: %v", a.Skipped)
	}
	if a.Deps.Limiter.Quota("okx") != 20 {
		t.Fatalf("okx quota %d", a.Deps.Limiter.Quota("okx"))
	}
}

func TestNewRefusesEmptyEngineInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := New(context.Background(), Options{
		ConfigPath: writeConfig(t, minimalConfig),
		Getenv:     envMap(nil),
	})
	if !errors.Is(err, errs.ErrNoConnectors) {
		t.Fatalf("expected ErrNoConnectors in production, got %v", err)
	}
}

func TestNewAllowsEmptyEngineInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	a, err := New(context.Background(), Options{
		ConfigPath: writeConfig(t, minimalConfig),
		Getenv:     envMap(nil),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(a.Engine.Connectors()) != 0 {
		t.Fatalf("connectors %v", a.Engine.Connectors())
	}
}
