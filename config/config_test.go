package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"exchangehub/internal/errs"
)

// writeTempConfig writes content to a temporary YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
retry:
  base_delay: 2s
connector:
  depth_limit: 500
exchanges:
  OKX:
    base_url: "http://localhost:9000"
  binance:
    local_ip: "10.0.0.5"
admission:
  quotas:
    okx: 40
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("retry defaults not merged: %+v", cfg.Retry)
	}
	if cfg.Connector.DepthLimit != 500 || cfg.Connector.LiquidityTolerance != 0.001 {
		t.Errorf("unexpected connector config: %+v", cfg.Connector)
	}
	if got := cfg.Exchange("okx").BaseURL; got != "http://localhost:9000" {
		t.Errorf("okx base url %q", got)
	}
	bin := cfg.Exchange("binance")
	if bin.BaseURL != "https://api.binance.com" || bin.FuturesBaseURL == "" || bin.LocalIP != "10.0.0.5" {
		t.Errorf("binance defaults not applied: %+v", bin)
	}
	if bin.ConnectionPool.MaxIdleConns != 10 {
		t.Errorf("pool defaults not applied: %+v", bin.ConnectionPool)
	}
	if cfg.Exchange("bitmart").BaseURL == "" {
		t.Errorf("missing exchanges should get defaults")
	}
	if cfg.Admission.Quotas["okx"] != 40 || cfg.Admission.Window != time.Minute {
		t.Errorf("unexpected admission config: %+v", cfg.Admission)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"negative retries": "retry:\n  max_retries: -1\n",
		"zero depth":       "connector:\n  depth_limit: 0\n",
		"bad tolerance":    "connector:\n  liquidity_tolerance: 1.5\n",
		"bad compression":  "capture:\n  compression: lz4\n",
		"zero quota":       "admission:\n  quotas:\n    okx: 0\n",
		"s3 without bucket": `storage:
  s3:
    enabled: true
    region: us-east-1
    access_key_id: a
    secret_access_key: b
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("S3_BUCKET", "")
			if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestS3EnvOverride(t *testing.T) {
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")

	cfg, err := LoadConfig(writeTempConfig(t, "storage:\n  s3:\n    enabled: true\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.S3.Bucket != "env-bucket" || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("env overrides not applied: %+v", cfg.Storage.S3)
	}
}

func TestLoadIPShards(t *testing.T) {
	path := writeTempConfig(t, `shards:
- ip: "1.1.1.1"
  exchanges: ["binance", "OKX"]
- ip: "2.2.2.2"
  exchanges: ["bybit"]
`)

	shards, err := LoadIPShards(path)
	if err != nil {
		t.Fatalf("LoadIPShards failed: %v", err)
	}
	if len(shards.Shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(shards.Shards))
	}

	cfg := Default()
	applyExchangeDefaults(&cfg)
	ec := cfg.Exchanges["bybit"]
	ec.LocalIP = "9.9.9.9"
	cfg.Exchanges["bybit"] = ec
	shards.Apply(&cfg)

	if cfg.Exchange("okx").LocalIP != "1.1.1.1" || cfg.Exchange("binance").LocalIP != "1.1.1.1" {
		t.Errorf("shard ip not applied")
	}
	if cfg.Exchange("bybit").LocalIP != "9.9.9.9" {
		t.Errorf("explicit local_ip must win over shards")
	}
}

func TestLoadIPShardsConflict(t *testing.T) {
	path := writeTempConfig(t, `shards:
- ip: "1.1.1.1"
  exchanges: ["binance"]
- ip: "2.2.2.2"
  exchanges: ["binance"]
`)
	if _, err := LoadIPShards(path); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestLoadCredentials(t *testing.T) {
	env := map[string]string{
		"BINANCE_API_KEY":    "bk",
		"BINANCE_API_SECRET": "bs",
		"OKX_API_KEY":        "ok",
		"OKX_API_SECRET":     "os",
		"KUCOIN_API_KEY":     "kk",
		"KUCOIN_API_SECRET":  "ks",
		"KUCOIN_PASSPHRASE":  "kp",
		"BITMART_API_KEY":    "mk",
	}
	getenv := func(k string) string { return env[k] }

	creds, skipped := LoadCredentials(getenv, []string{"binance", "okx", "kucoin", "bitmart", "bybit"})
	if len(creds) != 2 {
		t.Fatalf("expected binance and kucoin, got %v", creds)
	}
	if creds["kucoin"].Passphrase != "kp" {
		t.Errorf("passphrase not loaded")
	}
	for _, ex := range []string{"okx", "bitmart", "bybit"} {
		if !errors.Is(skipped[ex], errs.ErrInvalidCredentials) {
			t.Errorf("%s should be skipped with invalid credentials, got %v", ex, skipped[ex])
		}
	}
}

func TestCredentialsString(t *testing.T) {
	c := Credentials{Exchange: "binance", APIKey: "abcdefgh", APISecret: "topsecret"}
	if s := c.String(); s != "binance(key=abcd****)" {
		t.Errorf("unexpected string %q", s)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath(""); got != "config/config.production.yml" {
		t.Errorf("unexpected path %q", got)
	}
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path must win, got %q", got)
	}
	t.Setenv("APP_ENV", "")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Errorf("unexpected development path %q", got)
	}
}

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"":            Development,
		" PROD ":      Production,
		"producation": Production,
		"stagging":    Staging,
		"qa":          Environment("qa"),
	}
	for in, want := range cases {
		got := ParseEnvironment(in)
		if got != want {
			t.Errorf("ParseEnvironment(%q)=%q want %q", in, got, want)
		}
		if IsProductionLike(got) != (want == Production || want == Staging) {
			t.Errorf("IsProductionLike(%q) wrong", got)
		}
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
