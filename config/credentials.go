package config

import (
	"fmt"
	"os"
	"strings"

	"exchangehub/internal/errs"
)

// Credentials is one exchange's API key set. It is copied into the connector
// that owns it and never modified afterwards.
type Credentials struct {
	Exchange   string
	APIKey     string
	APISecret  string
	Passphrase string
	Memo       string
}

// extra fields some exchanges require on top of key and secret
var requiresPassphrase = map[string]bool{"kucoin": true, "okx": true}
var requiresMemo = map[string]bool{"bitmart": true}

// Validate reports ErrInvalidCredentials naming every missing field.
func (c Credentials) Validate() error {
	ex := strings.ToLower(c.Exchange)
	var missing []string
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.APISecret) == "" {
		missing = append(missing, "api secret")
	}
	if requiresPassphrase[ex] && strings.TrimSpace(c.Passphrase) == "" {
		missing = append(missing, "passphrase")
	}
	if requiresMemo[ex] && strings.TrimSpace(c.Memo) == "" {
		missing = append(missing, "memo")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", errs.ErrInvalidCredentials, ex, strings.Join(missing, ", "))
	}
	return nil
}

// String never prints secrets.
func (c Credentials) String() string {
	key := c.APIKey
	if len(key) > 4 {
		key = key[:4] + "****"
	}
	return fmt.Sprintf("%s(key=%s)", strings.ToLower(c.Exchange), key)
}

// CredentialsFromEnv reads <EXCHANGE>_API_KEY, <EXCHANGE>_API_SECRET,
// <EXCHANGE>_PASSPHRASE and <EXCHANGE>_MEMO.
func CredentialsFromEnv(getenv func(string) string, exchange string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	prefix := strings.ToUpper(exchange) + "_"
	return Credentials{
		Exchange:   strings.ToLower(exchange),
		APIKey:     strings.TrimSpace(getenv(prefix + "API_KEY")),
		APISecret:  strings.TrimSpace(getenv(prefix + "API_SECRET")),
		Passphrase: strings.TrimSpace(getenv(prefix + "PASSPHRASE")),
		Memo:       strings.TrimSpace(getenv(prefix + "MEMO")),
	}
}

// LoadCredentials returns the complete credential sets for exchanges.
// Incomplete sets are reported in skipped with the reason and left out.
func LoadCredentials(getenv func(string) string, exchanges []string) (creds map[string]Credentials, skipped map[string]error) {
	creds = make(map[string]Credentials, len(exchanges))
	skipped = make(map[string]error)
	for _, ex := range exchanges {
		c := CredentialsFromEnv(getenv, ex)
		if err := c.Validate(); err != nil {
			skipped[c.Exchange] = err
			continue
		}
		creds[c.Exchange] = c
	}
	return creds, skipped
}
