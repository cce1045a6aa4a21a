package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
)

// NewRestClient returns a resty client over httpClient rooted at baseURL.
// JSON bodies are encoded and decoded with go-json.
func NewRestClient(baseURL string, httpClient *http.Client) *resty.Client {
	return resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
}

// Decode unmarshals a JSON payload with go-json.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Encode marshals v with go-json.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// SignBase64 is HMAC-SHA256 of payload, base64 encoded.
func SignBase64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignHex is HMAC-SHA256 of payload, hex encoded.
func SignHex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseFloat parses an exchange decimal string; empty strings are zero.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return f, nil
}

// ParseLevels converts [["price","qty",...], ...] into price/quantity pairs,
// skipping rows with a non-positive price or quantity.
func ParseLevels(rows [][]string) ([][2]float64, error) {
	out := make([][2]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := ParseFloat(row[0])
		if err != nil {
			return nil, err
		}
		qty, err := ParseFloat(row[1])
		if err != nil {
			return nil, err
		}
		if price <= 0 || qty <= 0 {
			continue
		}
		out = append(out, [2]float64{price, qty})
	}
	return out, nil
}
