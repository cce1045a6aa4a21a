package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"exchangehub/logger"
)

// ReportRateLimitExceeded records an upstream rate limit answer for exchange.
func ReportRateLimitExceeded(log *logger.Log, exchange, tag string) {
	l := logger.OrDefault(log).WithComponent("upstream")
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"tag":      tag,
	}
	l.LogMetric("upstream", "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan records an upstream IP ban for exchange.
func ReportIPBan(log *logger.Log, exchange, tag string) {
	l := logger.OrDefault(log).WithComponent("upstream")
	fields := logger.Fields{
		"exchange": strings.ToLower(exchange),
		"tag":      tag,
	}
	l.LogMetric("upstream", "ip_ban", int64(1), "counter", fields)
	l.WithFields(fields).Error("ip banned")
}

// limitWording lists how an exchange phrases rate limits and IP bans. A ban
// matches when every word of one group appears in the message.
type limitWording struct {
	rateLimit []string
	ipBan     [][]string
}

var defaultWording = limitWording{
	rateLimit: []string{"rate limit", "too many requests"},
	ipBan:     [][]string{{"ip", "ban"}},
}

var wordings = map[string]limitWording{
	"binance": defaultWording,
	"okx": {
		rateLimit: []string{"too many requests", "frequency limit"},
		ipBan:     [][]string{{"ip", "blocked"}, {"ip", "ban"}},
	},
	"kucoin": {
		rateLimit: []string{"too many requests", "rate limit"},
		ipBan:     [][]string{{"ip", "limit", "triggered"}},
	},
	"bybit": {
		rateLimit: []string{"rate limit", "too many requests", "too many visits"},
		ipBan:     [][]string{{"ip rate limit"}, {"ip", "ban"}},
	},
	"bitmart": {
		rateLimit: []string{"too many requests", "request too frequent"},
		ipBan:     [][]string{{"ip", "ban"}},
	},
}

// DetectLimit classifies an exchange error message as a rate limit, an IP
// ban, or neither. A message that reads as a ban is not also a rate limit.
func DetectLimit(exchange, msg string) (rateLimit bool, ipBan bool) {
	w, ok := wordings[strings.ToLower(exchange)]
	if !ok {
		w = defaultWording
	}
	msg = strings.ToLower(msg)
	for _, group := range w.ipBan {
		if containsAll(msg, group) {
			return false, true
		}
	}
	for _, phrase := range w.rateLimit {
		if strings.Contains(msg, phrase) {
			return true, false
		}
	}
	return false, false
}

func containsAll(s string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(s, w) {
			return false
		}
	}
	return true
}

// ReportLimitFromMessage records rate limit or IP ban metrics when msg
// matches the exchange's wording. It returns true when anything matched.
func ReportLimitFromMessage(log *logger.Log, exchange, tag, msg string) bool {
	rateLimit, ipBan := DetectLimit(exchange, msg)
	if rateLimit {
		ReportRateLimitExceeded(log, exchange, tag)
	}
	if ipBan {
		ReportIPBan(log, exchange, tag)
	}
	return rateLimit || ipBan
}

// UsedWeight extracts the request weight an exchange reports as consumed in
// its response headers. ok is false when the exchange sent nothing usable.
func UsedWeight(exchange string, header http.Header) (used int64, ok bool) {
	switch strings.ToLower(exchange) {
	case "binance":
		return parseHeaderInt(header.Get("X-MBX-USED-WEIGHT-1m"))
	case "bybit":
		limit, lok := parseHeaderInt(firstHeader(header, "X-Bapi-Limit", "X-RateLimit-Limit"))
		remaining, rok := parseHeaderInt(firstHeader(header, "X-Bapi-Limit-Status", "X-RateLimit-Remaining"))
		if !lok || !rok {
			return 0, false
		}
		return limit - remaining, true
	case "kucoin":
		limit, lok := parseHeaderInt(header.Get("gw-ratelimit-limit"))
		remaining, rok := parseHeaderInt(header.Get("gw-ratelimit-remaining"))
		if !lok || !rok {
			return 0, false
		}
		return limit - remaining, true
	case "bitmart":
		return parseHeaderInt(header.Get("X-BM-RateLimit-Remaining"))
	}
	return 0, false
}

// ReportUsedWeight emits a used_weight gauge when the response carries one.
func ReportUsedWeight(log *logger.Log, exchange string, header http.Header) {
	used, ok := UsedWeight(exchange, header)
	if !ok {
		return
	}
	fields := logger.Fields{"exchange": strings.ToLower(exchange)}
	logger.OrDefault(log).LogMetric("upstream", "used_weight", used, "gauge", fields)
}

func firstHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// parseHeaderInt returns the first integer inside s. Some exchanges send
// values such as "120/1s".
func parseHeaderInt(s string) (int64, bool) {
	nums := extractInts(s)
	if len(nums) == 0 {
		return 0, false
	}
	return nums[0], true
}

// extractInts returns all integer substrings contained in s. Any non-digit
// characters are treated as separators.
func extractInts(s string) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}
