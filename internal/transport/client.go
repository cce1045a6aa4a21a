// Package transport builds the HTTP clients every connector talks through.
// Non-2xx answers are classified into *errs.UpstreamError here, before any
// SDK or connector code sees the response.
package transport

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"exchangehub/internal/errs"
	"exchangehub/internal/ratelimit"
	"exchangehub/logger"
)

const maxErrorBody = 4096

// Options configures one exchange's HTTP client.
type Options struct {
	Exchange          string
	LocalIP           string
	Timeout           time.Duration
	MaxIdleConns      int
	MaxConnsPerHost   int
	IdleConnTimeout   time.Duration
	RequestsPerSecond float64
	BurstSize         int
	UserAgent         string
}

// NewHTTPClient returns a pooled client bound to opts.LocalIP when set.
func NewHTTPClient(opts Options, log *logger.Log) *http.Client {
	log = logger.OrDefault(log)

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		DisableCompression:  false,
	}

	if opts.LocalIP != "" {
		if ip := net.ParseIP(opts.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			base.DialContext = dialer.DialContext
		} else {
			log.WithComponent("transport").WithField("local_ip", opts.LocalIP).Warn("ignoring unparsable local ip")
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	log.WithComponent("transport").WithFields(logger.Fields{
		"exchange":           strings.ToLower(opts.Exchange),
		"max_idle_conns":     opts.MaxIdleConns,
		"max_conns_per_host": opts.MaxConnsPerHost,
		"timeout":            opts.Timeout,
		"local_ip":           opts.LocalIP,
	}).Debug("http client initialized")

	return &http.Client{
		Transport: &statusTransport{
			exchange: strings.ToLower(opts.Exchange),
			agent:    opts.UserAgent,
			base:     base,
			limiter:  limiter,
			log:      log,
		},
		Timeout: opts.Timeout,
	}
}

// Wrap installs the status classification on an existing client's
// transport. Used for clients built elsewhere, such as in tests.
func Wrap(c *http.Client, exchange string, log *logger.Log) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out := *c
	out.Transport = &statusTransport{
		exchange: strings.ToLower(exchange),
		base:     base,
		log:      logger.OrDefault(log),
	}
	return &out
}

type statusTransport struct {
	exchange string
	agent    string
	base     http.RoundTripper
	limiter  *rate.Limiter
	log      *logger.Log
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.agent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	ratelimit.ReportUsedWeight(t.log, t.exchange, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	upstream := errs.FromStatus(t.exchange, resp.StatusCode, string(body))
	tag := req.URL.Path
	if !ratelimit.ReportLimitFromMessage(t.log, t.exchange, tag, string(body)) && upstream.Kind == errs.KindRateLimited {
		ratelimit.ReportRateLimitExceeded(t.log, t.exchange, tag)
	}
	t.log.WithComponent("upstream").WithFields(logger.Fields{
		"exchange": t.exchange,
		"status":   resp.StatusCode,
		"path":     tag,
	}).Debug("non-2xx response")
	return nil, upstream
}
