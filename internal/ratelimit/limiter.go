// Package ratelimit implements per-exchange sliding-window admission control.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"exchangehub/logger"
)

const (
	DefaultWindow  = time.Minute
	DefaultBackoff = time.Second
	DefaultQuota   = 60
)

// DefaultQuotas are requests per window for the known exchanges.
var DefaultQuotas = map[string]int{
	"binance":  1200,
	"kucoin":   1800,
	"bybit":    120,
	"okx":      20,
	"bitmart":  600,
	"huobi":    600,
	"coinbase": 30,
}

// Config configures a Limiter. Zero values fall back to the defaults.
type Config struct {
	Quotas       map[string]int
	DefaultQuota int
	Window       time.Duration
	Backoff      time.Duration
}

// Limiter admits requests per exchange. All exchanges share one mutex that
// covers purge, compare and record.
type Limiter struct {
	mu           sync.Mutex
	quotas       map[string]int
	defaultQuota int
	window       time.Duration
	backoff      time.Duration
	history      map[string][]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.Log
}

// New builds a limiter from cfg. Quotas in cfg override DefaultQuotas per
// exchange; the rest of the table is kept.
func New(cfg Config, log *logger.Log) *Limiter {
	l := &Limiter{
		quotas:       make(map[string]int, len(DefaultQuotas)+len(cfg.Quotas)),
		defaultQuota: cfg.DefaultQuota,
		window:       cfg.Window,
		backoff:      cfg.Backoff,
		history:      make(map[string][]time.Time),
		now:          time.Now,
		sleep:        sleepContext,
		log:          logger.OrDefault(log),
	}
	for id, q := range DefaultQuotas {
		l.quotas[id] = q
	}
	for id, q := range cfg.Quotas {
		if q > 0 {
			l.quotas[strings.ToLower(id)] = q
		}
	}
	if l.defaultQuota <= 0 {
		l.defaultQuota = DefaultQuota
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.backoff <= 0 {
		l.backoff = DefaultBackoff
	}
	return l
}

// Quota returns the requests-per-window ceiling for exchange.
func (l *Limiter) Quota(exchange string) int {
	if q, ok := l.quotas[strings.ToLower(exchange)]; ok {
		return q
	}
	return l.defaultQuota
}

// InFlight returns how many admissions are inside the current window.
func (l *Limiter) InFlight(exchange string) int {
	key := strings.ToLower(exchange)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history[key] = purge(l.history[key], l.now().Add(-l.window))
	return len(l.history[key])
}

// Acquire records a request for exchange and returns true when the exchange
// is under quota. A denied request is not recorded.
func (l *Limiter) Acquire(exchange, tag string) bool {
	key := strings.ToLower(exchange)
	quota := l.Quota(key)

	l.mu.Lock()
	now := l.now()
	h := purge(l.history[key], now.Add(-l.window))
	admitted := len(h) < quota
	if admitted {
		h = append(h, now)
	}
	l.history[key] = h
	used := len(h)
	l.mu.Unlock()

	if !admitted {
		logger.IncrementDenied(key)
		l.log.WithComponent("admission").WithFields(logger.Fields{
			"exchange": key,
			"tag":      tag,
			"quota":    quota,
			"used":     used,
		}).Debug("request denied by admission window")
	}
	return admitted
}

// Wait blocks until Acquire admits the request, polling at the configured
// backoff. It only gives up when ctx is done.
func (l *Limiter) Wait(ctx context.Context, exchange, tag string) error {
	waited := 0
	for !l.Acquire(exchange, tag) {
		if waited == 0 {
			l.log.WithComponent("admission").WithFields(logger.Fields{
				"exchange": strings.ToLower(exchange),
				"tag":      tag,
				"quota":    l.Quota(exchange),
			}).Warn("admission quota reached, waiting")
			l.log.LogMetric("admission", "admission_denied", int64(1), "counter", logger.Fields{"exchange": strings.ToLower(exchange)})
		}
		waited++
		if err := l.sleep(ctx, l.backoff); err != nil {
			return err
		}
	}
	logger.IncrementRequest(strings.ToLower(exchange))
	return nil
}

func purge(h []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(h) && !h[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return h
	}
	return append(h[:0], h[i:]...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
