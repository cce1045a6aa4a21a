package processor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"exchangehub/connector"
	"exchangehub/logger"
	"exchangehub/models"
)

// LatencyStats summarises the samples of one timed operation.
type LatencyStats struct {
	Operation string
	Count     int
	Failures  int
	Mean      time.Duration
	P50       time.Duration
	P95       time.Duration
	Max       time.Duration
}

// Summarize computes nearest-rank percentiles over samples.
func Summarize(operation string, samples []time.Duration, failures int) LatencyStats {
	s := LatencyStats{Operation: operation, Count: len(samples), Failures: failures}
	if len(samples) == 0 {
		return s
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.Mean = total / time.Duration(len(sorted))
	s.P50 = percentile(sorted, 50)
	s.P95 = percentile(sorted, 95)
	s.Max = sorted[len(sorted)-1]
	return s
}

func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

type recorder struct {
	mu       sync.Mutex
	samples  map[string][]time.Duration
	failures map[string]int
	order    []string
}

func newRecorder() *recorder {
	return &recorder{samples: map[string][]time.Duration{}, failures: map[string]int{}}
}

func (r *recorder) time(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.samples[op]; !seen {
		r.samples[op] = nil
		r.order = append(r.order, op)
	}
	if err != nil {
		r.failures[op]++
		return err
	}
	r.samples[op] = append(r.samples[op], d)
	return nil
}

func (r *recorder) stats() []LatencyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LatencyStats, 0, len(r.order))
	for _, op := range r.order {
		out = append(out, Summarize(op, r.samples[op], r.failures[op]))
	}
	return out
}

func logStats(log *logger.Log, stats []LatencyStats) {
	entry := log.WithComponent("perftest")
	for _, s := range stats {
		logger.LogPerformanceEntry(entry, "perftest", s.Operation, s.P50, logger.Fields{
			"count":    s.Count,
			"failures": s.Failures,
			"mean_ms":  s.Mean.Milliseconds(),
			"p95_ms":   s.P95.Milliseconds(),
			"max_ms":   s.Max.Milliseconds(),
		})
	}
}

// Benchmark times iterations rounds of the aggregated quote and, per
// connector, the quote and book calls. Connectors are exercised
// concurrently within a round.
func (e *Engine) Benchmark(ctx context.Context, pair string, iterations int) []LatencyStats {
	rec := newRecorder()
	for i := 0; i < iterations && ctx.Err() == nil; i++ {
		_ = rec.time("aggregate.best_bid_ask", func() error {
			e.FindBestCrossExchangeBidAsk(ctx, pair)
			return nil
		})

		var wg conc.WaitGroup
		for _, c := range e.connectors {
			c := c
			wg.Go(func() {
				_ = rec.time(c.Name()+".best_bid_ask", func() error {
					_, err := c.GetBestBidAsk(ctx, pair)
					return err
				})
				_ = rec.time(c.Name()+".l2_order_book", func() error {
					_, err := c.GetL2OrderBook(ctx, pair)
					return err
				})
			})
		}
		wg.Wait()
	}
	stats := rec.stats()
	logStats(e.log, stats)
	return stats
}

// OrderCycleConfig drives a live place-then-cancel run. Limit orders are
// priced below the bid by LimitDiscount so they rest on the book.
type OrderCycleConfig struct {
	Pair          string
	Iterations    int
	Quantity      float64
	LimitDiscount float64
	Pause         time.Duration
}

// OrderCycle places and cancels real orders on conn, alternating market and
// limit orders, and reports placement and cancellation latency.
func OrderCycle(ctx context.Context, conn connector.Connector, cfg OrderCycleConfig, log *logger.Log) []LatencyStats {
	log = logger.OrDefault(log)
	entry := log.WithComponent("perftest").WithFields(logger.Fields{
		"exchange": conn.Name(),
		"pair":     cfg.Pair,
	})
	entry.Warn("order cycle places real orders")

	if cfg.LimitDiscount <= 0 {
		cfg.LimitDiscount = 0.05
	}
	rec := newRecorder()
	for i := 0; i < cfg.Iterations && ctx.Err() == nil; i++ {
		orderType := models.Market
		var price *float64
		if i%2 == 1 {
			orderType = models.Limit
			q, err := conn.GetBestBidAsk(ctx, cfg.Pair)
			if err != nil {
				entry.WithError(err).Warn("could not price limit order, skipping iteration")
				continue
			}
			p := q.Bid * (1 - cfg.LimitDiscount)
			price = &p
		}

		var handle models.OrderHandle
		err := rec.time("place_order", func() error {
			var err error
			handle, err = conn.PlaceOrder(ctx, cfg.Pair, models.Buy, cfg.Quantity, orderType, price)
			return err
		})
		if err != nil {
			entry.WithError(err).WithFields(logger.Fields{"iteration": i + 1, "type": orderType}).Warn("failed to place order")
			sleepCtx(ctx, cfg.Pause)
			continue
		}
		sleepCtx(ctx, cfg.Pause)

		if err := rec.time("cancel_order", func() error {
			_, err := conn.CancelOrder(ctx, handle.OrderID, cfg.Pair)
			return err
		}); err != nil {
			entry.WithError(err).WithFields(logger.Fields{"order_id": handle.OrderID}).Warn("failed to cancel order")
		}
		sleepCtx(ctx, cfg.Pause)
	}
	stats := rec.stats()
	logStats(log, stats)
	return stats
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
