package processor

import (
	"context"
	"testing"
	"time"

	"exchangehub/internal/errs"
	"exchangehub/models"
)

func TestSummarize(t *testing.T) {
	var samples []time.Duration
	for i := 20; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	s := Summarize("op", samples, 2)
	if s.Count != 20 || s.Failures != 2 {
		t.Fatalf("counts %+v", s)
	}
	if s.P50 != 10*time.Millisecond || s.P95 != 19*time.Millisecond || s.Max != 20*time.Millisecond {
		t.Fatalf("percentiles %+v", s)
	}
	if s.Mean != 10500*time.Microsecond {
		t.Fatalf("mean %v", s.Mean)
	}
	if empty := Summarize("none", nil, 1); empty.Count != 0 || empty.Max != 0 {
		t.Fatalf("empty %+v", empty)
	}
}

func TestBenchmark(t *testing.T) {
	good := &fakeConnector{name: "a", quote: models.Quote{Bid: 1, Ask: 2}}
	bad := &fakeConnector{name: "b", err: errs.ErrUpstream}
	stats := NewEngineWith(nil, good, bad).Benchmark(context.Background(), "BTC/USDT", 3)

	byOp := map[string]LatencyStats{}
	for _, s := range stats {
		byOp[s.Operation] = s
	}
	if s := byOp["aggregate.best_bid_ask"]; s.Count != 3 {
		t.Fatalf("aggregate %+v", s)
	}
	if s := byOp["a.l2_order_book"]; s.Count != 3 || s.Failures != 0 {
		t.Fatalf("a book %+v", s)
	}
	if s := byOp["b.best_bid_ask"]; s.Count != 0 || s.Failures != 3 {
		t.Fatalf("b quote %+v", s)
	}
}

func TestOrderCycle(t *testing.T) {
	conn := &fakeConnector{name: "binance", quote: models.Quote{Bid: 100, Ask: 101}}
	stats := OrderCycle(context.Background(), conn, OrderCycleConfig{
		Pair:       "BTC/USDT",
		Iterations: 4,
		Quantity:   0.0001,
	}, nil)

	if len(conn.orders) != 4 || len(conn.cancels) != 4 {
		t.Fatalf("orders %d cancels %d", len(conn.orders), len(conn.cancels))
	}
	if conn.orders[0].orderType != models.Market || conn.orders[0].price != nil {
		t.Fatalf("first order %+v", conn.orders[0])
	}
	limit := conn.orders[1]
	if limit.orderType != models.Limit || limit.price == nil || *limit.price < 94.999 || *limit.price > 95.001 {
		t.Fatalf("limit order %+v", limit)
	}
	if len(stats) != 2 || stats[0].Operation != "place_order" || stats[0].Count != 4 || stats[1].Count != 4 {
		t.Fatalf("stats %+v", stats)
	}
}
