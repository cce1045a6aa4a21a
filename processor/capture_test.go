package processor

import (
	"context"
	"testing"
	"time"

	"exchangehub/internal/errs"
	"exchangehub/models"
)

func testBook() models.OrderBookSnapshot {
	return models.OrderBookSnapshot{
		Bids: []models.OrderBookLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 0}, {Price: 97, Quantity: 3}},
		Asks: []models.OrderBookLevel{{Price: 100, Quantity: 2}},
	}
}

func TestFlattenBook(t *testing.T) {
	book := testBook()
	book.Exchange = "binance"
	book.Symbol = "BTC/USDT"
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := FlattenBook(book, at)
	if len(rows) != 3 {
		t.Fatalf("rows %+v", rows)
	}
	want := []struct {
		side  string
		price float64
		level int
	}{
		{"bid", 99, 1},
		{"bid", 97, 2},
		{"ask", 100, 1},
	}
	for i, w := range want {
		r := rows[i]
		if r.Side != w.side || r.Price != w.price || r.Level != w.level {
			t.Errorf("row %d: %+v want %+v", i, r, w)
		}
		if r.Timestamp != at.UnixMilli() || r.Exchange != "binance" || r.Pair != "BTC/USDT" {
			t.Errorf("row %d labels: %+v", i, r)
		}
	}
}

func TestCaptureCollectsSnapshots(t *testing.T) {
	conn := &fakeConnector{name: "binance", book: testBook()}
	c, err := NewCapture(conn, "BTC/USDT", 10*time.Millisecond, 55*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	batch := c.Run(context.Background())
	if conn.calls < 2 {
		t.Fatalf("expected several snapshots, got %d", conn.calls)
	}
	if batch.RecordCount != conn.calls*3 || len(batch.Rows) != batch.RecordCount {
		t.Fatalf("rows %d for %d calls", batch.RecordCount, conn.calls)
	}
	if batch.BatchID == "" || batch.Exchange != "binance" || batch.Pair != "BTC/USDT" {
		t.Fatalf("batch labels %+v", batch)
	}
}

func TestCaptureSurvivesFailures(t *testing.T) {
	conn := &fakeConnector{name: "okx", err: errs.ErrUpstream}
	c, err := NewCapture(conn, "BTC/USDT", 10*time.Millisecond, 35*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	batch := c.Run(context.Background())
	if conn.calls < 2 || batch.RecordCount != 0 {
		t.Fatalf("calls %d rows %d", conn.calls, batch.RecordCount)
	}
	if c.failures != conn.calls {
		t.Fatalf("failures %d calls %d", c.failures, conn.calls)
	}
}

func TestCaptureStopsOnCancel(t *testing.T) {
	conn := &fakeConnector{name: "binance", book: testBook()}
	c, err := NewCapture(conn, "BTC/USDT", 10*time.Millisecond, time.Hour, nil)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan models.SnapshotBatch, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not stop on cancellation")
	}
}

func TestNewCaptureValidates(t *testing.T) {
	if _, err := NewCapture(nil, "BTC/USDT", time.Second, time.Second, nil); err == nil {
		t.Error("nil connector accepted")
	}
	if _, err := NewCapture(&fakeConnector{name: "x"}, "BTC/USDT", 0, time.Second, nil); err == nil {
		t.Error("zero interval accepted")
	}
}
