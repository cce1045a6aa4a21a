package models

import (
	"time"
)

// OrderBookLevel represents a single price level in the orderbook
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Value is the quote notional resting at the level.
func (l OrderBookLevel) Value() float64 {
	return l.Price * l.Quantity
}

// OrderBookSnapshot is an L2 view of one pair on one exchange.
// Bids are sorted by descending price, asks by ascending price.
type OrderBookSnapshot struct {
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Side returns the levels a trade in the given direction consumes:
// buying walks the asks, selling walks the bids.
func (s OrderBookSnapshot) Side(side Side) []OrderBookLevel {
	if side == Buy {
		return s.Asks
	}
	return s.Bids
}

// SnapshotRow represents a single flattened orderbook entry
type SnapshotRow struct {
	Timestamp int64   `json:"timestamp"`
	Exchange  string  `json:"exchange"`
	Pair      string  `json:"pair"`
	Side      string  `json:"side"` // "bid" or "ask"
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Level     int     `json:"level"` // 1 = best, 2 = second best, etc.
}

// SnapshotBatch groups the rows flattened from one capture run.
type SnapshotBatch struct {
	BatchID     string        `json:"batch_id"`
	Exchange    string        `json:"exchange"`
	Pair        string        `json:"pair"`
	Rows        []SnapshotRow `json:"rows"`
	RecordCount int           `json:"record_count"`
	Timestamp   time.Time     `json:"timestamp"`
}
