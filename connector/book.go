package connector

import (
	"encoding/json"
	"sort"
	"time"

	"exchangehub/internal/transport"
	"exchangehub/models"
)

// NewBook builds a snapshot from parsed price/quantity pairs. Bids end up
// descending and asks ascending whatever order the exchange sent.
func NewBook(exchange, pair string, bids, asks [][2]float64, ts time.Time) models.OrderBookSnapshot {
	book := models.OrderBookSnapshot{
		Exchange:  exchange,
		Symbol:    pair,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: ts,
	}
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book
}

func toLevels(rows [][2]float64) []models.OrderBookLevel {
	out := make([]models.OrderBookLevel, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.OrderBookLevel{Price: r[0], Quantity: r[1]})
	}
	return out
}

// BookFromStrings parses [["price","qty"], ...] sides into a snapshot.
func BookFromStrings(exchange, pair string, bids, asks [][]string, ts time.Time) (models.OrderBookSnapshot, error) {
	b, err := transport.ParseLevels(bids)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	a, err := transport.ParseLevels(asks)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	return NewBook(exchange, pair, b, a, ts), nil
}

// Raw encodes an SDK response for the Raw field of results. Encoding failures
// leave Raw empty.
func Raw(v any) json.RawMessage {
	if data, ok := v.([]byte); ok {
		return json.RawMessage(data)
	}
	data, err := transport.Encode(v)
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}
