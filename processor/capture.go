package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"exchangehub/connector"
	"exchangehub/logger"
	"exchangehub/models"
)

// Capture polls one connector's L2 book for a fixed duration and flattens
// every snapshot into rows.
type Capture struct {
	conn     connector.Connector
	pair     string
	interval time.Duration
	duration time.Duration
	log      *logger.Log

	snapshots int
	failures  int
}

func NewCapture(conn connector.Connector, pair string, interval, duration time.Duration, log *logger.Log) (*Capture, error) {
	if conn == nil {
		return nil, fmt.Errorf("capture needs a connector")
	}
	if interval <= 0 || duration <= 0 {
		return nil, fmt.Errorf("capture interval and duration must be positive, got %s and %s", interval, duration)
	}
	return &Capture{
		conn:     conn,
		pair:     pair,
		interval: interval,
		duration: duration,
		log:      logger.OrDefault(log),
	}, nil
}

// Run captures until the duration elapses or ctx ends and returns the rows
// gathered so far. A failed fetch is logged and the next tick proceeds.
func (c *Capture) Run(ctx context.Context) models.SnapshotBatch {
	log := c.log.WithComponent("capture").WithFields(logger.Fields{
		"exchange": c.conn.Name(),
		"pair":     c.pair,
	})
	log.WithFields(logger.Fields{
		"interval": c.interval.String(),
		"duration": c.duration.String(),
	}).Info("starting capture")

	deadline := time.Now().Add(c.duration)
	var rows []models.SnapshotRow

	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("capture stopped due to context cancellation")
			break loop
		case <-timer.C:
		}

		start := time.Now()
		if !start.Before(deadline) {
			break loop
		}
		rows = append(rows, c.captureOnce(ctx, log, start)...)

		duration := time.Since(start)
		if duration > c.interval {
			log.WithFields(logger.Fields{
				"duration": duration.Milliseconds(),
				"interval": c.interval.Milliseconds(),
			}).Warn("fetch took longer than interval")
		}
		timer.Reset(time.Until(start.Truncate(c.interval).Add(c.interval)))
	}

	log.WithFields(logger.Fields{
		"snapshots": c.snapshots,
		"failures":  c.failures,
		"rows":      len(rows),
	}).Info("capture finished")
	return NewBatch(c.conn.Name(), c.pair, rows)
}

func (c *Capture) captureOnce(ctx context.Context, log *logger.Entry, at time.Time) []models.SnapshotRow {
	book, err := c.conn.GetL2OrderBook(ctx, c.pair)
	if err != nil {
		c.failures++
		log.WithError(err).Warn("failed to capture snapshot")
		return nil
	}
	c.snapshots++
	book.Exchange = c.conn.Name()
	book.Symbol = c.pair
	rows := FlattenBook(book, at)
	log.WithFields(logger.Fields{
		"rows":      len(rows),
		"snapshots": c.snapshots,
	}).Debug("captured snapshot")
	logger.LogDataFlowEntry(log, c.conn.Name()+"_api", "capture_buffer", len(rows), "orderbook_levels")
	return rows
}

// FlattenBook turns a snapshot into one row per level, stamped with the
// capture time. Level 1 is the best price on each side. Levels with a
// non-positive price or quantity are dropped.
func FlattenBook(book models.OrderBookSnapshot, at time.Time) []models.SnapshotRow {
	ts := at.UTC().UnixMilli()
	rows := make([]models.SnapshotRow, 0, len(book.Bids)+len(book.Asks))
	add := func(side string, levels []models.OrderBookLevel) {
		level := 0
		for _, l := range levels {
			if l.Price <= 0 || l.Quantity <= 0 {
				continue
			}
			level++
			rows = append(rows, models.SnapshotRow{
				Timestamp: ts,
				Exchange:  book.Exchange,
				Pair:      book.Symbol,
				Side:      side,
				Price:     l.Price,
				Quantity:  l.Quantity,
				Level:     level,
			})
		}
	}
	add("bid", book.Bids)
	add("ask", book.Asks)
	return rows
}

// NewBatch labels rows with a fresh batch id.
func NewBatch(exchange, pair string, rows []models.SnapshotRow) models.SnapshotBatch {
	return models.SnapshotBatch{
		BatchID:     uuid.New().String(),
		Exchange:    exchange,
		Pair:        pair,
		Rows:        rows,
		RecordCount: len(rows),
		Timestamp:   time.Now().UTC(),
	}
}
