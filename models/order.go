package models

import (
	"encoding/json"
	"time"
)

// OrderState is the normalised lifecycle state of an order.
type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCanceled        OrderState = "CANCELED"
	OrderRejected        OrderState = "REJECTED"
	OrderUnknown         OrderState = "UNKNOWN"
)

// OrderHandle identifies a placed order. Raw keeps the exchange payload.
type OrderHandle struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// OrderStatus is a fresh snapshot of an order; it is never updated in place.
type OrderStatus struct {
	OrderID        string          `json:"order_id"`
	State          OrderState      `json:"state"`
	FilledQuantity float64         `json:"filled_quantity"`
	AvgFillPrice   float64         `json:"avg_fill_price"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// CancelResult reports the exchange answer to a cancel request.
type CancelResult struct {
	OrderID string          `json:"order_id"`
	Status  string          `json:"status"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// FilledOrder is the entry a position view is derived from.
type FilledOrder struct {
	Pair         string    `json:"pair"`
	Side         Side      `json:"side"`
	Quantity     float64   `json:"quantity"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Timestamp    time.Time `json:"timestamp"`
}

// PositionView is a point-in-time PnL estimate. It is recomputed on demand.
type PositionView struct {
	Connector      string    `json:"connector"`
	Pair           string    `json:"pair"`
	EntryTimestamp time.Time `json:"entry_timestamp"`
	EntryPrice     float64   `json:"entry_price"`
	CurrentPrice   float64   `json:"current_price"`
	Quantity       float64   `json:"quantity"`
	Side           Side      `json:"side"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
}
