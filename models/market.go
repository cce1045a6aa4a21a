package models

import (
	"fmt"
	"strings"
)

// Side is the direction of a trade or position.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide accepts buy/sell and the long/short aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy, nil
	case "sell", "short":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// OrderType is the execution style of an order.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// ParseOrderType is case-insensitive.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return Limit, nil
	case "MARKET":
		return Market, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

// Quote is the top of book.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// FundingRate holds perpetual funding data. Spot-only venues report zeros.
type FundingRate struct {
	Current       float64   `json:"current"`
	Predicted     float64   `json:"predicted"`
	Historical    []float64 `json:"historical"`
	IntervalHours int       `json:"interval_hours"`
}

// APR annualises the current rate as a percentage.
func (f FundingRate) APR() (float64, error) {
	return AnnualizedRate(f.Current, f.IntervalHours)
}

// AnnualizedRate converts a per-interval funding rate into a yearly percentage.
func AnnualizedRate(rate float64, intervalHours int) (float64, error) {
	if intervalHours <= 0 {
		return 0, fmt.Errorf("funding interval must be positive, got %d", intervalHours)
	}
	return rate * (24 / float64(intervalHours)) * 365 * 100, nil
}

// ExecutionEstimate is the outcome of walking the book for a notional size.
type ExecutionEstimate struct {
	AverageExecutionPrice float64 `json:"average_execution_price"`
	PriceImpactPercent    float64 `json:"price_impact_percent"`
	FilledQuantity        float64 `json:"filled_quantity"`
	FilledValue           float64 `json:"filled_value"`
}
