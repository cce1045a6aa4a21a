package connector

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchangehub/internal/errs"
	"exchangehub/models"
)

// ValidateOrder rejects orders no exchange would accept, before any network
// call is made.
func ValidateOrder(side models.Side, quantity float64, orderType models.OrderType, price *float64) error {
	if side != models.Buy && side != models.Sell {
		return fmt.Errorf("%w: unknown side %q", errs.ErrInvalidOrderParameters, side)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %v", errs.ErrInvalidOrderParameters, quantity)
	}
	switch orderType {
	case models.Limit:
		if price == nil {
			return fmt.Errorf("%w: limit order requires a price", errs.ErrInvalidOrderParameters)
		}
		if *price <= 0 {
			return fmt.Errorf("%w: price must be positive, got %v", errs.ErrInvalidOrderParameters, *price)
		}
	case models.Market:
	default:
		return fmt.Errorf("%w: unknown order type %q", errs.ErrInvalidOrderParameters, orderType)
	}
	return nil
}

// AvgFillPrice is cumulative filled quote value over filled quantity, and 0
// when nothing has filled.
func AvgFillPrice(cumQuote, filledQty float64) float64 {
	if filledQty == 0 {
		return 0
	}
	return cumQuote / filledQty
}

// PositionFromFill marks a filled order to the quote's mid price.
func PositionFromFill(name string, filled models.FilledOrder, quote models.Quote) models.PositionView {
	current := quote.Mid()
	var pnl float64
	if filled.Side == models.Buy {
		pnl = (current - filled.AvgFillPrice) * filled.Quantity
	} else {
		pnl = (filled.AvgFillPrice - current) * filled.Quantity
	}
	return models.PositionView{
		Connector:      name,
		Pair:           filled.Pair,
		EntryTimestamp: filled.Timestamp,
		EntryPrice:     filled.AvgFillPrice,
		CurrentPrice:   current,
		Quantity:       filled.Quantity,
		Side:           filled.Side,
		UnrealizedPnL:  pnl,
	}
}

// FormatDecimal renders a float the way exchanges expect on the wire: no
// exponent and no trailing zeros.
func FormatDecimal(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// NewClientOrderID returns an alphanumeric id of at most 32 characters.
func NewClientOrderID(prefix string) string {
	id := prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}
