package connector

import (
	"context"
	"fmt"

	"exchangehub/internal/errs"
	"exchangehub/models"
)

// QuoteSource supplies the top of book.
type QuoteSource interface {
	GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error)
}

// MarketSource supplies the book and the quote an impact estimate is
// computed from. Test doubles answer both from one fixed state.
type MarketSource interface {
	QuoteSource
	GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error)
}

// WalkBook fills volumeQuote of notional against levels, best price first.
// Whole levels are consumed while the remaining volume exceeds their value;
// the level that covers the remainder is consumed partially and the walk
// stops. A fill short of volumeQuote by more than tolerance (a fraction of
// volumeQuote) fails with errs.ErrInsufficientLiquidity.
func WalkBook(levels []models.OrderBookLevel, volumeQuote, tolerance float64) (filledQty, filledValue float64, err error) {
	if volumeQuote <= 0 {
		return 0, 0, fmt.Errorf("%w: volume must be positive, got %v", errs.ErrInvalidOrderParameters, volumeQuote)
	}

	remaining := volumeQuote
	for _, lvl := range levels {
		if lvl.Price <= 0 || lvl.Quantity <= 0 {
			continue
		}
		value := lvl.Value()
		if remaining <= value {
			filledQty += remaining / lvl.Price
			filledValue += remaining
			remaining = 0
			break
		}
		filledQty += lvl.Quantity
		filledValue += value
		remaining -= value
	}

	if filledValue < volumeQuote*(1-tolerance) || filledQty == 0 {
		return filledQty, filledValue, fmt.Errorf("%w: filled %.8f of %.8f", errs.ErrInsufficientLiquidity, filledValue, volumeQuote)
	}
	return filledQty, filledValue, nil
}

// ImpactFromBook turns a walk over the side a trade consumes into an
// estimate relative to mid.
func ImpactFromBook(book models.OrderBookSnapshot, quote models.Quote, side models.Side, volumeQuote, tolerance float64) (models.ExecutionEstimate, error) {
	mid := quote.Mid()
	if mid <= 0 {
		return models.ExecutionEstimate{}, fmt.Errorf("%s: quote has no usable mid price (bid %v, ask %v)", book.Exchange, quote.Bid, quote.Ask)
	}

	qty, value, err := WalkBook(book.Side(side), volumeQuote, tolerance)
	if err != nil {
		return models.ExecutionEstimate{}, err
	}

	avg := value / qty
	return models.ExecutionEstimate{
		AverageExecutionPrice: avg,
		PriceImpactPercent:    (avg - mid) / mid * 100,
		FilledQuantity:        qty,
		FilledValue:           value,
	}, nil
}

// EstimateImpact fetches the book, then the quote, and walks the book.
func EstimateImpact(ctx context.Context, src MarketSource, pair string, side models.Side, volumeQuote, tolerance float64) (models.ExecutionEstimate, error) {
	if side != models.Buy && side != models.Sell {
		return models.ExecutionEstimate{}, fmt.Errorf("%w: unknown side %q", errs.ErrInvalidOrderParameters, side)
	}
	if volumeQuote <= 0 {
		return models.ExecutionEstimate{}, fmt.Errorf("%w: volume must be positive, got %v", errs.ErrInvalidOrderParameters, volumeQuote)
	}

	book, err := src.GetL2OrderBook(ctx, pair)
	if err != nil {
		return models.ExecutionEstimate{}, err
	}
	quote, err := src.GetBestBidAsk(ctx, pair)
	if err != nil {
		return models.ExecutionEstimate{}, err
	}
	return ImpactFromBook(book, quote, side, volumeQuote, tolerance)
}
