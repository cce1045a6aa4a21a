// Package binance is the reference connector: spot market data and orders
// plus USD-M futures funding, through the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/internal/errs"
	"exchangehub/internal/transport"
	"exchangehub/logger"
	"exchangehub/models"
)

const (
	Name = "binance"

	// fundingIntervalHours is the USD-M perpetual settlement period.
	fundingIntervalHours = 8
	fundingHistoryLimit  = 30
)

func init() {
	connector.Register(Name, New)
}

// Connector talks to the spot API for books and orders and to the futures
// API for funding.
type Connector struct {
	*connector.Base
	spot    *binance.Client
	futures *futures.Client
}

// New builds the connector. Both SDK clients share the base HTTP client so
// non-2xx answers are classified before the SDK parses them.
func New(creds config.Credentials, deps connector.Deps, ex config.ExchangeConfig) (connector.Connector, error) {
	base, err := connector.NewBase(Name, creds, deps, ex)
	if err != nil {
		return nil, err
	}

	spotURL := ex.BaseURL
	if spotURL == "" {
		spotURL = config.DefaultBaseURLs[Name]
	}
	futuresURL := ex.FuturesBaseURL
	if futuresURL == "" {
		futuresURL = config.DefaultBinanceFuturesURL
	}

	spot := binance.NewClient(creds.APIKey, creds.APISecret)
	spot.HTTPClient = base.HTTPClient()
	spot.BaseURL = spotURL

	fut := futures.NewClient(creds.APIKey, creds.APISecret)
	fut.HTTPClient = base.HTTPClient()
	fut.SetApiEndpoint(futuresURL)

	return &Connector{Base: base, spot: spot, futures: fut}, nil
}

func (c *Connector) GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.Quote{}, err
	}
	tickers, err := connector.Fetch(ctx, c.Base, "book_ticker", func(ctx context.Context) ([]*binance.BookTicker, error) {
		return c.spot.NewListBookTickersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return models.Quote{}, err
	}
	for _, t := range tickers {
		if t.Symbol != symbol {
			continue
		}
		bid, err := transport.ParseFloat(t.BidPrice)
		if err != nil {
			return models.Quote{}, err
		}
		ask, err := transport.ParseFloat(t.AskPrice)
		if err != nil {
			return models.Quote{}, err
		}
		return models.Quote{Bid: bid, Ask: ask}, nil
	}
	return models.Quote{}, fmt.Errorf("%w: no book ticker for %s", errs.ErrUpstream, symbol)
}

func (c *Connector) GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	start := time.Now()
	depth, err := connector.Fetch(ctx, c.Base, "depth", func(ctx context.Context) (*binance.DepthResponse, error) {
		return c.spot.NewDepthService().Symbol(symbol).Limit(c.Options().DepthLimit).Do(ctx)
	})
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	logger.LogPerformanceEntry(c.Logger(), Name, "depth", time.Since(start), logger.Fields{"symbol": symbol})

	bids := make([][]string, 0, len(depth.Bids))
	for _, b := range depth.Bids {
		bids = append(bids, []string{b.Price, b.Quantity})
	}
	asks := make([][]string, 0, len(depth.Asks))
	for _, a := range depth.Asks {
		asks = append(asks, []string{a.Price, a.Quantity})
	}
	return connector.BookFromStrings(Name, pair, bids, asks, time.Now().UTC())
}

// GetFundingRates reads the live rate from the premium index and the
// settled history from the funding rate endpoint. Binance publishes a single
// rate for the running interval, so current and predicted are equal.
func (c *Connector) GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.FundingRate{}, err
	}
	indexes, err := connector.Fetch(ctx, c.Base, "premium_index", func(ctx context.Context) ([]*futures.PremiumIndex, error) {
		return c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return models.FundingRate{}, err
	}
	var current float64
	found := false
	for _, idx := range indexes {
		if idx.Symbol == symbol {
			if current, err = transport.ParseFloat(idx.LastFundingRate); err != nil {
				return models.FundingRate{}, err
			}
			found = true
			break
		}
	}
	if !found {
		return models.FundingRate{}, fmt.Errorf("%w: no premium index for %s", errs.ErrUpstream, symbol)
	}

	history, err := connector.Fetch(ctx, c.Base, "funding_history", func(ctx context.Context) ([]*futures.FundingRate, error) {
		return c.futures.NewFundingRateService().Symbol(symbol).Limit(fundingHistoryLimit).Do(ctx)
	})
	if err != nil {
		return models.FundingRate{}, err
	}
	historical := make([]float64, 0, len(history))
	for _, h := range history {
		r, err := transport.ParseFloat(h.FundingRate)
		if err != nil {
			return models.FundingRate{}, err
		}
		historical = append(historical, r)
	}

	return models.FundingRate{
		Current:       current,
		Predicted:     current,
		Historical:    historical,
		IntervalHours: fundingIntervalHours,
	}, nil
}

func (c *Connector) CalculatePriceImpact(ctx context.Context, pair string, side models.Side, volumeQuote float64) (models.ExecutionEstimate, error) {
	return c.Impact(ctx, c, pair, side, volumeQuote)
}

func (c *Connector) PlaceOrder(ctx context.Context, pair string, side models.Side, quantity float64, orderType models.OrderType, price *float64) (models.OrderHandle, error) {
	if err := connector.ValidateOrder(side, quantity, orderType, price); err != nil {
		return models.OrderHandle{}, err
	}
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderHandle{}, err
	}

	clientID := connector.NewClientOrderID("xh")
	res, err := connector.Fetch(ctx, c.Base, "create_order", func(ctx context.Context) (*binance.CreateOrderResponse, error) {
		svc := c.spot.NewCreateOrderService().
			Symbol(symbol).
			Side(sideType(side)).
			Type(binance.OrderType(orderType)).
			Quantity(connector.FormatDecimal(quantity)).
			NewClientOrderID(clientID)
		if orderType == models.Limit {
			svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(connector.FormatDecimal(*price))
		}
		return svc.Do(ctx)
	})
	if err != nil {
		return models.OrderHandle{}, err
	}

	c.Logger().WithFields(logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"type":     orderType,
		"order_id": res.OrderID,
	}).Info("order placed")
	return models.OrderHandle{
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Raw:           connector.Raw(res),
	}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error) {
	symbol, id, err := c.orderRef(orderID, pair)
	if err != nil {
		return models.CancelResult{}, err
	}
	res, err := connector.Fetch(ctx, c.Base, "cancel_order", func(ctx context.Context) (*binance.CancelOrderResponse, error) {
		return c.spot.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	if err != nil {
		return models.CancelResult{}, err
	}
	return models.CancelResult{
		OrderID: orderID,
		Status:  string(mapStatus(res.Status)),
		Raw:     connector.Raw(res),
	}, nil
}

func (c *Connector) GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error) {
	symbol, id, err := c.orderRef(orderID, pair)
	if err != nil {
		return models.OrderStatus{}, err
	}
	order, err := connector.Fetch(ctx, c.Base, "get_order", func(ctx context.Context) (*binance.Order, error) {
		return c.spot.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	})
	if err != nil {
		return models.OrderStatus{}, err
	}

	filled, err := transport.ParseFloat(order.ExecutedQuantity)
	if err != nil {
		return models.OrderStatus{}, err
	}
	cumQuote, err := transport.ParseFloat(order.CummulativeQuoteQuantity)
	if err != nil {
		return models.OrderStatus{}, err
	}
	return models.OrderStatus{
		OrderID:        orderID,
		State:          mapStatus(order.Status),
		FilledQuantity: filled,
		AvgFillPrice:   connector.AvgFillPrice(cumQuote, filled),
		Raw:            connector.Raw(order),
	}, nil
}

func (c *Connector) GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error) {
	return c.Position(ctx, c, filled)
}

func (c *Connector) orderRef(orderID, pair string) (string, int64, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: order id %q is not numeric", errs.ErrInvalidOrderParameters, orderID)
	}
	return symbol, id, nil
}

func sideType(s models.Side) binance.SideType {
	if s == models.Buy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func mapStatus(s binance.OrderStatusType) models.OrderState {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePendingCancel:
		return models.OrderNew
	case binance.OrderStatusTypePartiallyFilled:
		return models.OrderPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return models.OrderFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return models.OrderCanceled
	case binance.OrderStatusTypeRejected:
		return models.OrderRejected
	}
	return models.OrderUnknown
}
