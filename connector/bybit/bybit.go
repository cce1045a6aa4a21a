// Package bybit implements the connector over the Bybit v5 unified API:
// spot for books and orders, linear perpetuals for funding.
package bybit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/internal/errs"
	"exchangehub/internal/transport"
	"exchangehub/logger"
	"exchangehub/models"
)

const (
	Name = "bybit"

	spotCategory   = "spot"
	linearCategory = "linear"

	// maxSpotDepth is the deepest spot book the v5 endpoint serves.
	maxSpotDepth         = 200
	fundingIntervalHours = 8
	fundingHistoryLimit  = 30
)

func init() {
	connector.Register(Name, New)
}

type Connector struct {
	*connector.Base
	client *bybit.Client
}

func New(creds config.Credentials, deps connector.Deps, ex config.ExchangeConfig) (connector.Connector, error) {
	base, err := connector.NewBase(Name, creds, deps, ex)
	if err != nil {
		return nil, err
	}
	baseURL := ex.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURLs[Name]
	}
	client := bybit.NewBybitHttpClient(creds.APIKey, creds.APISecret, bybit.WithBaseURL(baseURL))
	client.HTTPClient = base.HTTPClient()
	return &Connector{Base: base, client: client}, nil
}

type tickerResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Bid1Price   string `json:"bid1Price"`
		Ask1Price   string `json:"ask1Price"`
		FundingRate string `json:"fundingRate"`
	} `json:"list"`
}

type bookResult struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	TS     int64      `json:"ts"`
}

type fundingHistoryResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
	} `json:"list"`
}

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderListResult struct {
	List []struct {
		OrderID      string `json:"orderId"`
		OrderStatus  string `json:"orderStatus"`
		CumExecQty   string `json:"cumExecQty"`
		CumExecValue string `json:"cumExecValue"`
	} `json:"list"`
}

// call runs one SDK request through admission and retry and decodes the
// result envelope into out. A non-zero retCode becomes an upstream error.
func (c *Connector) call(ctx context.Context, tag string, out any, do func(ctx context.Context) (*bybit.ServerResponse, error)) error {
	return c.Call(ctx, tag, func(ctx context.Context) error {
		resp, err := do(ctx)
		if err != nil {
			return err
		}
		if resp.RetCode != 0 {
			return codeError(resp.RetCode, resp.RetMsg)
		}
		payload, err := transport.Encode(resp.Result)
		if err != nil {
			return err
		}
		return transport.Decode(payload, out)
	})
}

// codeError maps v5 retCodes onto the shared error kinds.
func codeError(code int, msg string) error {
	e := errs.FromCode(Name, strconv.Itoa(code), msg)
	switch code {
	case 10006, 10018:
		e.Kind = errs.KindRateLimited
	case 10003, 10004, 33004:
		e.Kind = errs.KindAuthFailed
	case 10005, 10010:
		e.Kind = errs.KindForbidden
	}
	return e
}

func (c *Connector) service(params map[string]interface{}) *bybit.BybitClientRequest {
	return c.client.NewUtaBybitServiceWithParams(params)
}

func (c *Connector) ticker(ctx context.Context, category, symbol string) (tickerResult, error) {
	var res tickerResult
	err := c.call(ctx, "tickers", &res, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(map[string]interface{}{"category": category, "symbol": symbol}).GetMarketTickers(ctx)
	})
	return res, err
}

func (c *Connector) GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.Quote{}, err
	}
	res, err := c.ticker(ctx, spotCategory, symbol)
	if err != nil {
		return models.Quote{}, err
	}
	for _, t := range res.List {
		if t.Symbol != symbol {
			continue
		}
		bid, err := transport.ParseFloat(t.Bid1Price)
		if err != nil {
			return models.Quote{}, err
		}
		ask, err := transport.ParseFloat(t.Ask1Price)
		if err != nil {
			return models.Quote{}, err
		}
		return models.Quote{Bid: bid, Ask: ask}, nil
	}
	return models.Quote{}, fmt.Errorf("%w: no ticker for %s", errs.ErrUpstream, symbol)
}

func (c *Connector) GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	limit := c.Options().DepthLimit
	if limit > maxSpotDepth {
		limit = maxSpotDepth
	}

	start := time.Now()
	var res bookResult
	err = c.call(ctx, "orderbook", &res, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(map[string]interface{}{
			"category": spotCategory,
			"symbol":   symbol,
			"limit":    limit,
		}).GetOrderBookInfo(ctx)
	})
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	logger.LogPerformanceEntry(c.Logger(), Name, "orderbook", time.Since(start), logger.Fields{"symbol": symbol})

	ts := time.Now().UTC()
	if res.TS > 0 {
		ts = time.UnixMilli(res.TS).UTC()
	}
	return connector.BookFromStrings(Name, pair, res.Bids, res.Asks, ts)
}

// GetFundingRates reports the last settled rate as current and the rate
// accruing on the linear ticker as predicted.
func (c *Connector) GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.FundingRate{}, err
	}

	tick, err := c.ticker(ctx, linearCategory, symbol)
	if err != nil {
		return models.FundingRate{}, err
	}
	var predicted float64
	for _, t := range tick.List {
		if t.Symbol == symbol {
			if predicted, err = transport.ParseFloat(t.FundingRate); err != nil {
				return models.FundingRate{}, err
			}
		}
	}

	var hist fundingHistoryResult
	err = c.call(ctx, "funding_history", &hist, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(map[string]interface{}{
			"category": linearCategory,
			"symbol":   symbol,
			"limit":    fundingHistoryLimit,
		}).GetFundingRateHistory(ctx)
	})
	if err != nil {
		return models.FundingRate{}, err
	}
	historical := make([]float64, 0, len(hist.List))
	for _, h := range hist.List {
		r, err := transport.ParseFloat(h.FundingRate)
		if err != nil {
			return models.FundingRate{}, err
		}
		historical = append(historical, r)
	}

	current := predicted
	if len(historical) > 0 {
		current = historical[0]
	}
	return models.FundingRate{
		Current:       current,
		Predicted:     predicted,
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

	params := map[string]interface{}{
		"category":    spotCategory,
		"symbol":      symbol,
		"side":        sideParam(side),
		"qty":         connector.FormatDecimal(quantity),
		"orderLinkId": connector.NewClientOrderID("xh"),
	}
	if orderType == models.Limit {
		params["orderType"] = "Limit"
		params["price"] = connector.FormatDecimal(*price)
		params["timeInForce"] = "GTC"
	} else {
		params["orderType"] = "Market"
		params["marketUnit"] = "baseCoin"
	}

	var ack orderAck
	err = c.call(ctx, "create_order", &ack, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(params).PlaceOrder(ctx)
	})
	if err != nil {
		return models.OrderHandle{}, err
	}
	c.Logger().WithFields(logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"type":     orderType,
		"order_id": ack.OrderID,
	}).Info("order placed")
	return models.OrderHandle{OrderID: ack.OrderID, ClientOrderID: ack.OrderLinkID, Raw: connector.Raw(ack)}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.CancelResult{}, err
	}
	var ack orderAck
	err = c.call(ctx, "cancel_order", &ack, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(map[string]interface{}{
			"category": spotCategory,
			"symbol":   symbol,
			"orderId":  orderID,
		}).CancelOrder(ctx)
	})
	if err != nil {
		return models.CancelResult{}, err
	}
	return models.CancelResult{OrderID: orderID, Status: string(models.OrderCanceled), Raw: connector.Raw(ack)}, nil
}

// GetOrderStatus looks in the open orders first and falls back to history
// once the order has left the book.
func (c *Connector) GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderStatus{}, err
	}
	params := map[string]interface{}{
		"category": spotCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	var res orderListResult
	err = c.call(ctx, "open_orders", &res, func(ctx context.Context) (*bybit.ServerResponse, error) {
		return c.service(params).GetOpenOrders(ctx)
	})
	if err != nil {
		return models.OrderStatus{}, err
	}
	if len(res.List) == 0 {
		err = c.call(ctx, "order_history", &res, func(ctx context.Context) (*bybit.ServerResponse, error) {
			return c.service(params).GetOrderHistory(ctx)
		})
		if err != nil {
			return models.OrderStatus{}, err
		}
	}
	for _, o := range res.List {
		if o.OrderID != orderID {
			continue
		}
		filled, err := transport.ParseFloat(o.CumExecQty)
		if err != nil {
			return models.OrderStatus{}, err
		}
		value, err := transport.ParseFloat(o.CumExecValue)
		if err != nil {
			return models.OrderStatus{}, err
		}
		return models.OrderStatus{
			OrderID:        orderID,
			State:          mapStatus(o.OrderStatus),
			FilledQuantity: filled,
			AvgFillPrice:   connector.AvgFillPrice(value, filled),
			Raw:            connector.Raw(o),
		}, nil
	}
	return models.OrderStatus{}, fmt.Errorf("%w: order %s not found", errs.ErrUpstream, orderID)
}

func (c *Connector) GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error) {
	return c.Position(ctx, c, filled)
}

func sideParam(s models.Side) string {
	if s == models.Buy {
		return "Buy"
	}
	return "Sell"
}

func mapStatus(s string) models.OrderState {
	switch s {
	case "New", "Untriggered", "Triggered":
		return models.OrderNew
	case "PartiallyFilled":
		return models.OrderPartiallyFilled
	case "Filled":
		return models.OrderFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return models.OrderCanceled
	case "Rejected":
		return models.OrderRejected
	}
	return models.OrderUnknown
}
