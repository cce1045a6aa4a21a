// Package bitmart implements the connector over the BitMart spot REST API.
// Signed calls carry the account memo; funding is reported as zeros.
package bitmart

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/internal/errs"
	"exchangehub/internal/transport"
	"exchangehub/logger"
	"exchangehub/models"
)

const (
	Name = "bitmart"

	successCode  = 1000
	maxBookDepth = 50
)

func init() {
	connector.Register(Name, New)
}

type Connector struct {
	*connector.Base
	rest *resty.Client
	now  func() time.Time
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
	return &Connector{
		Base: base,
		rest: transport.NewRestClient(baseURL, base.HTTPClient()),
		now:  time.Now,
	}, nil
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type ticker struct {
	Symbol string `json:"symbol"`
	BidPx  string `json:"bid_px"`
	AskPx  string `json:"ask_px"`
}

type book struct {
	TS   string     `json:"ts"`
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type orderAck struct {
	OrderID string `json:"order_id"`
}

type cancelAck struct {
	Result bool `json:"result"`
}

type orderDetail struct {
	OrderID        string `json:"orderId"`
	ClientOrderID  string `json:"clientOrderId"`
	State          string `json:"state"`
	FilledSize     string `json:"filledSize"`
	FilledNotional string `json:"filledNotional"`
}

// request signs POST bodies as timestamp#memo#body, hex encoded.
func request[T any](ctx context.Context, c *Connector, tag, method, path string, query url.Values, body any, signed bool) (T, error) {
	endpoint := path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = transport.Encode(body); err != nil {
			var zero T
			return zero, err
		}
	}

	return connector.Fetch(ctx, c.Base, tag, func(ctx context.Context) (T, error) {
		var zero T
		req := c.rest.R().SetContext(ctx)
		if payload != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
		}
		if signed {
			req.SetHeaders(c.sign(string(payload)))
		}
		resp, err := req.Execute(method, endpoint)
		if err != nil {
			return zero, err
		}
		var env envelope[T]
		if err := transport.Decode(resp.Body(), &env); err != nil {
			return zero, err
		}
		if env.Code != successCode {
			return zero, codeError(env.Code, env.Message)
		}
		return env.Data, nil
	})
}

func (c *Connector) sign(body string) map[string]string {
	creds := c.Credentials()
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	return map[string]string{
		"X-BM-KEY":       creds.APIKey,
		"X-BM-SIGN":      transport.SignHex(creds.APISecret, ts+"#"+creds.Memo+"#"+body),
		"X-BM-TIMESTAMP": ts,
	}
}

func codeError(code int, msg string) error {
	e := errs.FromCode(Name, strconv.Itoa(code), msg)
	switch code {
	case 30013:
		e.Kind = errs.KindRateLimited
	case 30002, 30004, 30005, 30006, 30007, 30008:
		e.Kind = errs.KindAuthFailed
	case 30010:
		e.Kind = errs.KindForbidden
	}
	return e
}

func (c *Connector) GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.Quote{}, err
	}
	t, err := request[ticker](ctx, c, "ticker", http.MethodGet, "/spot/quotation/v3/ticker", url.Values{"symbol": {symbol}}, nil, false)
	if err != nil {
		return models.Quote{}, err
	}
	bid, err := transport.ParseFloat(t.BidPx)
	if err != nil {
		return models.Quote{}, err
	}
	ask, err := transport.ParseFloat(t.AskPx)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{Bid: bid, Ask: ask}, nil
}

func (c *Connector) GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	depth := c.Options().DepthLimit
	if depth > maxBookDepth {
		depth = maxBookDepth
	}

	start := time.Now()
	b, err := request[book](ctx, c, "books", http.MethodGet, "/spot/quotation/v3/books",
		url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}, nil, false)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	logger.LogPerformanceEntry(c.Logger(), Name, "books", time.Since(start), logger.Fields{"symbol": symbol})

	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(b.TS, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return connector.BookFromStrings(Name, pair, b.Bids, b.Asks, ts)
}

func (c *Connector) GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error) {
	if _, err := c.Symbol(pair); err != nil {
		return models.FundingRate{}, err
	}
	return models.FundingRate{Historical: []float64{}, IntervalHours: 8}, nil
}

func (c *Connector) CalculatePriceImpact(ctx context.Context, pair string, side models.Side, volumeQuote float64) (models.ExecutionEstimate, error) {
	return c.Impact(ctx, c, pair, side, volumeQuote)
}

// PlaceOrder sizes market buys in quote currency, as BitMart requires,
// using the current best ask.
func (c *Connector) PlaceOrder(ctx context.Context, pair string, side models.Side, quantity float64, orderType models.OrderType, price *float64) (models.OrderHandle, error) {
	if err := connector.ValidateOrder(side, quantity, orderType, price); err != nil {
		return models.OrderHandle{}, err
	}
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderHandle{}, err
	}

	clientID := connector.NewClientOrderID("xh")
	body := map[string]string{
		"symbol":          symbol,
		"side":            string(side),
		"type":            strings.ToLower(string(orderType)),
		"client_order_id": clientID,
	}
	switch {
	case orderType == models.Limit:
		body["size"] = connector.FormatDecimal(quantity)
		body["price"] = connector.FormatDecimal(*price)
	case side == models.Buy:
		q, err := c.GetBestBidAsk(ctx, pair)
		if err != nil {
			return models.OrderHandle{}, err
		}
		if q.Ask <= 0 {
			return models.OrderHandle{}, fmt.Errorf("%w: no ask to size a market buy", errs.ErrInsufficientLiquidity)
		}
		body["notional"] = connector.FormatDecimal(quantity * q.Ask)
	default:
		body["size"] = connector.FormatDecimal(quantity)
	}

	ack, err := request[orderAck](ctx, c, "create_order", http.MethodPost, "/spot/v2/submit_order", nil, body, true)
	if err != nil {
		return models.OrderHandle{}, err
	}
	c.Logger().WithFields(logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"type":     orderType,
		"order_id": ack.OrderID,
	}).Info("order placed")
	return models.OrderHandle{OrderID: ack.OrderID, ClientOrderID: clientID, Raw: connector.Raw(ack)}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.CancelResult{}, err
	}
	ack, err := request[cancelAck](ctx, c, "cancel_order", http.MethodPost, "/spot/v3/cancel_order", nil,
		map[string]string{"symbol": symbol, "order_id": orderID}, true)
	if err != nil {
		return models.CancelResult{}, err
	}
	if !ack.Result {
		return models.CancelResult{}, fmt.Errorf("%w: cancel of %s not accepted", errs.ErrUpstream, orderID)
	}
	return models.CancelResult{OrderID: orderID, Status: string(models.OrderCanceled), Raw: connector.Raw(ack)}, nil
}

func (c *Connector) GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error) {
	if _, err := c.Symbol(pair); err != nil {
		return models.OrderStatus{}, err
	}
	o, err := request[orderDetail](ctx, c, "get_order", http.MethodPost, "/spot/v4/query/order", nil,
		map[string]string{"orderId": orderID, "recvWindow": "5000"}, true)
	if err != nil {
		return models.OrderStatus{}, err
	}
	filled, err := transport.ParseFloat(o.FilledSize)
	if err != nil {
		return models.OrderStatus{}, err
	}
	notional, err := transport.ParseFloat(o.FilledNotional)
	if err != nil {
		return models.OrderStatus{}, err
	}
	return models.OrderStatus{
		OrderID:        orderID,
		State:          mapState(o.State),
		FilledQuantity: filled,
		AvgFillPrice:   connector.AvgFillPrice(notional, filled),
		Raw:            connector.Raw(o),
	}, nil
}

func (c *Connector) GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error) {
	return c.Position(ctx, c, filled)
}

func mapState(s string) models.OrderState {
	switch s {
	case "new":
		return models.OrderNew
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "filled":
		return models.OrderFilled
	case "canceled", "partially_canceled":
		return models.OrderCanceled
	case "failed":
		return models.OrderRejected
	}
	return models.OrderUnknown
}
