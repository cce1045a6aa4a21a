// Package okx implements the connector over the OKX v5 REST API. Books and
// orders use the spot instrument; funding comes from the USDT swap.
package okx

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
	Name = "okx"

	maxBookDepth         = 400
	fundingIntervalHours = 8
	fundingHistoryLimit  = 30
	timestampLayout      = "2006-01-02T15:04:05.000Z"
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
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type ticker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
}

type book struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

type funding struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingRate string `json:"nextFundingRate"`
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

// request performs one REST call under admission and retry and decodes the
// data array of the v5 envelope.
func request[T any](ctx context.Context, c *Connector, tag, method, path string, query url.Values, body any, signed bool) ([]T, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = transport.Encode(body); err != nil {
			return nil, err
		}
	}

	return connector.Fetch(ctx, c.Base, tag, func(ctx context.Context) ([]T, error) {
		req := c.rest.R().SetContext(ctx)
		if payload != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
		}
		if signed {
			req.SetHeaders(c.sign(method, requestPath, string(payload)))
		}
		resp, err := req.Execute(method, requestPath)
		if err != nil {
			return nil, err
		}
		var env envelope[T]
		if err := transport.Decode(resp.Body(), &env); err != nil {
			return nil, err
		}
		if env.Code != "0" {
			return nil, codeError(env.Code, env.Msg)
		}
		return env.Data, nil
	})
}

// sign builds the OK-ACCESS headers: base64 HMAC-SHA256 over
// timestamp + method + request path + body.
func (c *Connector) sign(method, requestPath, body string) map[string]string {
	creds := c.Credentials()
	ts := c.now().UTC().Format(timestampLayout)
	return map[string]string{
		"OK-ACCESS-KEY":        creds.APIKey,
		"OK-ACCESS-SIGN":       transport.SignBase64(creds.APISecret, ts+method+requestPath+body),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": creds.Passphrase,
	}
}

func codeError(code, msg string) error {
	e := errs.FromCode(Name, code, msg)
	switch code {
	case "50011", "50061":
		e.Kind = errs.KindRateLimited
	case "50100", "50101", "50102", "50103", "50104", "50105", "50111", "50113":
		e.Kind = errs.KindAuthFailed
	}
	return e
}

func first[T any](data []T, what string) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, fmt.Errorf("%w: empty %s response", errs.ErrUpstream, what)
	}
	return data[0], nil
}

func (c *Connector) GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error) {
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.Quote{}, err
	}
	data, err := request[ticker](ctx, c, "ticker", http.MethodGet, "/api/v5/market/ticker", url.Values{"instId": {instID}}, nil, false)
	if err != nil {
		return models.Quote{}, err
	}
	t, err := first(data, "ticker")
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
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	depth := c.Options().DepthLimit
	if depth > maxBookDepth {
		depth = maxBookDepth
	}

	start := time.Now()
	data, err := request[book](ctx, c, "books", http.MethodGet, "/api/v5/market/books",
		url.Values{"instId": {instID}, "sz": {strconv.Itoa(depth)}}, nil, false)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	logger.LogPerformanceEntry(c.Logger(), Name, "books", time.Since(start), logger.Fields{"symbol": instID})

	b, err := first(data, "books")
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	ts := time.Now().UTC()
	if ms, err := strconv.ParseInt(b.TS, 10, 64); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return connector.BookFromStrings(Name, pair, b.Bids, b.Asks, ts)
}

// GetFundingRates reads the USDT swap of the pair. The predicted rate falls
// back to the current one when OKX does not publish the next period.
func (c *Connector) GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error) {
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.FundingRate{}, err
	}
	swap := instID + "-SWAP"

	data, err := request[funding](ctx, c, "funding_rate", http.MethodGet, "/api/v5/public/funding-rate", url.Values{"instId": {swap}}, nil, false)
	if err != nil {
		return models.FundingRate{}, err
	}
	f, err := first(data, "funding-rate")
	if err != nil {
		return models.FundingRate{}, err
	}
	current, err := transport.ParseFloat(f.FundingRate)
	if err != nil {
		return models.FundingRate{}, err
	}
	predicted := current
	if strings.TrimSpace(f.NextFundingRate) != "" {
		if predicted, err = transport.ParseFloat(f.NextFundingRate); err != nil {
			return models.FundingRate{}, err
		}
	}

	hist, err := request[funding](ctx, c, "funding_history", http.MethodGet, "/api/v5/public/funding-rate-history",
		url.Values{"instId": {swap}, "limit": {strconv.Itoa(fundingHistoryLimit)}}, nil, false)
	if err != nil {
		return models.FundingRate{}, err
	}
	historical := make([]float64, 0, len(hist))
	for _, h := range hist {
		r, err := transport.ParseFloat(h.FundingRate)
		if err != nil {
			return models.FundingRate{}, err
		}
		historical = append(historical, r)
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
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.OrderHandle{}, err
	}

	body := map[string]string{
		"instId":  instID,
		"tdMode":  "cash",
		"side":    string(side),
		"ordType": strings.ToLower(string(orderType)),
		"sz":      connector.FormatDecimal(quantity),
		"clOrdId": connector.NewClientOrderID("xh"),
	}
	if orderType == models.Limit {
		body["px"] = connector.FormatDecimal(*price)
	} else {
		body["tgtCcy"] = "base_ccy"
	}

	data, err := request[orderAck](ctx, c, "create_order", http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return models.OrderHandle{}, err
	}
	ack, err := c.checkAck(data)
	if err != nil {
		return models.OrderHandle{}, err
	}
	c.Logger().WithFields(logger.Fields{
		"symbol":   instID,
		"side":     side,
		"type":     orderType,
		"order_id": ack.OrdID,
	}).Info("order placed")
	return models.OrderHandle{OrderID: ack.OrdID, ClientOrderID: ack.ClOrdID, Raw: connector.Raw(ack)}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error) {
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.CancelResult{}, err
	}
	data, err := request[orderAck](ctx, c, "cancel_order", http.MethodPost, "/api/v5/trade/cancel-order", nil,
		map[string]string{"instId": instID, "ordId": orderID}, true)
	if err != nil {
		return models.CancelResult{}, err
	}
	ack, err := c.checkAck(data)
	if err != nil {
		return models.CancelResult{}, err
	}
	return models.CancelResult{OrderID: orderID, Status: string(models.OrderCanceled), Raw: connector.Raw(ack)}, nil
}

func (c *Connector) GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error) {
	instID, err := c.Symbol(pair)
	if err != nil {
		return models.OrderStatus{}, err
	}
	data, err := request[orderDetail](ctx, c, "get_order", http.MethodGet, "/api/v5/trade/order",
		url.Values{"instId": {instID}, "ordId": {orderID}}, nil, true)
	if err != nil {
		return models.OrderStatus{}, err
	}
	o, err := first(data, "order")
	if err != nil {
		return models.OrderStatus{}, err
	}
	filled, err := transport.ParseFloat(o.AccFillSz)
	if err != nil {
		return models.OrderStatus{}, err
	}
	avg, err := transport.ParseFloat(o.AvgPx)
	if err != nil {
		return models.OrderStatus{}, err
	}
	if filled == 0 {
		avg = 0
	}
	return models.OrderStatus{
		OrderID:        orderID,
		State:          mapState(o.State),
		FilledQuantity: filled,
		AvgFillPrice:   avg,
		Raw:            connector.Raw(o),
	}, nil
}

func (c *Connector) GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error) {
	return c.Position(ctx, c, filled)
}

// checkAck surfaces the per-order status code OKX reports inside a
// successful envelope.
func (c *Connector) checkAck(data []orderAck) (orderAck, error) {
	ack, err := first(data, "order")
	if err != nil {
		return orderAck{}, err
	}
	if ack.SCode != "" && ack.SCode != "0" {
		return orderAck{}, codeError(ack.SCode, ack.SMsg)
	}
	return ack, nil
}

func mapState(s string) models.OrderState {
	switch s {
	case "live":
		return models.OrderNew
	case "partially_filled":
		return models.OrderPartiallyFilled
	case "filled":
		return models.OrderFilled
	case "canceled", "mmp_canceled":
		return models.OrderCanceled
	}
	return models.OrderUnknown
}
