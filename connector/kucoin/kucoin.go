// Package kucoin implements the connector through the KuCoin universal SDK:
// spot market data and orders, plus funding from the USDT-margined
// perpetual of the same pair.
package kucoin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	fundingfees "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/fundingfees"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	spotorder "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/order"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/internal/errs"
	"exchangehub/internal/transport"
	"exchangehub/logger"
	"exchangehub/models"
)

const (
	Name = "kucoin"

	bookDepth            = "100"
	fundingIntervalHours = 8
	fundingHistorySpan   = 10 * 24 * time.Hour
)

func init() {
	connector.Register(Name, New)
}

type Connector struct {
	*connector.Base
	market  spotmarket.MarketAPI
	orders  spotorder.OrderAPI
	funding fundingfees.FundingFeesAPI
	now     func() time.Time
}

// New builds one SDK client for spot and futures. The SDK signs with the
// v2 key scheme, so the passphrase goes out HMAC-signed with the secret.
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
		futuresURL = config.DefaultKucoinFuturesURL
	}

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(ex.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(ex.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(ex.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(ex.ConnectionPool.IdleConnTimeout).
		SetTimeout(base.Options().Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithKey(creds.APIKey).
		WithSecret(creds.APISecret).
		WithPassphrase(creds.Passphrase).
		WithSpotEndpoint(spotURL).
		WithFuturesEndpoint(futuresURL).
		WithTransportOption(transportOpt).
		Build()

	rest := sdkapi.NewClient(option).RestService()
	return &Connector{
		Base:    base,
		market:  rest.GetSpotService().GetMarketAPI(),
		orders:  rest.GetSpotService().GetOrderAPI(),
		funding: rest.GetFuturesService().GetFundingFeesAPI(),
		now:     time.Now,
	}, nil
}

// call runs one SDK request through admission and retry, classifying the
// KuCoin code carried in the SDK error.
func call[T any](ctx context.Context, c *Connector, tag string, op func(ctx context.Context) (T, error)) (T, error) {
	return connector.Fetch(ctx, c.Base, tag, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		if err != nil {
			var zero T
			return zero, classify(ctx, err)
		}
		return v, nil
	})
}

var codePattern = regexp.MustCompile(`\b([1-9]\d{5})\b`)

// classify maps an SDK failure onto the shared error kinds. The SDK reports
// API errors as text that includes the six-digit KuCoin code.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ue *errs.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	m := codePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return errs.FromCode(Name, "", err.Error())
	}
	return codeError(m[1], err.Error())
}

func codeError(code, msg string) error {
	e := errs.FromCode(Name, code, msg)
	switch code {
	case "429000":
		e.Kind = errs.KindRateLimited
	case "400001", "400002", "400003", "400004", "400005":
		e.Kind = errs.KindAuthFailed
	case "400006", "400007":
		e.Kind = errs.KindForbidden
	}
	return e
}

// futuresSymbol maps a spot symbol to its USDT-margined perpetual; KuCoin
// futures spell bitcoin XBT.
func futuresSymbol(spot string) string {
	base, quote, _ := strings.Cut(spot, "-")
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote + "M"
}

func (c *Connector) GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.Quote{}, err
	}
	t, err := call(ctx, c, "ticker", func(ctx context.Context) (*spotmarket.GetTickerResp, error) {
		return c.market.GetTicker(spotmarket.NewGetTickerReqBuilder().SetSymbol(symbol).Build(), ctx)
	})
	if err != nil {
		return models.Quote{}, err
	}
	bid, err := transport.ParseFloat(t.BestBid)
	if err != nil {
		return models.Quote{}, err
	}
	ask, err := transport.ParseFloat(t.BestAsk)
	if err != nil {
		return models.Quote{}, err
	}
	return models.Quote{Bid: bid, Ask: ask}, nil
}

// GetL2OrderBook reads the public 100-level snapshot. The full-depth
// endpoint requires authentication.
func (c *Connector) GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	start := time.Now()
	l2, err := call(ctx, c, "part_order_book", func(ctx context.Context) (*spotmarket.GetPartOrderBookResp, error) {
		req := spotmarket.NewGetPartOrderBookReqBuilder().SetSymbol(symbol).SetSize(bookDepth).Build()
		return c.market.GetPartOrderBook(req, ctx)
	})
	if err != nil {
		return models.OrderBookSnapshot{}, err
	}
	logger.LogPerformanceEntry(c.Logger(), Name, "part_order_book", time.Since(start), logger.Fields{"symbol": symbol})

	ts := time.Now().UTC()
	if l2.Time > 0 {
		ts = time.UnixMilli(l2.Time).UTC()
	}
	return connector.BookFromStrings(Name, pair, l2.Bids, l2.Asks, ts)
}

// GetFundingRates reads the perpetual of the pair: current and predicted
// rate plus the settlements of the last ten days, oldest first.
func (c *Connector) GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error) {
	spot, err := c.Symbol(pair)
	if err != nil {
		return models.FundingRate{}, err
	}
	symbol := futuresSymbol(spot)

	current, err := call(ctx, c, "funding_rate", func(ctx context.Context) (*fundingfees.GetCurrentFundingRateResp, error) {
		return c.funding.GetCurrentFundingRate(fundingfees.NewGetCurrentFundingRateReqBuilder().SetSymbol(symbol).Build(), ctx)
	})
	if err != nil {
		return models.FundingRate{}, err
	}

	to := c.now()
	history, err := call(ctx, c, "funding_history", func(ctx context.Context) (*fundingfees.GetPublicFundingHistoryResp, error) {
		req := fundingfees.NewGetPublicFundingHistoryReqBuilder().
			SetSymbol(symbol).
			SetFrom(to.Add(-fundingHistorySpan).UnixMilli()).
			SetTo(to.UnixMilli()).
			Build()
		return c.funding.GetPublicFundingHistory(req, ctx)
	})
	if err != nil {
		return models.FundingRate{}, err
	}
	historical := make([]float64, 0, len(history.Data))
	for i := len(history.Data) - 1; i >= 0; i-- {
		historical = append(historical, history.Data[i].FundingRate)
	}

	interval := fundingIntervalHours
	if h := int(time.Duration(current.Granularity) * time.Millisecond / time.Hour); h > 0 {
		interval = h
	}
	return models.FundingRate{
		Current:       current.Value,
		Predicted:     current.PredictedValue,
		Historical:    historical,
		IntervalHours: interval,
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

	clientOid := connector.NewClientOrderID("xh")
	b := spotorder.NewAddOrderReqBuilder().
		SetClientOid(clientOid).
		SetSide(string(side)).
		SetSymbol(symbol).
		SetType("market").
		SetSize(connector.FormatDecimal(quantity))
	if orderType == models.Limit {
		b = b.SetType("limit").
			SetPrice(connector.FormatDecimal(*price)).
			SetTimeInForce("GTC")
	}
	req := b.Build()

	ack, err := call(ctx, c, "add_order", func(ctx context.Context) (*spotorder.AddOrderResp, error) {
		return c.orders.AddOrder(req, ctx)
	})
	if err != nil {
		return models.OrderHandle{}, err
	}
	c.Logger().WithFields(logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"type":     orderType,
		"order_id": ack.OrderId,
	}).Info("order placed")
	return models.OrderHandle{OrderID: ack.OrderId, ClientOrderID: clientOid, Raw: connector.Raw(ack)}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.CancelResult{}, err
	}
	ack, err := call(ctx, c, "cancel_order", func(ctx context.Context) (*spotorder.CancelOrderByOrderIdResp, error) {
		req := spotorder.NewCancelOrderByOrderIdReqBuilder().SetOrderId(orderID).SetSymbol(symbol).Build()
		return c.orders.CancelOrderByOrderId(req, ctx)
	})
	if err != nil {
		return models.CancelResult{}, err
	}
	if ack.OrderId != orderID {
		return models.CancelResult{}, fmt.Errorf("%w: cancel of %s acknowledged %q", errs.ErrUpstream, orderID, ack.OrderId)
	}
	return models.CancelResult{OrderID: orderID, Status: string(models.OrderCanceled), Raw: connector.Raw(ack)}, nil
}

func (c *Connector) GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error) {
	symbol, err := c.Symbol(pair)
	if err != nil {
		return models.OrderStatus{}, err
	}
	o, err := call(ctx, c, "get_order", func(ctx context.Context) (*spotorder.GetOrderByOrderIdResp, error) {
		req := spotorder.NewGetOrderByOrderIdReqBuilder().SetOrderId(orderID).SetSymbol(symbol).Build()
		return c.orders.GetOrderByOrderId(req, ctx)
	})
	if err != nil {
		return models.OrderStatus{}, err
	}
	filled, err := transport.ParseFloat(o.DealSize)
	if err != nil {
		return models.OrderStatus{}, err
	}
	funds, err := transport.ParseFloat(o.DealFunds)
	if err != nil {
		return models.OrderStatus{}, err
	}
	return models.OrderStatus{
		OrderID:        orderID,
		State:          orderState(o.Active, o.CancelExist, filled),
		FilledQuantity: filled,
		AvgFillPrice:   connector.AvgFillPrice(funds, filled),
		Raw:            connector.Raw(o),
	}, nil
}

func (c *Connector) GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error) {
	return c.Position(ctx, c, filled)
}

// orderState derives the lifecycle state; KuCoin only reports activity and
// cancellation flags.
func orderState(active, cancelled bool, filled float64) models.OrderState {
	switch {
	case active && filled > 0:
		return models.OrderPartiallyFilled
	case active:
		return models.OrderNew
	case cancelled:
		return models.OrderCanceled
	default:
		return models.OrderFilled
	}
}
