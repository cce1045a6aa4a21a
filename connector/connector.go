// Package connector defines the contract every exchange client satisfies and
// the machinery they share: admission, retry, symbol mapping and the
// order-book walk used for price impact.
package connector

import (
	"context"
	"net/http"
	"strings"
	"time"

	"exchangehub/config"
	"exchangehub/internal/ratelimit"
	"exchangehub/internal/retry"
	"exchangehub/internal/symbols"
	"exchangehub/internal/transport"
	"exchangehub/logger"
	"exchangehub/models"
)

// Connector is implemented once per exchange.
type Connector interface {
	Name() string
	GetBestBidAsk(ctx context.Context, pair string) (models.Quote, error)
	GetL2OrderBook(ctx context.Context, pair string) (models.OrderBookSnapshot, error)
	GetFundingRates(ctx context.Context, pair string) (models.FundingRate, error)
	CalculatePriceImpact(ctx context.Context, pair string, side models.Side, volumeQuote float64) (models.ExecutionEstimate, error)
	PlaceOrder(ctx context.Context, pair string, side models.Side, quantity float64, orderType models.OrderType, price *float64) (models.OrderHandle, error)
	CancelOrder(ctx context.Context, orderID, pair string) (models.CancelResult, error)
	GetOrderStatus(ctx context.Context, orderID, pair string) (models.OrderStatus, error)
	GetPositionDetails(ctx context.Context, filled models.FilledOrder) (models.PositionView, error)
}

const (
	DefaultDepthLimit         = 1000
	DefaultLiquidityTolerance = 0.001
)

// Options are the tunables shared by every connector.
type Options struct {
	DepthLimit         int
	LiquidityTolerance float64
	Timeout            time.Duration
	RequestsPerSecond  float64
	BurstSize          int
	UserAgent          string
}

// OptionsFromConfig maps the connector section of the config file.
func OptionsFromConfig(c config.ConnectorConfig) Options {
	return Options{
		DepthLimit:         c.DepthLimit,
		LiquidityTolerance: c.LiquidityTolerance,
		Timeout:            c.Timeout,
		RequestsPerSecond:  c.RequestsPerSecond,
		BurstSize:          c.BurstSize,
		UserAgent:          c.UserAgent,
	}
}

func (o Options) withDefaults() Options {
	if o.DepthLimit <= 0 {
		o.DepthLimit = DefaultDepthLimit
	}
	if o.LiquidityTolerance <= 0 {
		o.LiquidityTolerance = DefaultLiquidityTolerance
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

// Deps are the process-wide collaborators handed to every connector.
// HTTPClient, when set, replaces the pooled client built from the exchange
// config; it still gets status classification.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Retry      *retry.Executor
	Mapper     *symbols.Mapper
	Log        *logger.Log
	Options    Options
	HTTPClient *http.Client
}

// Base carries what every connector variant needs. Variants embed it.
type Base struct {
	name    string
	creds   config.Credentials
	limiter *ratelimit.Limiter
	retry   *retry.Executor
	mapper  *symbols.Mapper
	log     *logger.Log
	opts    Options
	client  *http.Client
}

// NewBase validates creds for exchange name and wires deps. It fails with
// errs.ErrInvalidCredentials before anything else is built.
func NewBase(name string, creds config.Credentials, deps Deps, ex config.ExchangeConfig) (*Base, error) {
	name = strings.ToLower(name)
	creds.Exchange = name
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	log := logger.OrDefault(deps.Log)
	b := &Base{
		name:    name,
		creds:   creds,
		limiter: deps.Limiter,
		retry:   deps.Retry,
		mapper:  deps.Mapper,
		log:     log,
		opts:    deps.Options.withDefaults(),
	}
	if b.limiter == nil {
		b.limiter = ratelimit.New(ratelimit.Config{}, log)
	}
	if b.retry == nil {
		b.retry = retry.Default(log)
	}
	if b.mapper == nil {
		b.mapper = symbols.NewMapper()
	}

	if deps.HTTPClient != nil {
		b.client = transport.Wrap(deps.HTTPClient, name, log)
	} else {
		b.client = transport.NewHTTPClient(transport.Options{
			Exchange:          name,
			LocalIP:           ex.LocalIP,
			Timeout:           b.opts.Timeout,
			MaxIdleConns:      ex.ConnectionPool.MaxIdleConns,
			MaxConnsPerHost:   ex.ConnectionPool.MaxConnsPerHost,
			IdleConnTimeout:   ex.ConnectionPool.IdleConnTimeout,
			RequestsPerSecond: b.opts.RequestsPerSecond,
			BurstSize:         b.opts.BurstSize,
			UserAgent:         b.opts.UserAgent,
		}, log)
	}

	log.WithComponent(name).WithFields(logger.Fields{
		"credentials": creds.String(),
		"depth_limit": b.opts.DepthLimit,
		"quota":       b.limiter.Quota(name),
	}).Info("connector initialized")
	return b, nil
}

func (b *Base) Name() string { return b.name }

// Credentials returns a copy of the connector's credentials.
func (b *Base) Credentials() config.Credentials { return b.creds }

func (b *Base) Options() Options { return b.opts }

// HTTPClient is the classified, pooled client the variant must use.
func (b *Base) HTTPClient() *http.Client { return b.client }

func (b *Base) Logger() *logger.Entry { return b.log.WithComponent(b.name) }

// Symbol converts a universal pair to this exchange's spelling.
func (b *Base) Symbol(pair string) (string, error) {
	return b.mapper.ToExchange(pair, b.name)
}

// Universal converts a native symbol back to BASE/QUOTE.
func (b *Base) Universal(native string) (string, error) {
	return b.mapper.ToUniversal(native, b.name)
}

// Call runs one network step: every attempt first waits for admission, then
// op runs; failures are retried by the executor. The final error is returned
// as op produced it.
func (b *Base) Call(ctx context.Context, tag string, op func(ctx context.Context) error) error {
	attempt := 0
	err := b.retry.Do(ctx, b.name+"."+tag, func(ctx context.Context) error {
		if attempt > 0 {
			logger.IncrementRetry(b.name)
		}
		attempt++
		if err := b.limiter.Wait(ctx, b.name, tag); err != nil {
			return retry.Permanent(err)
		}
		return op(ctx)
	})
	if err != nil {
		logger.IncrementFailure(b.name)
	}
	return err
}

// Fetch is Call for a step that produces a value.
func Fetch[T any](ctx context.Context, b *Base, tag string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, tag, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Impact is the CalculatePriceImpact shared by every variant: the book and
// the quote come from src back to back and are walked with the configured
// tolerance.
func (b *Base) Impact(ctx context.Context, src MarketSource, pair string, side models.Side, volumeQuote float64) (models.ExecutionEstimate, error) {
	return EstimateImpact(ctx, src, pair, side, volumeQuote, b.opts.LiquidityTolerance)
}

// Position is the GetPositionDetails shared by every variant.
func (b *Base) Position(ctx context.Context, src QuoteSource, filled models.FilledOrder) (models.PositionView, error) {
	quote, err := src.GetBestBidAsk(ctx, filled.Pair)
	if err != nil {
		return models.PositionView{}, err
	}
	return PositionFromFill(b.name, filled, quote), nil
}
