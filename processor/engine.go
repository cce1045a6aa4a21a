package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/iter"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/connector/exchanges"
	"exchangehub/logger"
	"exchangehub/models"
)

// Engine fans one question out to every loaded connector and reduces the
// answers. A failing exchange is reported in the result and never fails the
// whole query.
type Engine struct {
	connectors []connector.Connector
	log        *logger.Log
}

// NewEngine opens a connector for every exchange in load order that has a
// complete credential set and is not disabled. Exchanges that cannot be
// opened are logged and skipped; an engine with no connectors is valid.
func NewEngine(creds map[string]config.Credentials, deps connector.Deps, cfg *config.Config) *Engine {
	log := logger.OrDefault(deps.Log)
	deps.Log = log
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	e := &Engine{log: log}
	entry := log.WithComponent("engine")

	for _, name := range exchanges.Order {
		ex := cfg.Exchange(name)
		if ex.Disabled {
			entry.WithExchange(name).Info("exchange disabled in config")
			continue
		}
		c, ok := creds[name]
		if !ok {
			entry.WithExchange(name).Warn("no credentials, exchange skipped")
			continue
		}
		conn, err := connector.Open(c, deps, ex)
		if err != nil {
			entry.WithExchange(name).WithError(err).Warn("failed to open connector, exchange skipped")
			continue
		}
		e.connectors = append(e.connectors, conn)
	}

	entry.WithFields(logger.Fields{"connectors": e.Connectors()}).Info("aggregation engine ready")
	return e
}

// NewEngineWith builds an engine over already constructed connectors,
// keeping their order.
func NewEngineWith(log *logger.Log, connectors ...connector.Connector) *Engine {
	return &Engine{
		connectors: append([]connector.Connector(nil), connectors...),
		log:        logger.OrDefault(log),
	}
}

// Connectors returns the loaded exchange names in load order.
func (e *Engine) Connectors() []string {
	names := make([]string, 0, len(e.connectors))
	for _, c := range e.connectors {
		names = append(names, c.Name())
	}
	return names
}

// Connector looks a loaded connector up by exchange name.
func (e *Engine) Connector(name string) (connector.Connector, bool) {
	name = strings.ToLower(name)
	for _, c := range e.connectors {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

type outcome[T any] struct {
	exchange string
	value    T
	err      error
}

// fanOut calls every connector concurrently and returns one outcome per
// connector, in load order. A panicking call is turned into that
// connector's error.
func fanOut[T any](ctx context.Context, e *Engine, op string, call func(context.Context, connector.Connector) (T, error)) []outcome[T] {
	start := time.Now()
	mapper := iter.Mapper[connector.Connector, outcome[T]]{MaxGoroutines: len(e.connectors)}
	results := mapper.Map(e.connectors, func(c *connector.Connector) (o outcome[T]) {
		conn := *c
		o.exchange = conn.Name()
		defer func() {
			if r := recover(); r != nil {
				o.err = fmt.Errorf("panic: %v", r)
			}
		}()
		o.value, o.err = call(ctx, conn)
		return o
	})

	failed := 0
	entry := e.log.WithComponent("engine")
	for _, r := range results {
		if r.err != nil {
			failed++
			entry.WithError(r.err).WithFields(logger.Fields{
				"exchange":  r.exchange,
				"operation": op,
			}).Warn("exchange call failed")
		}
	}
	logger.LogPerformanceEntry(entry, "engine", op, time.Since(start), logger.Fields{
		"connectors": len(results),
		"failed":     failed,
	})
	return results
}

func fetchError(exchange string, err error) string {
	return fmt.Sprintf("error fetching data from %s: %v", exchange, err)
}

// FindBestCrossExchangeBidAsk asks every exchange for its best bid and ask
// and keeps the highest bid and the lowest ask. On a tie the exchange loaded
// first wins. It never fails: per-exchange errors are listed in the result.
func (e *Engine) FindBestCrossExchangeBidAsk(ctx context.Context, pair string) models.CrossExchangeQuote {
	result := models.CrossExchangeQuote{Pair: pair, Errors: []string{}}
	if len(e.connectors) == 0 {
		result.NoConnectors = true
		return result
	}

	outcomes := fanOut(ctx, e, "best_bid_ask", func(ctx context.Context, c connector.Connector) (models.Quote, error) {
		return c.GetBestBidAsk(ctx, pair)
	})
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, fetchError(o.exchange, o.err))
			continue
		}
		if result.BestBid == nil || o.value.Bid > result.BestBid.Price {
			result.BestBid = &models.VenuePrice{Exchange: o.exchange, Price: o.value.Bid}
		}
		if result.BestAsk == nil || o.value.Ask < result.BestAsk.Price {
			result.BestAsk = &models.VenuePrice{Exchange: o.exchange, Price: o.value.Ask}
		}
	}
	return result
}

// CompareFunding collects funding rates and their annualised value from
// every exchange, in load order.
func (e *Engine) CompareFunding(ctx context.Context, pair string) models.FundingComparison {
	result := models.FundingComparison{Pair: pair, Rates: []models.VenueFunding{}, Errors: []string{}}
	if len(e.connectors) == 0 {
		return result
	}

	outcomes := fanOut(ctx, e, "funding_rates", func(ctx context.Context, c connector.Connector) (models.FundingRate, error) {
		return c.GetFundingRates(ctx, pair)
	})
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, fetchError(o.exchange, o.err))
			continue
		}
		apr, err := o.value.APR()
		if err != nil {
			result.Errors = append(result.Errors, fetchError(o.exchange, err))
			continue
		}
		result.Rates = append(result.Rates, models.VenueFunding{Exchange: o.exchange, Rate: o.value, APR: apr})
	}
	return result
}

// ComparePriceImpact estimates a market order of volumeQuote on every
// exchange. Estimates are ordered best first: cheapest average price for a
// buy, richest for a sell. Equal prices keep load order.
func (e *Engine) ComparePriceImpact(ctx context.Context, pair string, side models.Side, volumeQuote float64) models.ImpactComparison {
	result := models.ImpactComparison{
		Pair:      pair,
		Side:      side,
		Volume:    volumeQuote,
		Estimates: []models.VenueImpact{},
		Errors:    []string{},
	}
	if len(e.connectors) == 0 {
		return result
	}

	outcomes := fanOut(ctx, e, "price_impact", func(ctx context.Context, c connector.Connector) (models.ExecutionEstimate, error) {
		return c.CalculatePriceImpact(ctx, pair, side, volumeQuote)
	})
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, fetchError(o.exchange, o.err))
			continue
		}
		result.Estimates = append(result.Estimates, models.VenueImpact{Exchange: o.exchange, Estimate: o.value})
	}

	sort.SliceStable(result.Estimates, func(i, j int) bool {
		a := result.Estimates[i].Estimate.AverageExecutionPrice
		b := result.Estimates[j].Estimate.AverageExecutionPrice
		if side == models.Sell {
			return a > b
		}
		return a < b
	})
	return result
}
