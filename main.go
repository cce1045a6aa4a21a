package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"exchangehub/config"
	"exchangehub/internal/app"
	"exchangehub/logger"
	"exchangehub/models"
	"exchangehub/processor"
	"exchangehub/writer"
)

func main() {
	log := logger.GetLogger()
	app.LoadEnv(log)

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	shardPath := flag.String("shards", "", "Path to IP shard configuration file")
	mode := flag.String("mode", "quote", "quote | funding | impact | capture")
	pair := flag.String("pair", "", "Universal pair, e.g. BTC/USDT (defaults to the config value)")
	sideFlag := flag.String("side", "", "buy | sell, for impact mode")
	volume := flag.Float64("volume", 0, "Quote volume, for impact mode")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{ConfigPath: *configPath, ShardPath: *shardPath})
	if err != nil {
		log.WithError(err).Error("failed to start")
		os.Exit(1)
	}
	log = a.Log

	if *pair == "" {
		*pair = a.Config.Perf.Pair
	}

	var out any
	switch strings.ToLower(*mode) {
	case "quote":
		q := a.Engine.FindBestCrossExchangeBidAsk(ctx, *pair)
		if q.NoConnectors {
			log.WithComponent("main").Warn("no exchange connectors configured")
		}
		if pct, ok := q.SpreadPercent(); ok {
			log.WithComponent("main").WithFields(logger.Fields{
				"best_bid":       q.BestBid.Price,
				"best_bid_venue": q.BestBid.Exchange,
				"best_ask":       q.BestAsk.Price,
				"best_ask_venue": q.BestAsk.Exchange,
				"spread_percent": pct,
			}).Info("cross-exchange quote")
		}
		out = q
	case "funding":
		out = a.Engine.CompareFunding(ctx, *pair)
	case "impact":
		side := a.Config.Perf.Side
		if *sideFlag != "" {
			side = *sideFlag
		}
		s, err := models.ParseSide(side)
		if err != nil {
			log.WithError(err).Error("invalid side")
			os.Exit(2)
		}
		v := a.Config.Perf.Volume
		if *volume > 0 {
			v = *volume
		}
		out = a.Engine.ComparePriceImpact(ctx, *pair, s, v)
	case "capture":
		location, err := runCapture(ctx, a, *pair)
		if err != nil {
			log.WithError(err).Error("capture failed")
			os.Exit(1)
		}
		out = map[string]string{"location": location}
	default:
		log.WithFields(logger.Fields{"mode": *mode}).Error("unknown mode")
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.WithError(err).Error("failed to print result")
		os.Exit(1)
	}
}

func runCapture(ctx context.Context, a *app.App, pair string) (string, error) {
	cfg := a.Config.Capture
	if pair == "" {
		pair = cfg.Pair
	}
	conn, ok := a.Engine.Connector(cfg.Exchange)
	if !ok {
		return "", fmt.Errorf("connector for %q not found or not configured", cfg.Exchange)
	}
	capture, err := processor.NewCapture(conn, pair, cfg.Interval, cfg.Duration, a.Log)
	if err != nil {
		return "", err
	}
	batch := capture.Run(ctx)

	var sink writer.Sink = writer.LocalSink{Root: cfg.OutputDir}
	if a.Config.Storage.S3.Enabled {
		s3Sink, err := writer.NewS3Sink(context.WithoutCancel(ctx), a.Config.Storage.S3, a.Log)
		if err != nil {
			return "", err
		}
		sink = s3Sink
	}
	w := writer.NewSnapshotWriter(sink, cfg.Compression, a.Log).WithManifest(writer.NewManifest(sink))
	return w.Write(context.WithoutCancel(ctx), batch)
}
