package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchangehub/config"
	"exchangehub/internal/app"
	"exchangehub/logger"
	"exchangehub/processor"
)

func main() {
	log := logger.GetLogger()
	app.LoadEnv(log)

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	pair := flag.String("pair", "", "Universal pair (defaults to perf.pair)")
	iterations := flag.Int("iterations", 0, "Rounds to run (defaults to perf.iterations)")
	orders := flag.String("orders", "", "Exchange to run a live place/cancel cycle on; empty skips it")
	quantity := flag.Float64("quantity", 0.0001, "Order quantity for the place/cancel cycle")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{ConfigPath: *configPath})
	if err != nil {
		log.WithError(err).Error("failed to start")
		os.Exit(1)
	}
	if *pair == "" {
		*pair = a.Config.Perf.Pair
	}
	if *iterations <= 0 {
		*iterations = a.Config.Perf.Iterations
	}

	a.Engine.Benchmark(ctx, *pair, *iterations)

	if *orders == "" {
		return
	}
	conn, ok := a.Engine.Connector(*orders)
	if !ok {
		a.Log.WithFields(logger.Fields{"exchange": *orders}).Error("connector not found or not configured")
		os.Exit(1)
	}
	processor.OrderCycle(ctx, conn, processor.OrderCycleConfig{
		Pair:       *pair,
		Iterations: *iterations,
		Quantity:   *quantity,
		Pause:      500 * time.Millisecond,
	}, a.Log)
}
