package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restaurant-sync/internal/app/gateway"
	"restaurant-sync/internal/app/kitchen"
	"restaurant-sync/internal/app/order"
	"restaurant-sync/internal/app/tracking"
	"restaurant-sync/internal/common/config"
	"restaurant-sync/internal/common/logger"
)

func main() {
	mode := flag.String("mode", "", "order-service | kitchen-display | tracking-service | gateway")
	cfgPath := flag.String("config", "", "path to YAML config (defaults to config.yaml)")
	port := flag.Int("port", 0, "http port")
	tableID := flag.Int64("table", 0, "tracking-service: table id to follow")
	flag.Parse()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	path := *cfgPath
	if path == "" {
		found, err := config.FindConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, "no config.yaml found; pass --config")
			os.Exit(2)
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": path})
		os.Exit(1)
	}

	switch *mode {
	case "order-service":
		if *port == 0 {
			*port = 3000
		}
		lg.Info("service_started", map[string]any{"service": "order-service", "port": *port})
		if err := order.Run(ctx, cfg, *port); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "kitchen-display":
		if *port == 0 {
			*port = 3001
		}
		lg.Info("service_started", map[string]any{"service": "kitchen-display", "port": *port})
		if err := kitchen.Run(ctx, cfg, *port); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "tracking-service":
		if *port == 0 {
			*port = 3002
		}
		if *tableID == 0 {
			fmt.Fprintln(os.Stderr, "--table is required for tracking-service")
			os.Exit(2)
		}
		lg.Info("service_started", map[string]any{"service": "tracking-service", "port": *port, "table_id": *tableID})
		if err := tracking.Run(ctx, cfg, *port, *tableID); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "gateway":
		if *port == 0 {
			*port = 3003
		}
		lg.Info("service_started", map[string]any{"service": "gateway", "port": *port})
		if err := gateway.Run(ctx, cfg, *port); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: order-service | kitchen-display | tracking-service | gateway")
		os.Exit(2)
	}
}
