package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ClickHouse/clickhouse-go"
	"github.com/joho/godotenv"
	"github.com/milkywaybrain/tickvault/internal/config"
	"github.com/milkywaybrain/tickvault/internal/initializer"
)

func main() {

	// Stream directories may refer to environment variables, which can also be given in a .env file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Println("Not able to load .env file :", err)
	}

	// Load config file values.
	// Default path for file is ./config.json.
	cfgPath := flag.String("config", "./config.json", "configuration JSON file path")
	flag.Parse()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println(err)
		fmt.Println("exiting the app")
		os.Exit(1)
	}

	// Watchers unload their streams on interrupt, flushing any buffered ticks.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the app.
	err = initializer.Start(ctx, cfg)
	if err != nil && ctx.Err() == nil {
		fmt.Println(err)
		fmt.Println("exiting the app")
		stop()
		os.Exit(1)
	}
}
