package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pricewatch/internal/app"
)

func main() {
	var cfgPath, seedPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.StringVar(&seedPath, "seed", "", "optional yaml file of catalog items to upsert before starting")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if seedPath != "" {
		items, err := app.LoadSeed(seedPath)
		if err == nil {
			err = a.Seed(ctx, items)
		}
		if err != nil {
			fmt.Println("fatal seed:", err)
			_ = a.Stop(context.Background())
			os.Exit(1)
		}
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
