package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tinycron/internal/app"
)

func main() {
	var (
		cfgPath string
		once    bool
		check   bool
		next    int
		history int
	)
	flag.StringVar(&cfgPath, "config", "./tinycron.yaml", "path to config file (json or yaml)")
	flag.BoolVar(&once, "once", false, "run setup, one run and teardown, then exit")
	flag.BoolVar(&check, "check", false, "validate the config and print the parsed schedule")
	flag.IntVar(&next, "next", 5, "with -check: number of upcoming triggers to print")
	flag.IntVar(&history, "history", 0, "print the newest N journal records and exit")
	flag.Parse()

	// Shutdown signals are handled by the runner itself; it drains in-flight
	// runs and always runs teardown.
	ctx := context.Background()

	switch {
	case check:
		if err := app.Check(ctx, cfgPath, time.Now(), next, os.Stdout); err != nil {
			fmt.Println("invalid config:", err)
			os.Exit(1)
		}
		return
	case history > 0:
		if err := app.History(ctx, cfgPath, history, os.Stdout); err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if once {
		err = a.RunOnce(ctx)
	} else {
		err = a.Run(ctx)
	}
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
