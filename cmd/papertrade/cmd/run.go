package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/desk"
	"github.com/rustyeddy/papertrade/feed"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/market"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the market simulator from a config file",
	Long: `Start the quote feed and the execution desk with settings from a
configuration file, and run until interrupted.

Example:
  papertrade run -f simulator.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "file", "f", "", "path to config file (YAML or JSON)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if runConfigPath != "" {
		var err error
		cfg, err = config.LoadFromFile(runConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	var j journal.Journal
	if cfg.Journal.Type == "sqlite" {
		sj, err := journal.NewSQLite(cfg.Journal.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		j = sj
	} else {
		j = journal.NewMemory()
	}
	defer j.Close()

	interval, err := cfg.Feed.ParseInterval()
	if err != nil {
		return fmt.Errorf("feed interval: %w", err)
	}

	bus := feed.NewBus(feed.BusConfig{
		Instruments: cfg.MarketInstruments(),
		Generator:   feed.NewGenerator(nil, cfg.Feed.DriftBias),
		Interval:    interval,
		HistoryCap:  cfg.Feed.HistoryCap,
	})

	d := desk.New(desk.Config{
		Quotes:   bus,
		Journal:  j,
		FeeRate:  decimal.NewFromFloat(cfg.Desk.FeeRate),
		Currency: cfg.Desk.Currency,
	})

	for _, acct := range cfg.Accounts {
		if _, err := d.Deposit(acct.UserID, acct.Currency, decimal.NewFromFloat(acct.Balance)); err != nil {
			return fmt.Errorf("seed account %s: %w", acct.UserID, err)
		}
		log.WithFields(log.Fields{
			"user":    acct.UserID,
			"balance": acct.Balance,
		}).Info("account seeded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(ctx)
	defer bus.Stop()

	unsubscribe := bus.Subscribe(feed.TopicAll, func(q market.Quote) {
		log.WithFields(log.Fields{
			"instrument": q.Instrument,
			"price":      q.Price,
			"delta_pct":  fmt.Sprintf("%.3f", q.PercentDelta),
		}).Debug("quote")
	})
	defer unsubscribe()

	log.WithFields(log.Fields{
		"instruments": len(cfg.Instruments),
		"interval":    interval,
	}).Info("papertrade running, ctrl-c to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	return nil
}
