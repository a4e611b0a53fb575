package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fxdesk/api"
	"fxdesk/internal/config"
	"fxdesk/pkg/market"
	"fxdesk/pkg/portfolio"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fxdesk",
		Short: "FX paper-trading desk",
		Long:  `A paper-trading desk that streams live FX prices with automatic simulated fallback and maintains a portfolio ledger`,
		Run:   runDesk,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runDesk(cmd *cobra.Command, args []string) {
	// Local development credentials, ignored when absent
	_ = godotenv.Load()

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	// Build the instrument registry
	registry, err := cfg.Registry()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build instrument registry")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the market data feed
	feed, err := market.NewFeed(market.Config{
		URL:                  cfg.Feed.URL,
		Token:                cfg.Feed.Token,
		AuthType:             market.AuthType(cfg.Feed.AuthType),
		APIKeyName:           cfg.Feed.APIKeyName,
		PrivateKeyPEM:        cfg.Feed.PrivateKeyPEM,
		MaxReconnectAttempts: cfg.Feed.MaxReconnects,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay(),
		SimInterval:          cfg.Feed.SimInterval(),
	}, registry, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create market data feed")
	}

	// Create the portfolio ledger
	ledger := portfolio.NewLedger(decimal.NewFromFloat(cfg.Portfolio.StartingCash))

	// Start the feed and wire the streaming hub to every instrument
	feed.Start()

	hub := api.NewHub(logger)
	go hub.Run(ctx)
	for _, symbol := range registry.Symbols() {
		feed.Subscribe(symbol, hub)
	}

	// Start API server
	apiServer := api.NewServer(feed, ledger, registry, hub, logger,
		cfg.Server.Port, cfg.Server.OrderRateLimit, cfg.Server.OrderRateBurst)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("fxdesk is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	feed.Stop()
	cancel()

	logger.Info("fxdesk stopped")
}
