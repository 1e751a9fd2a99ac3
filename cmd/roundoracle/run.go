package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/roundoracle/internal/chain"
	"github.com/rewired-gh/roundoracle/internal/config"
	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/metrics"
	"github.com/rewired-gh/roundoracle/internal/oracle"
	"github.com/rewired-gh/roundoracle/internal/pricefeed"
	"github.com/rewired-gh/roundoracle/internal/storage"
	"github.com/rewired-gh/roundoracle/internal/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the settlement loop until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contract, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		PrivateKey:      cfg.Chain.PrivateKey,
		ChainID:         cfg.Chain.ChainID,
		ABIPath:         cfg.Chain.ABIPath,
		ConfirmTimeout:  cfg.Chain.ConfirmTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer contract.Close()

	bal, err := contract.SenderBalance(ctx)
	if err != nil {
		return fmt.Errorf("signer unavailable: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"contract": contract.Address().Hex(),
		"sender":   contract.Sender().Hex(),
		"balance":  decimal.NewFromBigInt(bal, -18).StringFixed(6),
	}).Info("Chain client ready")

	observers := oracle.Observers{}

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxSettlements, cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		observers = append(observers, store)
	} else {
		logger.Debug("Settlement journal disabled")
	}

	if cfg.Metrics.Enabled {
		observers = append(observers, metrics.Recorder{})
	}

	var telegramClient *telegram.Client
	var notifier *telegram.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		if store != nil {
			telegramClient.SetStatusFunc(statusFunc(store))
		}
		notifier = telegram.NewNotifier(telegramClient, cfg.Telegram.NotifySettlements)
		observers = append(observers, notifier)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	feed := pricefeed.NewClient(cfg.PriceFeed.APIURL, cfg.PriceFeed.Timeout)
	sched := oracle.New(contract, feed, oracle.SystemClock{}, observers, oracle.Config{
		Symbol:           cfg.PriceFeed.Symbol,
		MaxFetchAttempts: cfg.Oracle.MaxFetchAttempts,
		RetryDelay:       cfg.Oracle.RetryDelay,
		LoopDelay:        cfg.Oracle.LoopDelay,
	})

	var helpers []func(context.Context) error
	if telegramClient != nil {
		helpers = append(helpers, func(ctx context.Context) error {
			telegramClient.ListenForCommands(ctx)
			return notifier.Run(ctx)
		})
	}
	if cfg.Metrics.Enabled {
		helpers = append(helpers, func(ctx context.Context) error {
			return metrics.Serve(ctx, cfg.Metrics.ListenAddr)
		})
	}

	logger.Info("Starting oracle for %s (attempts: %d, retry delay: %v, loop delay: %v)",
		cfg.PriceFeed.Symbol, cfg.Oracle.MaxFetchAttempts, cfg.Oracle.RetryDelay, cfg.Oracle.LoopDelay)

	alert := func(err error) {
		if telegramClient == nil {
			return
		}
		if sendErr := telegramClient.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
		}
	}
	if err := supervise(ctx, sched.Run, helpers, alert); err != nil {
		return err
	}

	logger.Info("Service stopped")
	return nil
}

// supervise runs the settlement loop next to its helpers. A helper error or
// a fatal loop error stops everything; a clean loop exit releases the
// helpers. alert sees the fatal error only after every goroutine returned,
// so queued notifications are flushed first.
func supervise(ctx context.Context, loop func(context.Context) error, helpers []func(context.Context) error, alert func(error)) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range helpers {
		h := h
		g.Go(func() error { return h(gctx) })
	}
	g.Go(func() error {
		if err := loop(gctx); err != nil {
			return err
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Oracle stopped: %v", err)
		if alert != nil {
			alert(err)
		}
		return err
	}
	return nil
}

func statusFunc(store *storage.Storage) telegram.StatusFunc {
	return func() string {
		last, err := store.LastSettlement()
		if err != nil {
			return fmt.Sprintf("Status unavailable: %v", err)
		}
		if last == nil {
			return "No settlements yet"
		}
		return fmt.Sprintf("Last settlement: round %d, %s %s, %s at %s",
			last.RoundID, last.Symbol, decimal.New(last.FixedPoint, -2).StringFixed(2),
			last.Status, last.SubmittedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
}
