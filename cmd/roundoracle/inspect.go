package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/roundoracle/internal/chain"
	"github.com/rewired-gh/roundoracle/internal/models"
	"github.com/rewired-gh/roundoracle/internal/oracle"
	"github.com/rewired-gh/roundoracle/internal/storage"
)

var (
	historyLimit int
	historyRound uint64
)

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Print the contract's round parameters and the current round",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		// Read-only: the signing key is not needed to inspect state.
		contract, err := chain.Dial(ctx, chain.Config{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
			ABIPath:         cfg.Chain.ABIPath,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to chain: %w", err)
		}
		defer contract.Close()

		start, err := contract.StartTime(ctx)
		if err != nil {
			return err
		}
		settings, err := contract.Settings(ctx)
		if err != nil {
			return err
		}
		roundID, err := contract.CurrentGame(ctx)
		if err != nil {
			return err
		}
		params := models.NewRoundParameters(start, settings)
		if err := params.Validate(); err != nil {
			return err
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Contract\t%s\n", contract.Address().Hex())
		fmt.Fprintf(w, "Start time\t%s\n", time.Unix(params.StartTime, 0).UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Window\t%v\n", params.Window())
		fmt.Fprintf(w, "Lockout\t%v\n", params.Lockout())
		fmt.Fprintf(w, "Free guesses per day\t%d\n", params.FreeGuessPerDay)
		fmt.Fprintf(w, "Fixed reward\t%d\n", params.FixedReward)
		fmt.Fprintf(w, "Current round\t%d\n", roundID)
		if roundID > 0 {
			fmt.Fprintf(w, "Resolves at\t%s\n", params.ResolutionTime(roundID).UTC().Format(time.RFC3339))
		}
		fmt.Fprintf(w, "Wait\t%v\n", oracle.WaitDuration(params, roundID, now))
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled settlements, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Storage.Enabled {
			return fmt.Errorf("storage is disabled")
		}
		store, err := storage.New(cfg.Storage.MaxSettlements, cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		defer store.Close()

		var round *uint64
		if cmd.Flags().Changed("round") {
			round = &historyRound
		}
		settlements, err := loadHistory(store, historyLimit, round)
		if err != nil {
			return err
		}
		return printSettlements(os.Stdout, settlements)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of settlements to list")
	historyCmd.Flags().Uint64Var(&historyRound, "round", 0, "List every submission for this round, oldest first")
}

// loadHistory lists the newest settlements, or every submission for one
// round when round is set.
func loadHistory(store *storage.Storage, limit int, round *uint64) ([]models.Settlement, error) {
	if round != nil {
		return store.SettlementsForRound(*round)
	}
	return store.ListSettlements(limit)
}

func printSettlements(out io.Writer, settlements []models.Settlement) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBMITTED\tROUND\tSYMBOL\tPRICE\tSTATUS\tTX")
	for _, s := range settlements {
		detail := s.TxHash
		if s.Status == models.SettlementFailed {
			detail = s.Error
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.SubmittedAt.UTC().Format("2006-01-02 15:04:05"),
			s.RoundID, s.Symbol, decimal.New(s.FixedPoint, -2).StringFixed(2), s.Status, detail)
	}
	return w.Flush()
}
