package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmorriss/tradegate/ledger"
	"github.com/rmorriss/tradegate/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger state and monthly statistics",
	Long: `Print the active month's trading statistics from the ledger, and
optionally a prior month from the archive.

Example:
  tradegate status -f config.yaml
  tradegate status -f config.yaml --month 2025-09`,
	RunE: runStatus,
}

var statusMonth string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusMonth, "month", "", "archived month to show (YYYY-MM)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lgr, err := ledger.Open(store.NewFile(cfg.State.Path))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	if statusMonth != "" {
		summary, ok := lgr.ArchivedStats(statusMonth)
		if !ok {
			return fmt.Errorf("no archived ledger for %s", statusMonth)
		}
		printSummary(summary)
		return nil
	}

	printSummary(lgr.Stats())

	if months := lgr.ArchivedMonths(); len(months) > 0 {
		fmt.Println("\nArchived months:")
		for _, m := range months {
			s, _ := lgr.ArchivedStats(m)
			fmt.Printf("  %s: %d trades, P&L $%.2f\n", m, s.TotalTrades, s.TotalPL)
		}
	}
	return nil
}

func printSummary(s ledger.Summary) {
	if s.Month == "" {
		fmt.Println("No trading activity recorded yet.")
		return
	}

	fmt.Printf("Month: %s\n", s.Month)
	fmt.Printf("  Opening balance:  $%.2f\n", s.InitialBalance)
	fmt.Printf("  Trades:           %d (%d open, %d closed)\n", s.TotalTrades, s.OpenTrades, s.ClosedTrades)
	fmt.Printf("  Wins / Losses:    %d / %d", s.Wins, s.Losses)
	if s.ClosedTrades > 0 {
		fmt.Printf(" (%.1f%% win rate)", s.WinRate)
	}
	fmt.Println()
	fmt.Printf("  Realized P&L:     $%.2f\n", s.TotalPL)
	fmt.Printf("  Cumulative loss:  $%.2f\n", s.CumulativeLoss)
}
