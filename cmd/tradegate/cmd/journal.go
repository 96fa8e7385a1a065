package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmorriss/tradegate/journal"
	"github.com/rmorriss/tradegate/ledger"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite trade journal",
	Long: `Query mirrored trade records from the SQLite journal.

Subcommands:
  trade  - Show one trade by id
  month  - List a month's trades

Examples:
  tradegate journal trade 01JD2X... -d state/journal.db
  tradegate journal month 2025-10 -d state/journal.db`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Show one trade by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalMonthCmd = &cobra.Command{
	Use:   "month <YYYY-MM>",
	Short: "List a month's trades",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalMonth,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalMonthCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "state/journal.db", "path to SQLite journal")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	rec, err := j.Trade(args[0])
	if err != nil {
		return err
	}
	printTrade(rec)
	return nil
}

func runJournalMonth(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	trades, err := j.TradesForMonth(args[0])
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Printf("No trades recorded for %s\n", args[0])
		return nil
	}

	for _, rec := range trades {
		printTrade(rec)
		fmt.Println()
	}
	return nil
}

func printTrade(rec ledger.TradeRecord) {
	fmt.Printf("%s  %s %s\n", rec.ID, rec.Direction, rec.Instrument)
	fmt.Printf("  Opened:  %s @ %.4f (qty %.6f, %dx, risk $%.2f)\n",
		rec.Timestamp.Format("2006-01-02 15:04"), rec.EntryPrice, rec.Quantity, rec.Leverage, rec.RiskUSD)
	fmt.Printf("  Stop/Target: %.4f / %.4f\n", rec.StopPrice, rec.TargetPrice)
	if rec.Open() {
		fmt.Println("  Status:  open")
		return
	}
	closed := ""
	if rec.ClosedAt != nil {
		closed = rec.ClosedAt.Format("2006-01-02 15:04")
	}
	fmt.Printf("  Closed:  %s @ %.4f\n", closed, rec.ExitPrice)
	fmt.Printf("  P&L:     $%.2f (%.1f%% of risk)\n", rec.RealizedPL, rec.PLPercent)
}
