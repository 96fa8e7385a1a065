package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmorriss/tradegate/broker"
	"github.com/rmorriss/tradegate/broker/okx"
	"github.com/rmorriss/tradegate/broker/paper"
	"github.com/rmorriss/tradegate/config"
	"github.com/rmorriss/tradegate/engine"
	"github.com/rmorriss/tradegate/journal"
	"github.com/rmorriss/tradegate/ledger"
	sig "github.com/rmorriss/tradegate/signal"
	"github.com/rmorriss/tradegate/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading coordinator loop",
	Long: `Run the coordinator: each cycle reads the signal file, pushes every
signal through the risk gate, dispatches approved trades, and records fills
in the ledger.

The signal file is a JSON object keyed by instrument, re-read every cycle,
so the decision layer can update it independently.

Example:
  tradegate run -f config.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Engine.SignalFile == "" {
		return fmt.Errorf("engine.signal_file is required to run")
	}
	log := newLogger(cfg.Log)

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(log)}
	if cfg.State.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.State.JournalPath), 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
		j, err := journal.NewSQLite(cfg.State.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(j))
	}

	lgr, err := ledger.Open(store.NewFile(cfg.State.Path), ledgerOpts...)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	interval, err := cfg.Engine.Interval()
	if err != nil {
		return err
	}

	coord := engine.New(
		riskPolicy(cfg.Risk),
		adapter,
		engine.NewDispatcher(adapter, engine.WithDispatchLogger(log)),
		lgr,
		fileSource(cfg.Engine.SignalFile),
		engine.WithInterval(interval),
		engine.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("broker", cfg.Broker.Kind).
		Str("signal_file", cfg.Engine.SignalFile).
		Dur("interval", interval).
		Msg("coordinator starting")

	err = coord.Run(ctx)
	switch {
	case errors.Is(err, engine.ErrHalted):
		return err
	case errors.Is(err, context.Canceled):
		log.Info().Msg("coordinator stopped")
		return nil
	default:
		return err
	}
}

func buildAdapter(cfg *config.Config) (broker.Adapter, error) {
	switch cfg.Broker.Kind {
	case "paper":
		return paper.New(cfg.Broker.Paper.Balance), nil
	case "okx":
		return okx.NewClient(okx.Config{
			APIKey:     cfg.Broker.OKX.APIKey,
			SecretKey:  cfg.Broker.OKX.Secret,
			Passphrase: cfg.Broker.OKX.Passphrase,
			Demo:       !cfg.Broker.OKX.Live,
			BaseURL:    cfg.Broker.OKX.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

// fileSource re-reads the signal batch file each cycle. A missing file means
// no signals this cycle, not an error.
func fileSource(path string) engine.SourceFunc {
	return func(ctx context.Context) ([]sig.Raw, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("read signal file: %w", err)
		}
		return sig.DecodeBatch(data)
	}
}
