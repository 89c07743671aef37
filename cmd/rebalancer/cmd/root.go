package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rebalancer",
	Short: "Rebalance a multi-model ETF portfolio against a brokerage account",
	Long: `Rebalancer blends named model portfolios into one target allocation,
compares it against live holdings, and emits a sequenced, risk-bounded set
of orders: an optional currency-funding trade, then sells, then buys, each
priced against the live bid/ask spread.

Hard safety limits apply throughout: no accidental leverage, no crossing
far through the spread, and no live orders without explicit opt-in.`,
}

var (
	flagPaper   bool
	flagLive    bool
	flagYes     bool
	flagDryRun  bool
	flagVerbose bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagPaper, "paper", true, "use the paper trading environment")
	rootCmd.PersistentFlags().BoolVar(&flagLive, "live", false, "use the live trading environment")
	rootCmd.PersistentFlags().BoolVar(&flagYes, "yes", false, "assume yes for all confirmations")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "simulate actions without side effects")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// newLogger builds the process logger; components tag their own copies.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
