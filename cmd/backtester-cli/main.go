package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.2.0"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Global flags.
var (
	remote     string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "backtester-cli",
	Short: "Backtest rule-based strategies on daily bars",
	Long: `backtester-cli runs single backtests, batches over symbol lists and
parameter grid searches, either in-process against the local price store
or against a running backtester-server (--remote http://host:8080 or
--remote grpc://host:9090).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&remote, "remote", os.Getenv("BACKTESTER_REMOTE"), "server to run against (http(s)://host:port or grpc://host:port); empty runs locally")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging for local runs")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON instead of tables")

	rootCmd.AddCommand(
		newRunCmd(),
		newBatchCmd(),
		newBrowseCmd(),
		newOptimizeCmd(),
		newStrategiesCmd(),
		newReportCmd(),
		newRunsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the CLI version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(stdout, "backtester-cli %s\n", version)
			},
		},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.SetFlags(0)
		log.Fatalf("error: %v", err)
	}
}

// withBackend opens the backend for the current flags and closes it after
// fn returns.
func withBackend(fn func(b backend) error) error {
	b, err := openBackend(remote)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
