// Command runcore runs the agent-orchestration core: RunEngine, LLMGateway,
// the cost ledger, and budget enforcement, behind a narrow health/metrics
// HTTP surface. Structured as a cobra root with serve/migrate/seed-pricing
// subcommands, mirroring Kelpejol-consonant-engine's beam-cli root command
// (persistent flags, SilenceUsage/SilenceErrors, a PersistentPreRunE that
// wires shared state) generalized from a balance-ledger CLI to runcore's own
// admin surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "runcore",
		Short:         "runcore orchestrates multi-step LLM agent runs with cost accounting",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", getEnv("CONFIG_FILE", ""), "path to a YAML config file (optional)")
	root.PersistentFlags().StringVar(&envFile, "env-file", getEnv("ENV_FILE", ".env"), "path to a .env file to load before reading configuration")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedPricingCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "runcore: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
