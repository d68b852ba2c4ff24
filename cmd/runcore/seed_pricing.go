package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/runcore-labs/runcore/pkg/pricing"
)

// seedPricingCmd validates an operator-supplied pricing catalog overlay
// against the embedded default catalog and prints the resulting merged
// table, so an operator can confirm an overlay parses and merges as
// expected before pointing a running server at it via the
// cost.pricing_catalog_file config setting.
func seedPricingCmd() *cobra.Command {
	var overlayFile string

	cmd := &cobra.Command{
		Use:   "seed-pricing",
		Short: "validate a pricing catalog overlay and print the merged table",
		RunE: func(cmd *cobra.Command, args []string) error {
			var overlay []byte
			if overlayFile != "" {
				data, err := readFileBestEffort(overlayFile)
				if err != nil {
					return fmt.Errorf("read overlay file: %w", err)
				}
				overlay = data
			}

			registry, err := pricing.NewRegistry(pricing.ModeFailClosed, overlay)
			if err != nil {
				return err
			}

			prices := registry.GetAllPrices()
			keys := make([]string, 0, len(prices))
			for k := range prices {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				entry := prices[k]
				cmd.Printf("%-50s input=%.6f output=%.6f %s (effective %s)\n",
					k, entry.InputPrice, entry.OutputPrice, entry.Currency, entry.EffectiveDate)
			}
			cmd.Printf("%d pricing entries\n", len(keys))
			return nil
		},
	}
	cmd.Flags().StringVar(&overlayFile, "file", "", "path to a JSON pricing catalog overlay (optional)")
	return cmd
}
