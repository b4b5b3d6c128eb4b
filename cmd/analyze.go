/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var analyzeSetup string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute statistics for configured setups",
	Long: `Register the setups listed in the config for their topics, then recompute
the statistics of the named setup, or of every setup with --setup all.
Stored statistics are replaced, never merged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.orch.Analyze(ctx, analyzeSetup)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No setups to analyze.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SETUP\tTOPIC\tQUESTIONS\tDISCREPANCY\tSPREAD\tREFUSAL\tFAILURE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				r.Setup.Name, r.Topic.Name, len(r.Stats.Questions),
				formatMetric(r.Stats.MeanDiscrepancy), formatMetric(r.Stats.DiscrepancySpread),
				formatMetric(r.Stats.MeanRefusalRate), formatMetric(r.Stats.MeanFailureRate))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeSetup, "setup", "all", "Setup name, or all")
}
