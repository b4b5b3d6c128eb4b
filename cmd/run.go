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
	"os/signal"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pipeline stage for one topic and configuration",
	Long: `Prepare questions, translate them, query the model, back-translate the
answers and compute statistics. Stages that already stored their output are
skipped, so an interrupted run can simply be started again.

The estimated cost is checked against --budget before translation, querying
and answer translation. Over budget, the run asks for confirmation on a
terminal and aborts otherwise, unless --yes is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.orch.Run(ctx, params)
		if err != nil {
			return err
		}

		fmt.Printf("Setup:              %s\n", params.SetupName())
		fmt.Printf("Questions analyzed: %d\n", len(s.Questions))
		fmt.Printf("Mean discrepancy:   %s\n", formatMetric(s.MeanDiscrepancy))
		fmt.Printf("Discrepancy spread: %s\n", formatMetric(s.DiscrepancySpread))
		fmt.Printf("Refusal rate:       %s\n", formatMetric(s.MeanRefusalRate))
		fmt.Printf("Failure rate:       %s\n", formatMetric(s.MeanFailureRate))
		return nil
	},
}

func formatMetric(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", *v)
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}
