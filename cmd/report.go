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
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/markdown"
	"github.com/valpere/llmvalues/internal/stats"
)

var (
	reportSetup  string
	reportTopic  string
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render stored setup statistics as markdown, HTML or text",
	Long: `Render the statistics last computed by "analyze" or "run". Nothing is
recomputed; run "analyze" first to refresh them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		var setups []internal.Setup
		if reportTopic != "" && reportSetup != "" && reportSetup != "all" {
			topic, err := db.GetTopic(ctx, reportTopic)
			if err != nil {
				return err
			}
			su, err := db.GetSetup(ctx, topic.ID, reportSetup)
			if err != nil {
				return err
			}
			setups = append(setups, *su)
		} else if setups, err = db.ListSetups(ctx, reportSetup); err != nil {
			return err
		}

		var md strings.Builder
		rendered := 0
		for _, su := range setups {
			topic, err := db.GetTopicByID(ctx, su.TopicID)
			if err != nil {
				return err
			}
			if reportTopic != "" && topic.Name != reportTopic && topic.Filename != reportTopic {
				continue
			}

			r := markdown.Report{Topic: *topic, Setup: su}
			if len(su.Stats) > 0 {
				if r.Stats, err = stats.Unmarshal(su.Stats); err != nil {
					return fmt.Errorf("setup %s: %w", su.Name, err)
				}
			}
			if rendered > 0 {
				md.WriteString("\n---\n\n")
			}
			md.Write(r.Render())
			rendered++
		}
		if rendered == 0 {
			return fmt.Errorf("no setups match %q", reportSetup)
		}

		var out string
		switch reportFormat {
		case "md", "markdown":
			out = md.String()
		case "html":
			out = markdown.ToHTML([]byte(md.String()))
		case "text":
			out = markdown.ToPlainText([]byte(md.String()))
		default:
			return fmt.Errorf("unknown format %q (md, html, text)", reportFormat)
		}

		if reportOutput == "" || reportOutput == "-" {
			_, err = fmt.Print(out)
			return err
		}
		if err := os.WriteFile(reportOutput, []byte(out), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d setups to %s\n", rendered, reportOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportSetup, "setup", "all", "Setup name, or all")
	reportCmd.Flags().StringVar(&reportTopic, "topic", "", "Only setups of this topic")
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "md", "Output format: md, html, text")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Output file (default stdout)")
}
