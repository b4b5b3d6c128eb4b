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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/llmvalues/internal/languages"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported language names and mark the configured ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		configured := make(map[string]bool, len(cfg.Languages))
		for _, l := range cfg.Languages {
			configured[l] = true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANGUAGE\tCODE\tCONFIGURED")
		for _, name := range languages.Supported() {
			code, _ := languages.ISO(name)
			mark := ""
			if configured[name] {
				mark = "yes"
			}
			if name == cfg.SourceLanguage {
				mark = "source"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, code, mark)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}
