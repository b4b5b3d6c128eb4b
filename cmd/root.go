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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valpere/llmvalues/internal/config"
	"github.com/valpere/llmvalues/internal/logging"
)

var version = "0.1.0"

var (
	configFile string
	dbOverride string
	logLevel   string

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "llmvalues",
	Short: "Cross-lingual rating pipeline for language models",
	Long: `Ask language models to rate the same statements in many languages and
measure how consistent their ratings are across languages.

Pipeline stages, each resumable on its own:
  prepare            load topic items into questions
  translate-prompts  translate questions into every language
  query              ask the model every question in every language
  translate-answers  back-translate answers for review
  analyze            compute statistics for configured setups

Use "llmvalues run" to execute all stages for one configuration.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if dbOverride != "" {
			loaded.Database = dbOverride
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
