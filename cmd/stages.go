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

// stage wraps a single pipeline step in a command with the run flags.
func stage(use, short string, fn func(ctx context.Context, a *app) error) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a)
		},
	}
	addRunFlags(c)
	return c
}

var prepareCmd = stage("prepare", "Load <resources>/<topic>.json into questions",
	func(ctx context.Context, a *app) error {
		topic, err := a.orch.Prepare(ctx, params)
		if err != nil {
			return err
		}
		questions, err := a.store.ListQuestions(ctx, topic.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Topic %s has %d questions\n", topic.Name, len(questions))
		return nil
	})

var translatePromptsCmd = stage("translate-prompts", "Translate questions into every configured language",
	func(ctx context.Context, a *app) error {
		return a.orch.TranslatePrompts(ctx, params)
	})

var queryCmd = stage("query", "Ask the model every question in every language",
	func(ctx context.Context, a *app) error {
		n, err := a.orch.QueryLLMs(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %d new answers\n", n)
		return nil
	})

var translateAnswersCmd = stage("translate-answers", "Back-translate answers for review",
	func(ctx context.Context, a *app) error {
		n, err := a.orch.TranslateAnswers(ctx, params)
		if err != nil {
			return err
		}
		fmt.Printf("Translated %d answers\n", n)
		return nil
	})

func init() {
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(translatePromptsCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(translateAnswersCmd)
}
