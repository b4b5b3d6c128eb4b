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

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List or delete stored topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List topics with their question and setup counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		topics, err := db.ListTopics(ctx)
		if err != nil {
			return fmt.Errorf("failed to list topics: %w", err)
		}
		if len(topics) == 0 {
			fmt.Println("No topics stored.")
			return nil
		}

		setups, err := db.ListSetups(ctx, "all")
		if err != nil {
			return err
		}
		perTopic := make(map[string]int, len(topics))
		for _, su := range setups {
			perTopic[su.TopicID]++
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tALIAS\tQUESTIONS\tSETUPS\tDESCRIPTION")
		for _, t := range topics {
			questions, err := db.ListQuestions(ctx, t.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", t.Name, t.Filename, len(questions), perTopic[t.ID], t.Description)
		}
		return w.Flush()
	},
}

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete <topic>",
	Short: "Delete a topic with its questions, answers and setups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		topic, err := db.GetTopic(ctx, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteTopic(ctx, topic.ID); err != nil {
			return fmt.Errorf("failed to delete topic: %w", err)
		}
		fmt.Printf("Deleted topic: %s\n", topic.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)

	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsDeleteCmd)
}
