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

	"github.com/valpere/llmvalues/internal/languages"
	"github.com/valpere/llmvalues/internal/store"
)

var cacheListLimit int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the translation memo",
	Long: `List, inspect and clear memoised translations. With the redis cache
backend, stats and clear act on the redis keys as well.`,
}

func openRedisMemo() (*store.RedisMemo, error) {
	if cfg.Cache.Backend != "redis" {
		return nil, nil
	}
	rm, err := store.NewRedisMemo(cfg.Cache.RedisURL, cfg.Cache.RedisTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure redis: %w", err)
	}
	return rm, nil
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memoised translations, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListMemo(context.Background(), cacheListLimit)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No entries in translation memo.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tMODEL\tUSED\tLAST USED\tTEXT")
		for _, e := range entries {
			text := e.SourceText
			if r := []rune(text); len(r) > 40 {
				text = string(r[:37]) + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				e.TargetLang, e.Model, e.UsageCount,
				e.LastUsed.Format("2006-01-02 15:04"), text)
		}
		return w.Flush()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show translation memo statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.MemoStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total entries:   %d\n", stats.TotalEntries)
		fmt.Printf("Total usage:     %d\n", stats.TotalUsage)
		fmt.Printf("Languages:       %d\n", stats.Languages)
		fmt.Printf("Format prompts:  %d\n", stats.Formats)

		rm, err := openRedisMemo()
		if err != nil || rm == nil {
			return err
		}
		defer rm.Close()
		n, err := rm.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count redis entries: %w", err)
		}
		fmt.Printf("Redis entries:   %d\n", n)
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <language>",
	Short: "Delete every memoised translation into a language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, err := languages.Canonical(args[0])
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.DeleteMemoLanguage(context.Background(), lang)
		if err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		fmt.Printf("Deleted %d %s entries.\n", n, lang)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all memoised translations and format prompts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearMemo(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries from translation memo.\n", n)

		rm, err := openRedisMemo()
		if err != nil || rm == nil {
			return err
		}
		defer rm.Close()
		n, err = rm.Clear(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear redis: %w", err)
		}
		fmt.Printf("Cleared %d redis entries.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheListCmd.Flags().IntVar(&cacheListLimit, "limit", 50, "Maximum entries to list, 0 for all")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
