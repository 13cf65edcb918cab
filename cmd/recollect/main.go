// Command recollect is an operator inspection CLI over a recollect data
// directory: initialize a store, print status counts, and run a
// sparse-only recall for smoke-testing — grounded on the teacher's
// cmd/sqvect, a cobra-based tool over the same storage layer.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/recollect/internal/sparse"
	"github.com/liliang-cn/recollect/internal/store"
)

var (
	dataDir string
	dim     int
)

var rootCmd = &cobra.Command{
	Use:   "recollect",
	Short: "Operator CLI for a recollect memory store",
	Long:  "Inspect and smoke-test a recollect SQLite-backed memory store.",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Printf("memory store initialized at %s (dimension %d)\n", dataDir, dim)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print memory counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.CountByStatus(context.Background())
		if err != nil {
			return fmt.Errorf("count by status: %w", err)
		}
		fmt.Printf("active:   %d\n", counts.Active)
		fmt.Printf("archived: %d\n", counts.Archived)
		fmt.Printf("deleted:  %d\n", counts.Deleted)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Run a sparse (BM25) recall against stored memories",
	Long:  "Rebuilds a BM25 index from the active memories on disk and searches it. No EmbeddingProvider is wired into the CLI, so this exercises the sparse channel only.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		k, _ := cmd.Flags().GetInt("k")

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		idx := sparse.NewIndex(1.2, 0.75, sparse.DefaultTokenizer{})
		var after int64
		for {
			page, err := st.ScanPaginated(ctx, after, 500, store.Filter{Status: store.StatusActive})
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			for _, m := range page.Memories {
				idx.Add(m.DocID, m.Content)
			}
			if !page.HasMore {
				break
			}
			after = page.NextDocID
		}

		hits := idx.Search(query, k)
		if len(hits) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, h := range hits {
			m, err := st.GetByID(ctx, h.DocID)
			if err != nil {
				continue
			}
			fmt.Printf("%6.3f  [%s]  %s\n", h.Score, m.EventType, m.Content)
		}
		return nil
	},
}

func openStore() (*store.SQLiteStore, error) {
	st, err := store.New(store.Config{Path: dataDir + "/recollect.db", Dimension: dim})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./recollect-data", "directory holding the SQLite data file")
	rootCmd.PersistentFlags().IntVar(&dim, "dim", 0, "embedding dimension (0 = auto-detect from existing data)")

	recallCmd.Flags().Int("k", 5, "number of results to return")

	rootCmd.AddCommand(initCmd, statsCmd, recallCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
