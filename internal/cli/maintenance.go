package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	batchLimit     int
	lifecyclePhase string
)

var batchScoreCmd = &cobra.Command{
	Use:   "batch-score",
	Short: "Score unprocessed memories with the oracle and fill missing embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			limit := batchLimit
			if limit <= 0 {
				limit = a.cfg.Scheduler.LLMBatchSize
			}
			scored, err := a.engine.BatchScore(ctx, limit)
			if err != nil {
				return err
			}
			embedded, err := a.engine.EmbedMissing(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"scored": scored, "embedded": embedded})
		})
	},
}

var lifecycleCmd = &cobra.Command{
	Use:   "lifecycle",
	Short: "Run the retirement pipeline (mark, archive, purge)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var (
				n   int
				err error
			)
			switch lifecyclePhase {
			case "", "all":
				report, err := a.engine.RunLifecycle(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			case "mark":
				n, err = a.engine.MarkForDeletion(ctx)
			case "archive":
				n, err = a.engine.ArchiveMarked(ctx)
			case "purge":
				n, err = a.engine.PermanentlyDeleteArchived(ctx)
			default:
				return fmt.Errorf("unknown phase %q (want all, mark, archive or purge)", lifecyclePhase)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"phase": lifecyclePhase, "count": n})
		})
	},
}

var rescueCmd = &cobra.Command{
	Use:   "rescue <id>",
	Short: "Clear the deletion mark on a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.engine.Rescue(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "rescued": n})
		})
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate <id> <adjustment>",
	Short: "Apply a user rating adjustment (-3..+3) to a memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		adj, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid adjustment %q", args[1])
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rec, err := a.engine.Rate(ctx, id, adj)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

func init() {
	batchScoreCmd.Flags().IntVar(&batchLimit, "limit", 0, "maximum memories per pass (default: scheduler.llm_batch_size)")
	lifecycleCmd.Flags().StringVar(&lifecyclePhase, "phase", "all", "phase to run: all, mark, archive or purge")
}

// withApp opens the application for a one-shot command. The engine is not
// started: maintenance operations call the store and oracle directly.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err = fn(ctx, a)
	if cerr := a.close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
