package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/config"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

// failedItems turns a report with failed items into a non-zero exit.
func failedItems(n int) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d items failed", n)
}

func newScrapeCmd(opts *rootOptions) *cobra.Command {
	var useRenderer bool
	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "fetch and store pages; configured sources when no url is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				var report service.PipelineReport
				if len(args) == 0 {
					report = a.pipeline.Scrape(ctx)
				} else {
					sources := make([]config.SourceConfig, 0, len(args))
					for _, u := range args {
						sources = append(sources, config.SourceConfig{URL: u, UseRenderer: useRenderer})
					}
					res := a.ingest.ScrapeAll(ctx, sources)
					report.Scrape = &res
				}
				printReport(cmd.OutOrStdout(), report)
				return failedItems(report.Failed())
			})
		},
	}
	cmd.Flags().BoolVar(&useRenderer, "render", false, "load the given urls in the headless browser")
	return cmd
}

func newChunkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chunk",
		Short: "segment pending documents into chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				report, err := a.pipeline.Chunk(ctx)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return failedItems(report.Failed())
			})
		},
	}
}

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	var limit uint
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "embed pending chunks into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if limit == 0 {
					limit = uint(a.cfg.Pipeline.EmbedLimit)
				}
				res, err := a.indexer.EmbedPending(ctx, limit)
				if err != nil {
					return err
				}
				printBatch(cmd.OutOrStdout(), "embed", &res)
				return failedItems(len(res.Failed))
			})
		},
	}
	cmd.Flags().UintVar(&limit, "limit", 0, "maximum chunks to embed (default pipeline.embed_limit)")
	return cmd
}

func newFullCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "scrape, chunk and embed everything pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				report, err := a.pipeline.Full(ctx)
				printReport(cmd.OutOrStdout(), report)
				if err != nil {
					return err
				}
				return failedItems(report.Failed())
			})
		},
	}
}

func newRetryFailedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "move failed documents and chunks back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				chunks, docs, err := a.indexer.ResetFailed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  documents=%d  chunks=%d\n", headingStyle.Render("reset"), docs, chunks)
				return nil
			})
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "compare chunk status with the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				report, err := a.reconcile.Audit(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printAudit(out, report)
				if !repair || report.Consistent() {
					return nil
				}
				res, err := a.reconcile.Repair(ctx, report)
				if err != nil {
					return err
				}
				printBatch(out, "repair", &res)
				return failedItems(len(res.Failed))
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "requeue chunks without vectors and drop orphan vectors")
	return cmd
}

func newResetIndexCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-index",
		Short: "delete every vector and mark all chunks pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset-index drops the whole vector index; pass --yes to confirm")
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				n, err := a.indexer.ResetIndex(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  chunks=%d\n", headingStyle.Render("reset-index"), n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "show document, chunk, index and ledger counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				stats, err := a.stats.Collect(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		sessionID string
		topK      int
		minScore  float32
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer a question from the indexed documentation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if sessionID == "" {
					sessionID = "cli-" + uuid.NewString()
				}
				answerOpts := service.AnswerOptions{TopK: topK}
				if cmd.Flags().Changed("min-score") {
					answerOpts.MinScore = &minScore
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, headingStyle.Render("Answer"))
				res, err := a.conversations.Ask(ctx, sessionID, strings.Join(args, " "), answerOpts, func(delta string) error {
					_, err := io.WriteString(out, delta)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				printSources(out, res.Answer)
				fmt.Fprintln(out, dimStyle.Render("session "+res.SessionID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "conversation session id to continue")
	cmd.Flags().IntVar(&topK, "top-k", 0, "passages to retrieve (default answer.top_k)")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "minimum similarity score (default answer.min_score)")
	return cmd
}
