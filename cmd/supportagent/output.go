package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func printBatch(w io.Writer, stage string, res *model.BatchResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		headingStyle.Render(stage),
		okStyle.Render(fmt.Sprintf("ok=%d", res.Successful)),
		dimStyle.Render(fmt.Sprintf("skipped=%d", res.Skipped)),
		failStyle.Render(fmt.Sprintf("failed=%d", len(res.Failed))))
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  %s %s\n", failStyle.Render(f.ID), dimStyle.Render(f.Error))
	}
}

func printReport(w io.Writer, r service.PipelineReport) {
	printBatch(w, "scrape", r.Scrape)
	printBatch(w, "chunk", r.Chunk)
	printBatch(w, "embed", r.Embed)
}

func printCounts(w io.Writer, title string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	if len(parts) == 0 {
		parts = append(parts, "none")
	}
	fmt.Fprintf(w, "%s  %s\n", headingStyle.Render(title), strings.Join(parts, "  "))
}

func printStats(w io.Writer, s *service.Stats) {
	printCounts(w, "documents", s.Documents)
	printCounts(w, "chunks", s.Chunks)
	fmt.Fprintf(w, "%s  count=%d  dimension=%d\n", headingStyle.Render("index"), s.Index.Count, s.Index.Dimension)
	fmt.Fprintf(w, "%s  conversations=%d  messages=%d\n", headingStyle.Render("ledger"), s.Conversations, s.Messages)
}

func printAudit(w io.Writer, r *service.AuditReport) {
	status := okStyle.Render("consistent")
	if !r.Consistent() {
		status = failStyle.Render("drift")
	}
	fmt.Fprintf(w, "%s  checked=%d  missing_vectors=%d  orphan_vectors=%d  %s\n",
		headingStyle.Render("reconcile"), r.Checked, len(r.MissingVectors), len(r.OrphanVectors), status)
}

func printSources(w io.Writer, ans *model.Answer) {
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("Sources"))
	for i, src := range ans.Sources {
		fmt.Fprintf(w, "  [%d] %s %s\n", i+1, src.Title, dimStyle.Render(fmt.Sprintf("(%.2f) %s", src.Score, src.URL)))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("chunks=%d avg_score=%.2f augmented=%t",
		ans.Metadata.ChunksUsed, ans.Metadata.AvgScore, ans.Metadata.Augmented)))
}
