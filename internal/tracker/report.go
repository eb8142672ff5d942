package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Report renders the markdown performance report: overall figures, one
// section per domain, and the five most recent snapshots with their
// actions and strategy scores.
func (t Tracker) Report(ctx context.Context) (string, error) {
	overall, err := t.Overall(ctx)
	if err != nil {
		return "", err
	}
	perfs, err := t.Repo.ListDomainPerf(ctx)
	if err != nil {
		return "", err
	}
	snaps, err := t.Repo.ListRecentSnapshots(ctx, 5)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# CAST Performance Report\n\n")
	fmt.Fprintf(&b, "Generated on: %s\n\n", fmtTimestamp(t.Now().UTC().Format(time.RFC3339)))

	b.WriteString("## Overall Performance\n\n")
	fmt.Fprintf(&b, "- Starting Value: %.4f APT\n", overall.StartingValue)
	fmt.Fprintf(&b, "- Current Value: %.4f APT\n", overall.CurrentValue)
	fmt.Fprintf(&b, "- ROI: %.2f%%\n", overall.ROI)
	if overall.LastRecordedAt != "" {
		fmt.Fprintf(&b, "- Last Updated: %s\n", fmtTimestamp(overall.LastRecordedAt))
	}
	b.WriteString("\n## Domain Performances\n\n")

	for _, p := range perfs {
		fmt.Fprintf(&b, "### %s\n\n", p.Name)
		fmt.Fprintf(&b, "- Current Value: %.4f APT\n", p.CurrentValue)
		fmt.Fprintf(&b, "- Total Investment: %.4f APT\n", p.TotalInvestment)
		fmt.Fprintf(&b, "- ROI: %.2f%%\n", p.ROI)
		if p.BestStrategy != nil {
			fmt.Fprintf(&b, "- Best Strategy: %s (%.2f%%)\n", p.BestStrategy.Name, p.BestStrategy.Performance)
		}
		if p.WorstStrategy != nil {
			fmt.Fprintf(&b, "- Worst Strategy: %s (%.2f%%)\n", p.WorstStrategy.Name, p.WorstStrategy.Performance)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recent Activity\n\n")
	for _, snap := range snaps {
		fmt.Fprintf(&b, "### %s\n\n", fmtTimestamp(snap.TS))
		fmt.Fprintf(&b, "- Total Value: %.4f APT\n", snap.TotalValue)
		fmt.Fprintf(&b, "- Asset Value: %.4f APT\n", snap.AssetValue)
		fmt.Fprintf(&b, "- Cash Balance: %.4f APT\n\n", snap.CashBalance)
		if len(snap.Actions) > 0 {
			b.WriteString("#### Actions\n\n")
			for _, a := range snap.Actions {
				fmt.Fprintf(&b, "- %s: %.4f APT (%s)\n", a.ActionType, a.Value, a.Status)
			}
			b.WriteString("\n")
		}
		if len(snap.Strategies) > 0 {
			b.WriteString("#### Strategies\n\n")
			for _, s := range snap.Strategies {
				fmt.Fprintf(&b, "- %s: %.2f%%\n", s.Name, s.Performance)
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// SaveReport writes the report under dir and returns its path.
func (t Tracker) SaveReport(ctx context.Context, dir string) (string, error) {
	report, err := t.Report(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "performance-report.md")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
