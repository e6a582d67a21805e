package report

import (
	"fmt"
	"strings"

	"github.com/iammorganparry/hive-sync/internal/models"
)

// Run renders a run summary followed by every item that did not stay stable.
func Run(r *models.RunReport) string {
	var b strings.Builder

	rows := [][2]string{
		{"run", r.ID},
		{"status", styled(string(r.Status))},
		{"duration", r.FinishedAt.Sub(r.StartedAt).Round(1e6).String()},
		{"items", fmt.Sprintf("%d", r.Total)},
		{"stable", fmt.Sprintf("%d", r.Stable)},
		{"pulled", fmt.Sprintf("%d", r.Pulled)},
		{"conflicts", fmt.Sprintf("%d", r.Conflicts)},
		{"not found", fmt.Sprintf("%d", r.NotFound)},
		{"errors", fmt.Sprintf("%d", r.Errors)},
		{"skipped", fmt.Sprintf("%d", r.Skipped)},
	}
	if r.Error != "" {
		rows = append(rows, [2]string{"error", r.Error})
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, HeaderStyle.Render("Reconciliation run"))
	for _, row := range rows {
		lines = append(lines, LabelStyle.Render(row[0])+ValueStyle.Render(row[1]))
	}
	b.WriteString(BoxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	for _, o := range r.Items {
		if o.Outcome == models.OutcomeStable {
			continue
		}
		line := fmt.Sprintf("  %s %s", styled(string(o.Outcome)), o.ItemID)
		if o.Message != "" {
			line += " " + MutedStyle.Render(o.Message)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Items renders one line per tracked item.
func Items(items []*models.TrackedItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("no tracked items") + "\n"
	}

	var b strings.Builder
	for _, it := range items {
		status := string(it.SyncStatus)
		if it.SyncConflict {
			status = "conflict"
		}
		fmt.Fprintf(&b, "%s  %s  %s:%s  %s\n",
			MutedStyle.Render(it.ID),
			styled(status),
			it.ExternalSystem, it.ExternalID,
			ValueStyle.Render(it.Title),
		)
		if it.SyncError != "" {
			b.WriteString("    " + MutedStyle.Render(it.SyncError) + "\n")
		}
	}
	return b.String()
}

// Check renders one reachability line.
func Check(name string, err error) string {
	if err != nil {
		return outcomeStyles["failed"].Render("✗") + " " + name + " " + MutedStyle.Render(err.Error()) + "\n"
	}
	return outcomeStyles["completed"].Render("✓") + " " + name + "\n"
}
