package tui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

const maxEventRows = 10

func renderView(snap Snapshot, width int) string {
	var b strings.Builder

	prCount := 0
	for _, r := range snap.Repos {
		prCount += len(r.PRs)
	}
	header := fmt.Sprintf("prwatch │ %d repos │ %d PRs │ %d watchers",
		len(snap.Repos), prCount, snap.WorkerCount)
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("📦 Watched Repositories"))
	b.WriteString("\n")
	b.WriteString(renderTree(snap.Repos, width))

	b.WriteString("\n")
	b.WriteString(sectionStyle.Render(fmt.Sprintf("📣 Recent Activity (%d)", len(snap.Events))))
	b.WriteString("\n")
	b.WriteString(renderEvents(snap.Events, width))

	b.WriteString("\n")
	footer := fmt.Sprintf("Last updated: %s │ q:quit r:refresh",
		snap.Timestamp.Format("15:04:05"))
	b.WriteString(footerStyle.Render(footer))

	return b.String()
}

func renderTree(repos []RepoState, width int) string {
	if len(repos) == 0 {
		return emptyStyle.Render("  (no repos configured)")
	}

	var b strings.Builder
	for i, repo := range repos {
		prefix := "├─"
		if i == len(repos)-1 {
			prefix = "└─"
		}

		repoLine := fmt.Sprintf("%s %s/%s [%d watchers │ %d PRs]",
			prefix, repo.Owner, repo.Name, repo.Workers, len(repo.PRs))
		b.WriteString(treeRepoStyle.Render(repoLine))
		b.WriteString("\n")

		for j, pr := range repo.PRs {
			branch := "│  ├─"
			if j == len(repo.PRs)-1 {
				branch = "│  └─"
			}
			if i == len(repos)-1 {
				branch = "   ├─"
				if j == len(repo.PRs)-1 {
					branch = "   └─"
				}
			}

			marker := " "
			if pr.HasWorker {
				marker = "●"
			}

			line := fmt.Sprintf("%s %s #%d %s %s (@%s)",
				branch, marker, pr.Number, statusIcon(pr.Status),
				truncate(pr.Title, titleWidth(width)), pr.Author)
			style := treePRStyle.Foreground(statusColor(pr.Status))
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderEvents(events []EventState, width int) string {
	if len(events) == 0 {
		return emptyStyle.Render("  (no activity yet)")
	}

	var b strings.Builder
	n := len(events)
	if n > maxEventRows {
		n = maxEventRows
	}
	for _, e := range events[:n] {
		line := fmt.Sprintf("  %s  %-24s %s %s",
			e.At.Format("15:04:05"), e.PR, e.Kind, truncate(e.Detail, titleWidth(width)))
		b.WriteString(eventStyle.Render(line))
		b.WriteString("\n")
	}
	if len(events) > n {
		b.WriteString(emptyStyle.Render(fmt.Sprintf("  … %d older", len(events)-n)))
		b.WriteString("\n")
	}
	return b.String()
}

func titleWidth(width int) int {
	if width <= 0 {
		return 50
	}
	w := width - 40
	if w < 20 {
		w = 20
	}
	return w
}

func truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}
