package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tracespool/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var titleCaser = cases.Title(language.Und)

func renderStatus(resp *ipc.StatusResponse, colorize bool) []string {
	var lines []string
	section := func(title string) {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, renderSectionHeader(title, colorize)...)
	}

	section("Daemon")
	if resp.Running {
		detail := "Running"
		if resp.PID > 0 {
			detail = fmt.Sprintf("Running (pid %d)", resp.PID)
		}
		lines = append(lines, renderStatusLine("Tracespool", statusOK, detail, colorize))
		if resp.StartedAt != nil {
			uptime := time.Since(*resp.StartedAt).Truncate(time.Second)
			lines = append(lines, renderStatusLine("Uptime", statusInfo, uptime.String(), colorize))
		}
	} else {
		lines = append(lines, renderStatusLine("Tracespool", statusWarn, "Not running (run `tracespool start`)", colorize))
	}
	lines = append(lines, renderStatusLine("Sink", statusInfo, resp.Sink, colorize))
	if resp.FlushIntervalSeconds > 0 {
		lines = append(lines, renderStatusLine("Flush interval", statusInfo, (time.Duration(resp.FlushIntervalSeconds)*time.Second).String(), colorize))
	}
	if resp.LastFlush.At != nil {
		lines = append(lines, renderStatusLine("Last flush", flushKind(resp.LastFlush), describeFlush(resp.LastFlush), colorize))
	}
	if resp.InboxDir != "" {
		lines = append(lines, renderStatusLine("Inbox", statusInfo, resp.InboxDir, colorize))
	}
	if resp.LogPath != "" {
		lines = append(lines, renderStatusLine("Log", statusInfo, resp.LogPath, colorize))
	}

	section("Spool")
	lines = append(lines, renderStatusLine("Location", statusInfo, resp.SpoolLocation, colorize))
	if resp.StatsError != "" {
		lines = append(lines, renderStatusLine("Stats", statusError, resp.StatsError, colorize))
	} else {
		lines = append(lines, renderStatusLine("Size", statusInfo, formatBytes(resp.Stats.TotalBytes), colorize))
		lines = append(lines, renderStatusLine("Disk free", statusInfo, formatBytes(int64(resp.Stats.DiskFreeBytes)), colorize))
		if resp.Stats.OldestCreatedAt != nil {
			lines = append(lines, renderStatusLine("Oldest item", statusInfo, formatTime(*resp.Stats.OldestCreatedAt), colorize))
		}
		if resp.Running {
			lines = append(lines, renderStatusLine("Tracked keys", statusInfo, strconv.Itoa(resp.TrackedKeys), colorize))
		}
	}

	if len(resp.Checks) > 0 {
		section("Checks")
		for _, check := range resp.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	section("Queue")
	rows := buildQueueStatusRows(resp.Stats)
	if len(rows) == 0 {
		lines = append(lines, "Queue is empty")
		return lines
	}
	table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
	lines = append(lines, strings.Split(strings.TrimRight(table, "\n"), "\n")...)
	return lines
}

func buildQueueStatusRows(stats ipc.QueueStats) [][]string {
	counts := []struct {
		status string
		count  int
	}{
		{"pending", stats.Pending},
		{"processing", stats.Processing},
		{"failed", stats.Failed},
		{"dead", stats.Dead},
	}
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		if c.count == 0 {
			continue
		}
		rows = append(rows, []string{titleCaser.String(c.status), strconv.Itoa(c.count)})
	}
	return rows
}

func flushKind(summary ipc.FlushSummary) statusKind {
	switch {
	case summary.Error != "":
		return statusError
	case summary.Failed > 0 || summary.Dead > 0:
		return statusWarn
	default:
		return statusOK
	}
}

func describeFlush(summary ipc.FlushSummary) string {
	parts := []string{
		fmt.Sprintf("%d/%d delivered", summary.Delivered, summary.Attempted),
	}
	if summary.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", summary.Failed))
	}
	if summary.Dead > 0 {
		parts = append(parts, fmt.Sprintf("%d dead", summary.Dead))
	}
	if summary.Reclaimed > 0 {
		parts = append(parts, fmt.Sprintf("%d reclaimed", summary.Reclaimed))
	}
	detail := strings.Join(parts, ", ")
	if summary.At != nil {
		detail += " at " + formatTime(*summary.At)
	}
	if summary.Error != "" {
		detail += " (" + summary.Error + ")"
	}
	return detail
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
