// Package report renders run summaries and listings as tables.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/book-expert/bulletin-reader/internal/pipeline"
	"github.com/book-expert/bulletin-reader/internal/show"
)

// Time and size units.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	kilobyte        = 1024
	megabyte        = 1024 * kilobyte
)

// Display formats.
const (
	formatSeconds = "%.1fs"
	formatMinutes = "%dm %.1fs"
	formatHours   = "%dh %dm"
	formatMB      = "%.1f MB"
	formatKB      = "%.1f KB"
	formatBytes   = "%d B"
	statusOK      = "ok"
	statusFailed  = "FAILED"
	noValue       = "-"
)

const detailWidth = 80

var (
	resultHeaders = table.Row{"Show", "Status", "Length", "Size", "Took", "Detail"}
	showHeaders   = table.Row{"Show", "Directory", "Theme", "Start", "Source"}
	checkHeaders  = table.Row{"Check", "Status", "Detail"}
)

// Write renders results as a table. Terminals get rounded box drawing, other
// writers plain ASCII.
func Write(writer io.Writer, results []pipeline.Result) error {
	rows := make([]table.Row, 0, len(results))
	failed := 0

	for _, result := range results {
		if !result.OK() {
			failed++
		}

		rows = append(rows, row(result))
	}

	tw := newTable(writer, resultHeaders, rows, 3, 4, 5)
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d ok", len(results)-failed, len(results))})
	tw.Render()

	return nil
}

// WriteShows lists the configured shows.
func WriteShows(writer io.Writer, shows []show.Show) error {
	rows := make([]table.Row, 0, len(shows))

	for _, s := range shows {
		theme := s.Theme()
		if theme == "" {
			theme = noValue
		}

		rows = append(rows, table.Row{s.Name(), s.Directory(), theme, s.ProgrammeStart().String(), s.SourceURL()})
	}

	newTable(writer, showHeaders, rows, 4).Render()

	return nil
}

// Check is one line of an environment check.
type Check struct {
	Subject string
	Passed  bool
	Detail  string
}

// WriteChecks renders environment checks and reports how many failed.
func WriteChecks(writer io.Writer, checks []Check) int {
	rows := make([]table.Row, 0, len(checks))
	failed := 0

	for _, check := range checks {
		status := statusOK
		if !check.Passed {
			status = statusFailed
			failed++
		}

		rows = append(rows, table.Row{check.Subject, status, check.Detail})
	}

	newTable(writer, checkHeaders, rows).Render()

	return failed
}

// newTable builds a table writer mirroring to writer, with the given 1-based
// columns right-aligned.
func newTable(writer io.Writer, headers table.Row, rows []table.Row, rightAligned ...int) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(writer)
	tw.AppendHeader(headers)

	if isTerminal(writer) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	for _, r := range rows {
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned)+1)
	for _, column := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: column, Align: text.AlignRight})
	}

	configs = append(configs, table.ColumnConfig{Number: len(headers), WidthMax: detailWidth})
	tw.SetColumnConfigs(configs)

	return tw
}

func row(result pipeline.Result) table.Row {
	if !result.OK() {
		return table.Row{result.Show, statusFailed, noValue, noValue, FormatDuration(result.Elapsed), result.Err.Error()}
	}

	size := noValue

	info, err := os.Stat(result.Output)
	if err == nil {
		size = FormatFileSize(info.Size())
	}

	detail := result.Output
	if result.Key != "" {
		detail += " -> " + result.Key
	}

	if len(result.Warnings) > 0 {
		detail += " (" + strings.Join(result.Warnings, "; ") + ")"
	}

	return table.Row{result.Show, statusOK, FormatDuration(result.Duration), size, FormatDuration(result.Elapsed), detail}
}

// FormatDuration formats a duration as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(duration time.Duration) string {
	seconds := duration.Seconds()

	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*secondsInMinute))
	}

	hours := int(seconds / secondsInHour)
	minutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, minutes)
}

// FormatFileSize formats a byte count as "500 B", "1.2 KB" or "3.4 MB".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}

	fd := file.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
