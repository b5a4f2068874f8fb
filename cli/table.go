package cli

import (
	"strconv"
	"strings"

	"vtools/queue"
	"vtools/tools"

	"github.com/jedib0t/go-pretty/v6/table"
)

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func toolsTable(list []tools.Tool) string {
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		accepts := "any"
		if len(t.Accepts) > 0 {
			accepts = strings.Join(t.Accepts, ", ")
		}
		rows = append(rows, []string{t.ID, t.Title, t.Command, t.Mode.String(), accepts})
	}
	return renderTable([]string{"ID", "Title", "Command", "Mode", "Accepts"}, rows)
}

func filesTable(files []queue.TrackedFile) string {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		detail := f.Output
		if f.Error != "" {
			detail = f.Error
			if line := lastLine(f.Log); line != "" {
				detail += "\n" + line
			}
		}
		rows = append(rows, []string{f.Name, string(f.State), strconv.Itoa(f.Progress) + "%", detail})
	}
	return renderTable([]string{"File", "State", "Progress", "Output / Error"}, rows)
}

// lastLine is the last non-blank line of an ffmpeg log, which is where it
// states why it gave up.
func lastLine(log string) string {
	lines := strings.Split(strings.TrimSpace(log), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
