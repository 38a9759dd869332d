package cli

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2
	ellipsis     = "..."
)

// tableColumn describes one column of a listing.
type tableColumn struct {
	Header string

	// Count right-aligns the column so row counts line up.
	Count bool

	// MaxWidth truncates wider cells with an ellipsis. Zero means unbounded.
	MaxWidth int
}

func col(header string) tableColumn { return tableColumn{Header: header} }

func countCol(header string) tableColumn { return tableColumn{Header: header, Count: true} }

func wideCol(header string, max int) tableColumn {
	return tableColumn{Header: header, MaxWidth: max}
}

// writeTable renders rows under columns. Empty cells print as "-".
func writeTable(out io.Writer, columns []tableColumn, rows [][]string) error {
	if len(columns) == 0 {
		return nil
	}

	cells := make([][]string, 0, len(rows)+1)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Header
	}
	cells = append(cells, header)
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			cell := "-"
			if i < len(row) && row[i] != "" {
				cell = row[i]
			}
			if c.MaxWidth > 0 && runewidth.StringWidth(cell) > c.MaxWidth {
				cell = runewidth.Truncate(cell, c.MaxWidth, ellipsis)
			}
			line[i] = cell
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(columns))
	for _, line := range cells {
		for i, cell := range line {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	writer := bufio.NewWriter(out)
	for _, line := range cells {
		var b strings.Builder
		for i, cell := range line {
			last := i == len(line)-1
			switch {
			case columns[i].Count:
				b.WriteString(runewidth.FillLeft(cell, widths[i]))
			case last:
				b.WriteString(cell)
			default:
				b.WriteString(runewidth.FillRight(cell, widths[i]))
			}
			if !last {
				b.WriteString(strings.Repeat(" ", tablePadding))
			}
		}
		b.WriteString("\n")
		if _, err := writer.WriteString(b.String()); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func formatCount(n int) string {
	return strconv.Itoa(n)
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
