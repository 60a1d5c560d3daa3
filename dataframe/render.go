package dataframe

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// missingMarker is how absent measurements render. Chosen to be
// unambiguous against legitimate empty strings.
const missingMarker = "<NA>"

// Render draws the table for terminal display. maxRows limits output;
// zero renders everything.
func (t *Table) Render(maxRows int) string {
	rows := make([][]string, 0, len(t.rows))
	for i, row := range t.rows {
		if maxRows > 0 && i >= maxRows {
			break
		}
		cells := make([]string, len(row))
		for j, c := range row {
			if c.Valid {
				cells[j] = c.Value
			} else {
				cells[j] = missingMarker
			}
		}
		rows = append(rows, cells)
	}

	out := renderGrid(t.cols, rows)
	if maxRows > 0 && len(t.rows) > maxRows {
		out += fmt.Sprintf("\n(%d of %d rows shown)", maxRows, len(t.rows))
	}
	return out
}

// Render draws the cast table for terminal display.
func (f *FloatTable) Render(maxRows int) string {
	rows := make([][]string, 0, len(f.rows))
	for i, row := range f.rows {
		if maxRows > 0 && i >= maxRows {
			break
		}
		cells := make([]string, len(row))
		for j, c := range row {
			if c.Valid {
				cells[j] = strconv.FormatFloat(c.Float64, 'g', -1, 64)
			} else {
				cells[j] = missingMarker
			}
		}
		rows = append(rows, cells)
	}

	out := renderGrid(f.cols, rows)
	if maxRows > 0 && len(f.rows) > maxRows {
		out += fmt.Sprintf("\n(%d of %d rows shown)", maxRows, len(f.rows))
	}
	return out
}

func renderGrid(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		Render()
}
