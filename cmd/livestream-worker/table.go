package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column is one table column; numeric columns align right
type column struct {
	header  string
	numeric bool
}

var (
	summaryColumns = []column{
		{header: "Service"},
		{header: "Status"},
		{header: "Consumer"},
		{header: "Connection"},
		{header: "Reconnects", numeric: true},
		{header: "Dispatcher"},
		{header: "Workers", numeric: true},
	}
	workerColumns = []column{
		{header: "Job"},
		{header: "PID", numeric: true},
		{header: "State"},
		{header: "Source"},
		{header: "Location"},
		{header: "Uptime", numeric: true},
	}
	runColumns = []column{
		{header: "Job"},
		{header: "Source"},
		{header: "State"},
		{header: "Outcome"},
		{header: "Exit", numeric: true},
		{header: "Started"},
		{header: "Duration", numeric: true},
	}
)

// renderTable draws rows under columns; short rows are padded with blanks
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.header
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft, Align: text.AlignLeft}
		if col.numeric {
			configs[i].Align = text.AlignRight
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range r {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	return tw.Render()
}
