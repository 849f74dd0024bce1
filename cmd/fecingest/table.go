package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type tableColumn struct {
	Header string
	Align  text.Align
}

func left(header string) tableColumn  { return tableColumn{Header: header, Align: text.AlignLeft} }
func right(header string) tableColumn { return tableColumn{Header: header, Align: text.AlignRight} }

var (
	runColumns = []tableColumn{
		left("ID"), left("Pipeline"), left("Name"), left("Cycle"), left("Status"),
		left("Stage"), left("Error"), right("Claims"), left("Created"),
	}
	handoffColumns = []tableColumn{
		left("Target"), left("Name"), left("Cycle"), left("Upstream"), left("Key"), left("Created"),
	}
	workspaceColumns = []tableColumn{
		left("Workspace"), right("Age"), right("Size"), left("Output"),
	}
)

// renderTable draws rows under columns. Short rows are padded and extra cells
// are dropped.
func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.Header
		configs[i] = table.ColumnConfig{Number: i + 1, Align: col.Align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
