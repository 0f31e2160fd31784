package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"
)

// Table output formats.
const (
	TableFormatCSV     = "csv"
	TableFormatJSON    = "json"
	TableFormatTable   = "table"
	TableFormatYAML    = "yaml"
	TableFormatCompact = "compact"
)

// RenderTable renders tabular data in various formats. For the json and yaml
// formats, raw is marshalled instead of the pre-rendered rows.
func RenderTable(w io.Writer, format string, header []string, data [][]string, raw any) error {
	switch format {
	case TableFormatTable:
		table := getBaseTable(w, header, data)
		table.SetRowLine(true)
		table.Render()
	case TableFormatCompact:
		table := getBaseTable(w, header, data)
		table.SetColumnSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.Render()
	case TableFormatCSV:
		writer := csv.NewWriter(w)
		err := writer.Write(header)
		if err != nil {
			return err
		}

		err = writer.WriteAll(data)
		if err != nil {
			return err
		}
	case TableFormatJSON:
		enc := json.NewEncoder(w)
		err := enc.Encode(raw)
		if err != nil {
			return err
		}
	case TableFormatYAML:
		out, err := yaml.Marshal(raw)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s", out)
	default:
		return fmt.Errorf("Invalid format %q", format)
	}

	return nil
}

// SortTable sorts the rows of a rendered table in place.
func SortTable(data [][]string) {
	sort.Sort(StringList(data))
}

func getBaseTable(w io.Writer, header []string, data [][]string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	table.AppendBulk(data)
	return table
}
