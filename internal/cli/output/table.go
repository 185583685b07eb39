package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by result types that render as a table, like
// the jobs listing.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a borderless left-aligned table with a header
// row.
func PrintTable(w io.Writer, data TableRenderer) error {
	t := newTable(w)
	t.SetHeader(data.Headers())
	t.SetAutoFormatHeaders(true)
	for _, row := range data.Rows() {
		t.Append(row)
	}
	t.Render()
	return nil
}

// SimpleTable writes key/value pairs as a two-column table, one pair per
// line, used for single-record views.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	t := newTable(w)
	t.SetColumnSeparator(":")
	for _, pair := range pairs {
		t.Append([]string{pair[0], pair[1]})
	}
	t.Render()
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}
