package output

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/inventorama/internal/models"
)

// RenderTable prints records as a table with the given columns.
func RenderTable(w io.Writer, records []models.ScanRecord, columns []Column) error {
	table := tablewriter.NewWriter(w)

	names := Names(columns)
	header := make([]any, len(names))
	for i, n := range names {
		header[i] = n
	}
	table.Header(header...)

	for _, rec := range records {
		if err := table.Append(Values(rec, columns)); err != nil {
			return err
		}
	}
	return table.Render()
}
