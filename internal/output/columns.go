// Package output writes scan records to durable destinations: the
// append-only CSV file and the terminal table.
package output

import "github.com/anstrom/inventorama/internal/models"

// Column is one output column: a header name and the accessor that renders
// its value from a record.
type Column struct {
	Name  string
	Value func(models.ScanRecord) string
}

var capabilityColumns = map[models.Capability]string{
	models.CapHostname:          "Hostname",
	models.CapLastLoggedUser:    "LastLoggedUser",
	models.CapMachineType:       "MachineType",
	models.CapMachineSKU:        "MachineSKU",
	models.CapInstalledSoftware: "InstalledCoreSoftware",
	models.CapRAMSize:           "RAMSize",
	models.CapWindowsVersion:    "WindowsVersion",
	models.CapWindowsRelease:    "WindowsBuild",
}

// Columns returns IP, the selected capability columns in capability order,
// then Date, Time, Status and ErrorDetails.
func Columns(caps models.CapabilitySet) []Column {
	cols := []Column{{Name: "IP", Value: func(r models.ScanRecord) string { return r.Address }}}
	for _, c := range caps.List() {
		cols = append(cols, Column{
			Name:  capabilityColumns[c],
			Value: func(r models.ScanRecord) string { return r.Field(c) },
		})
	}
	return append(cols,
		Column{Name: "Date", Value: models.ScanRecord.Date},
		Column{Name: "Time", Value: models.ScanRecord.Time},
		Column{Name: "Status", Value: func(r models.ScanRecord) string { return string(r.Status) }},
		Column{Name: "ErrorDetails", Value: func(r models.ScanRecord) string { return r.Detail }},
	)
}

// Names returns the header names of cols.
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Values renders rec in column order.
func Values(rec models.ScanRecord, cols []Column) []string {
	values := make([]string, len(cols))
	for i, c := range cols {
		values[i] = c.Value(rec)
	}
	return values
}
