package models

import (
	"fmt"
	"strings"
	"time"
)

// NotApplicable is the value of every optional field that was not populated.
const NotApplicable = "N/A"

const (
	// DateLayout renders record dates as M/dd/yyyy.
	DateLayout = "1/02/2006"
	// TimeLayout renders record times as HH:mm.
	TimeLayout = "15:04"
)

// ScanRecord is the per-target result of a scan. Records are passed by
// value; the orchestrator owns the only mutable copy of each one.
type ScanRecord struct {
	Address           string    `json:"address" db:"address"`
	Status            Status    `json:"status" db:"status"`
	Timestamp         time.Time `json:"timestamp" db:"scanned_at"`
	Hostname          string    `json:"hostname" db:"hostname"`
	LastLoggedUser    string    `json:"last_logged_user" db:"last_logged_user"`
	MachineType       string    `json:"machine_type" db:"machine_type"`
	MachineSKU        string    `json:"machine_sku" db:"machine_sku"`
	InstalledSoftware string    `json:"installed_software" db:"installed_software"`
	RAMSize           string    `json:"ram_size" db:"ram_size"`
	WindowsVersion    string    `json:"windows_version" db:"windows_version"`
	WindowsRelease    string    `json:"windows_release" db:"windows_release"`
	Detail            string    `json:"detail" db:"detail"`
}

// NewRecord creates a Pending record with every optional field set to N/A.
func NewRecord(address string, at time.Time) ScanRecord {
	return ScanRecord{
		Address:           address,
		Status:            StatusPending,
		Timestamp:         at,
		Hostname:          NotApplicable,
		LastLoggedUser:    NotApplicable,
		MachineType:       NotApplicable,
		MachineSKU:        NotApplicable,
		InstalledSoftware: NotApplicable,
		RAMSize:           NotApplicable,
		WindowsVersion:    NotApplicable,
		WindowsRelease:    NotApplicable,
		Detail:            NotApplicable,
	}
}

// NewInvalidRecord creates the terminal record for input that failed
// validation. The raw input is kept as the address so it stays visible.
func NewInvalidRecord(raw string, at time.Time) ScanRecord {
	r := NewRecord(raw, at)
	r.Status = StatusInvalid
	r.Detail = "Invalid IP/Segment"
	return r
}

// IsTerminal reports whether the record can no longer change.
func (r ScanRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Transition moves the record to next, enforcing the lifecycle.
func (r *ScanRecord) Transition(next Status) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Finish moves the record to a terminal status and records the detail.
func (r *ScanRecord) Finish(status Status, detail string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrTransition, status)
	}
	if err := r.Transition(status); err != nil {
		return err
	}
	r.Detail = orNA(detail)
	return nil
}

// Field returns the value collected for capability c.
func (r ScanRecord) Field(c Capability) string {
	switch c {
	case CapHostname:
		return r.Hostname
	case CapLastLoggedUser:
		return r.LastLoggedUser
	case CapMachineType:
		return r.MachineType
	case CapMachineSKU:
		return r.MachineSKU
	case CapInstalledSoftware:
		return r.InstalledSoftware
	case CapRAMSize:
		return r.RAMSize
	case CapWindowsVersion:
		return r.WindowsVersion
	case CapWindowsRelease:
		return r.WindowsRelease
	default:
		return NotApplicable
	}
}

// SetField stores the value for capability c. Empty values become N/A.
func (r *ScanRecord) SetField(c Capability, value string) error {
	if r.Status.IsTerminal() {
		return ErrTerminal
	}
	value = orNA(value)
	switch c {
	case CapHostname:
		r.Hostname = value
	case CapLastLoggedUser:
		r.LastLoggedUser = value
	case CapMachineType:
		r.MachineType = value
	case CapMachineSKU:
		r.MachineSKU = value
	case CapInstalledSoftware:
		r.InstalledSoftware = value
	case CapRAMSize:
		r.RAMSize = value
	case CapWindowsVersion:
		r.WindowsVersion = value
	case CapWindowsRelease:
		r.WindowsRelease = value
	default:
		return fmt.Errorf("unknown capability %d", c)
	}
	return nil
}

// Date renders the record timestamp as M/dd/yyyy.
func (r ScanRecord) Date() string {
	return r.Timestamp.Format(DateLayout)
}

// Time renders the record timestamp as HH:mm.
func (r ScanRecord) Time() string {
	return r.Timestamp.Format(TimeLayout)
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotApplicable
	}
	return v
}
