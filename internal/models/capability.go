package models

import (
	"fmt"
	"strings"
)

// Capability is one independently selectable category of remote data.
type Capability uint16

const (
	CapHostname Capability = 1 << iota
	CapLastLoggedUser
	CapMachineType
	CapMachineSKU
	CapInstalledSoftware
	CapRAMSize
	CapWindowsVersion
	CapWindowsRelease
)

// AllCapabilities lists every capability in collection order.
var AllCapabilities = []Capability{
	CapHostname,
	CapLastLoggedUser,
	CapMachineType,
	CapMachineSKU,
	CapInstalledSoftware,
	CapRAMSize,
	CapWindowsVersion,
	CapWindowsRelease,
}

var capabilityNames = map[Capability]string{
	CapHostname:          "hostname",
	CapLastLoggedUser:    "last-logged-user",
	CapMachineType:       "machine-type",
	CapMachineSKU:        "machine-sku",
	CapInstalledSoftware: "installed-software",
	CapRAMSize:           "ram-size",
	CapWindowsVersion:    "windows-version",
	CapWindowsRelease:    "windows-release",
}

// String returns the flag name used on the command line and in config.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", uint16(c))
}

// CapabilitySet is an immutable selection of capabilities.
type CapabilitySet uint16

// NoCapabilities selects nothing: the collector opens no session.
const NoCapabilities CapabilitySet = 0

// FullCapabilities selects every capability.
var FullCapabilities = NewCapabilitySet(AllCapabilities...)

// DefaultCapabilities is the selection used when none is configured.
var DefaultCapabilities = NewCapabilitySet(CapHostname)

// NewCapabilitySet builds a set from individual capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether c is selected.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// With returns a copy of s that also selects c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Without returns a copy of s with c cleared.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ CapabilitySet(c)
}

// Empty reports whether nothing is selected.
func (s CapabilitySet) Empty() bool {
	return s&FullCapabilities == 0
}

// List returns the selected capabilities in collection order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of selected capabilities.
func (s CapabilitySet) Len() int {
	return len(s.List())
}

// String renders the set as a comma separated name list, "none" or "all".
func (s CapabilitySet) String() string {
	switch {
	case s.Empty():
		return "none"
	case s&FullCapabilities == FullCapabilities:
		return "all"
	}
	caps := s.List()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.String()
	}
	return strings.Join(names, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (s CapabilitySet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CapabilitySet) UnmarshalText(text []byte) error {
	parsed, err := ParseCapabilities(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseCapability resolves a single flag name.
func ParseCapability(name string) (Capability, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	for c, known := range capabilityNames {
		if known == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// ParseCapabilities parses a comma separated list such as
// "hostname,ram-size". The words "all" and "none" select everything and
// nothing respectively.
func ParseCapabilities(raw string) (CapabilitySet, error) {
	return ParseCapabilityList(strings.Split(raw, ","))
}

// ParseCapabilityList parses capability names given as separate items.
// "none" must stand alone.
func ParseCapabilityList(names []string) (CapabilitySet, error) {
	var (
		s      CapabilitySet
		none   bool
		others int
	)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "none":
			none = true
			continue
		case "all":
			s = FullCapabilities
			others++
			continue
		}
		c, err := ParseCapability(name)
		if err != nil {
			return NoCapabilities, err
		}
		s = s.With(c)
		others++
	}
	if none && others > 0 {
		return NoCapabilities, fmt.Errorf(`capability "none" cannot be combined with other capabilities`)
	}
	return s, nil
}
