package inventory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anstrom/inventorama/internal/remote"
)

// MaxSoftwareEntries caps the installed software summary.
const MaxSoftwareEntries = 10

const bytesPerGiB = 1 << 30

type buildRange struct {
	from, to int
	label    string
}

var releases = []buildRange{
	{19041, 19044, "Windows 10 20H2"},
	{19045, 19045, "Windows 10 21H2"},
	{19046, 19046, "Windows 10 22H2"},
	{22000, 22000, "Windows 11 21H2"},
	{22621, 22622, "Windows 11 22H2"},
	{22631, 22632, "Windows 11 23H2"},
}

// ReleaseLabel maps an OS build number to its release name.
func ReleaseLabel(build string) string {
	build = strings.TrimSpace(build)
	if build == "" {
		return "Unknown"
	}
	major, _, _ := strings.Cut(build, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Sprintf("Unknown (Build %s)", build)
	}
	for _, r := range releases {
		if n >= r.from && n <= r.to {
			return r.label
		}
	}
	return fmt.Sprintf("Unknown (Build %d)", n)
}

// FormatSoftware renders up to MaxSoftwareEntries products as
// "Name (Version)" joined by ", ".
func FormatSoftware(products []remote.Product) string {
	if len(products) > MaxSoftwareEntries {
		products = products[:MaxSoftwareEntries]
	}
	entries := make([]string, 0, len(products))
	for _, p := range products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			continue
		}
		if v := strings.TrimSpace(p.Version); v != "" {
			name = fmt.Sprintf("%s (%s)", name, v)
		}
		entries = append(entries, name)
	}
	return strings.Join(entries, ", ")
}

// FormatRAM sums module capacities and renders them in GiB with two
// decimals. No modules renders as empty.
func FormatRAM(modules []uint64) string {
	if len(modules) == 0 {
		return ""
	}
	var total uint64
	for _, m := range modules {
		total += m
	}
	return fmt.Sprintf("%.2f GB", float64(total)/bytesPerGiB)
}
