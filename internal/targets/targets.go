// Package targets expands user input into the ordered list of addresses a
// scan works through. Input can be a single dotted-quad address, a
// three-octet segment that stands for its 256 hosts, or a list of either
// (one per line). Malformed entries are not dropped: they surface as invalid
// targets so the caller can report them.
package targets

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Source records where a target came from.
type Source string

const (
	SourceDirect  Source = "direct"
	SourceSegment Source = "segment"
	SourceList    Source = "list"
)

// SegmentSize is the number of hosts a segment expands to.
const SegmentSize = 256

// Target is one entry of the work list.
type Target struct {
	// Raw is the input text the target was derived from.
	Raw string
	// Address is the canonical dotted quad; empty when the input is invalid.
	Address string
	Source  Source
	// Line is the 1-based list line, zero for other sources.
	Line  int
	Valid bool
}

// Key identifies the target in a status view: the address when valid,
// otherwise the raw input.
func (t Target) Key() string {
	if t.Valid {
		return t.Address
	}
	return t.Raw
}

func (t Target) String() string {
	if t.Line > 0 {
		return fmt.Sprintf("%s (%s line %d)", t.Key(), t.Source, t.Line)
	}
	return fmt.Sprintf("%s (%s)", t.Key(), t.Source)
}

type kind int

const (
	kindSingle kind = iota
	kindSegment
	kindList
)

// Input is an immutable description of what to scan. Expanding the same
// Input always yields the same sequence.
type Input struct {
	kind  kind
	value string
	lines []string
}

// Single describes one address.
func Single(addr string) Input {
	return Input{kind: kindSingle, value: strings.TrimSpace(addr)}
}

// Segment describes a three-octet prefix such as "192.168.1".
func Segment(seg string) Input {
	return Input{kind: kindSegment, value: strings.TrimSpace(seg)}
}

// List describes newline separated entries, each an address or a segment.
func List(lines []string) Input {
	return Input{kind: kindList, lines: append([]string(nil), lines...)}
}

// Parse guesses the shape of raw: several entries separated by newlines or
// commas become a list, three octets a segment, anything else a single
// address.
func Parse(raw string) Input {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, "\n,") {
		return List(strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ',' }))
	}
	if strings.Count(raw, ".") == 2 {
		return Segment(raw)
	}
	return Single(raw)
}

// Kind names accepted by FromKind.
const (
	KindSingle  = "single"
	KindSegment = "segment"
	KindList    = "list"
	KindFile    = "file"
)

// FromKind builds an Input from an explicit kind name. A list takes lines
// when given, else value split like Parse does; a file reads value as a list
// path; an empty kind lets Parse decide.
func FromKind(kindName, value string, lines []string) (Input, error) {
	switch kindName {
	case "":
		if len(lines) > 0 {
			return List(lines), nil
		}
		return Parse(value), nil
	case KindSingle:
		return Single(value), nil
	case KindSegment:
		return Segment(value), nil
	case KindList:
		if len(lines) > 0 {
			return List(lines), nil
		}
		return List(strings.FieldsFunc(value, func(r rune) bool { return r == '\n' || r == ',' })), nil
	case KindFile:
		return ReadList(value)
	default:
		return Input{}, fmt.Errorf("unknown input kind %q", kindName)
	}
}

// ReadList loads a list file. Failure to open or read the file is returned
// to the caller; malformed lines are not an error.
func ReadList(path string) (Input, error) {
	file, err := os.Open(path)
	if err != nil {
		return Input{}, fmt.Errorf("failed to open target list: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Input{}, fmt.Errorf("failed to read target list: %w", err)
	}
	return List(lines), nil
}

// Expand returns the lazy target sequence for in.
func Expand(in Input) iter.Seq[Target] {
	return func(yield func(Target) bool) {
		switch in.kind {
		case kindSingle:
			yieldSingle(in.value, SourceDirect, 0, yield)
		case kindSegment:
			yieldSegment(in.value, SourceSegment, 0, yield)
		case kindList:
			for i, line := range in.lines {
				entry := strings.TrimSpace(line)
				if entry == "" {
					continue
				}
				var more bool
				if strings.Count(entry, ".") == 2 {
					more = yieldSegment(entry, SourceList, i+1, yield)
				} else {
					more = yieldSingle(entry, SourceList, i+1, yield)
				}
				if !more {
					return
				}
			}
		}
	}
}

// Collect materializes an expansion.
func Collect(in Input) []Target {
	var out []Target
	for t := range Expand(in) {
		out = append(out, t)
	}
	return out
}

func yieldSingle(raw string, src Source, line int, yield func(Target) bool) bool {
	if !ValidAddress(raw) {
		return yield(Target{Raw: raw, Source: src, Line: line})
	}
	return yield(Target{Raw: raw, Address: canonical(raw), Source: src, Line: line, Valid: true})
}

func yieldSegment(raw string, src Source, line int, yield func(Target) bool) bool {
	if !ValidSegment(raw) {
		return yield(Target{Raw: raw, Source: src, Line: line})
	}
	prefix := canonical(raw)
	for host := range SegmentSize {
		t := Target{
			Raw:     raw,
			Address: prefix + "." + strconv.Itoa(host),
			Source:  src,
			Line:    line,
			Valid:   true,
		}
		if !yield(t) {
			return false
		}
	}
	return true
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("dottedquad", func(fl validator.FieldLevel) bool {
		return octets(fl.Field().String(), 4)
	})
	_ = v.RegisterValidation("segment", func(fl validator.FieldLevel) bool {
		return octets(fl.Field().String(), 3)
	})
	return v
}

// Validator returns a validator with the "dottedquad" and "segment" tags
// registered, for use on request and config structs.
func Validator() *validator.Validate {
	return validate
}

// ValidAddress reports whether s is four decimal octets in 0-255.
func ValidAddress(s string) bool {
	return validate.Var(s, "dottedquad") == nil
}

// ValidSegment reports whether s is three decimal octets in 0-255.
func ValidSegment(s string) bool {
	return validate.Var(s, "segment") == nil
}

func octets(s string, want int) bool {
	parts := strings.Split(s, ".")
	if len(parts) != want {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
		if n, _ := strconv.Atoi(p); n > 255 {
			return false
		}
	}
	return true
}

// canonical strips leading zeros from each octet of an already valid value.
func canonical(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		n, _ := strconv.Atoi(p)
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
