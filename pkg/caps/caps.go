// Package caps defines the file capability bits a coherence authority grants
// to a client.
//
// A capability licenses a caching behavior on a file. Read and Write permit
// raw access; ReadCache permits serving reads from the local cache and
// WriteBuffer permits buffering writes before they are durable.
package caps

import (
	"fmt"
	"strings"
)

// Cap is a bitmask of file capabilities.
type Cap uint32

const (
	// None grants nothing.
	None Cap = 0

	// Read permits reading the file.
	Read Cap = 1 << 0

	// ReadCache permits caching file data for reads.
	ReadCache Cap = 1 << 1

	// Write permits writing the file.
	Write Cap = 1 << 2

	// WriteBuffer permits buffering (delaying) writes.
	WriteBuffer Cap = 1 << 3

	// All is every capability bit.
	All = Read | ReadCache | Write | WriteBuffer
)

// names is ordered by bit value and drives both String and Parse.
var names = []struct {
	bit  Cap
	name string
}{
	{Read, "r"},
	{ReadCache, "c"},
	{Write, "w"},
	{WriteBuffer, "b"},
}

// Has reports whether every bit in other is set.
func (c Cap) Has(other Cap) bool {
	return c&other == other
}

// Lost returns the bits set in c that are not set in next.
func (c Cap) Lost(next Cap) Cap {
	return c &^ next
}

// String renders the mask as a compact letter string ("rcwb"), or "-" when
// empty. Unknown bits are appended in hex.
func (c Cap) String() string {
	if c == None {
		return "-"
	}

	var sb strings.Builder
	rest := c
	for _, n := range names {
		if c&n.bit != 0 {
			sb.WriteString(n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		fmt.Fprintf(&sb, "+0x%x", uint32(rest))
	}
	return sb.String()
}

// longNames maps the spelled-out capability names accepted by Parse.
var longNames = map[string]Cap{
	"read":         Read,
	"read_cache":   ReadCache,
	"write":        Write,
	"write_buffer": WriteBuffer,
}

// Parse converts a letter string ("rcwb") or a "|" separated list of long
// names ("read|write_buffer") into a mask.
func Parse(s string) (Cap, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "-" || s == "none" {
		return None, nil
	}

	if _, ok := longNames[s]; ok || strings.Contains(s, "|") {
		var c Cap
		for _, part := range strings.Split(s, "|") {
			bit, ok := longNames[strings.TrimSpace(part)]
			if !ok {
				return None, fmt.Errorf("unknown capability %q", part)
			}
			c |= bit
		}
		return c, nil
	}

	var c Cap
	for _, r := range s {
		found := false
		for _, n := range names {
			if string(r) == n.name {
				c |= n.bit
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown capability letter %q in %q", r, s)
		}
	}
	return c, nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Cap) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so masks can be written
// as strings in YAML scenarios and config files.
func (c *Cap) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
