// Package zonefile reads and writes desired-state zone files.
//
// Two formats are understood. The YAML format keys record sets by their name
// relative to the zone, one mapping or a list of mappings per name:
//
//	'':
//	  - type: A
//	    values: [192.0.2.1, 192.0.2.2]
//	  - type: MX
//	    values:
//	      - preference: 10
//	        exchange: mx.example.com.
//	www:
//	  type: CNAME
//	  value: example.com.
//
// Files ending in .zone, .db or .bind are read as RFC 1035 master files.
package zonefile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// DefaultTTL is applied to record sets that do not set a ttl.
const DefaultTTL = 3600

// Format is a zone file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatBIND Format = "bind"
)

// ParseFormat converts a format name such as "yaml" into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml", "":
		return FormatYAML, nil
	case "bind", "zone":
		return FormatBIND, nil
	default:
		return "", fmt.Errorf("unknown zone file format %q (must be yaml or bind)", s)
	}
}

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zone", ".db", ".bind":
		return FormatBIND
	default:
		return FormatYAML
	}
}

// Load reads the zone file at path into a zone named zoneName.
// Without lenient, records that fail validation are an error.
func Load(path, zoneName string, lenient bool) (*provider.Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening zone file: %w", err)
	}
	defer f.Close()

	zone, err := Read(f, FormatForPath(path), zoneName, lenient)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return zone, nil
}

// Read parses zone data in the given format.
func Read(r io.Reader, format Format, zoneName string, lenient bool) (*provider.Zone, error) {
	var (
		zone *provider.Zone
		err  error
	)
	switch format {
	case FormatBIND:
		zone, err = ReadBIND(r, zoneName, lenient)
	default:
		zone, err = ReadYAML(r, zoneName, lenient)
	}
	if err != nil {
		return nil, err
	}

	if !lenient {
		if err := zone.Validate(); err != nil {
			return nil, err
		}
	}
	return zone, nil
}

// Write renders zone in the given format.
func Write(w io.Writer, format Format, zone *provider.Zone) error {
	if format == FormatBIND {
		return WriteBIND(w, zone)
	}
	return WriteYAML(w, zone)
}

// WriteFile renders zone to path, replacing any existing file atomically.
// The format is picked from the extension.
func WriteFile(path string, zone *provider.Zone) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".zonesync-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, FormatForPath(path), zone); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing zone file: %w", err)
	}
	return nil
}
