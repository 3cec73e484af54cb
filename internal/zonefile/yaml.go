package zonefile

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// rawRecord is one record set as it appears in a YAML zone file.
type rawRecord struct {
	Type   string      `yaml:"type"`
	TTL    *int        `yaml:"ttl,omitempty"`
	Value  yaml.Node   `yaml:"value,omitempty"`
	Values []yaml.Node `yaml:"values,omitempty"`
}

// outRecord is the write-side shape of rawRecord.
type outRecord struct {
	Type   string `yaml:"type"`
	TTL    int    `yaml:"ttl"`
	Value  any    `yaml:"value,omitempty"`
	Values any    `yaml:"values,omitempty"`
}

// YAML zone files carry ';' in TXT values escaped as '\;'.
var (
	txtEscape   = strings.NewReplacer(";", `\;`)
	txtUnescape = strings.NewReplacer(`\;`, ";")
)

// ReadYAML parses a YAML zone file.
func ReadYAML(r io.Reader, zoneName string, lenient bool) (*provider.Zone, error) {
	var doc map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing YAML zone: %w", err)
	}

	zone := provider.NewZone(zoneName)

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := doc[name]

		var raws []rawRecord
		switch node.Kind {
		case yaml.SequenceNode:
			if err := node.Decode(&raws); err != nil {
				return nil, fmt.Errorf("record %q: %w", name, err)
			}
		case yaml.MappingNode:
			var raw rawRecord
			if err := node.Decode(&raw); err != nil {
				return nil, fmt.Errorf("record %q: %w", name, err)
			}
			raws = append(raws, raw)
		default:
			return nil, fmt.Errorf("record %q: expected a mapping or a list (line %d)", name, node.Line)
		}

		for _, raw := range raws {
			record, err := raw.record(name)
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", name, err)
			}
			if err := zone.AddRecord(record, lenient); err != nil {
				return nil, err
			}
		}
	}

	return zone, nil
}

func (raw rawRecord) record(name string) (provider.Record, error) {
	t, err := provider.ParseRecordType(raw.Type)
	if err != nil {
		return provider.Record{}, err
	}

	record := provider.Record{
		Name: strings.TrimSuffix(name, "."),
		Type: t,
		TTL:  DefaultTTL,
	}
	if raw.TTL != nil {
		record.TTL = *raw.TTL
	}

	nodes := raw.Values
	if raw.Value.Kind != 0 {
		nodes = append([]yaml.Node{raw.Value}, nodes...)
	}
	if len(nodes) == 0 {
		return provider.Record{}, fmt.Errorf("%w: %s has no value", provider.ErrInvalidRecord, t)
	}

	for _, n := range nodes {
		switch t {
		case provider.RecordTypeMX:
			var v provider.MXValue
			if err := n.Decode(&v); err != nil {
				return provider.Record{}, fmt.Errorf("MX value (line %d): %w", n.Line, err)
			}
			record.MX = append(record.MX, v)
		case provider.RecordTypeSRV:
			var v provider.SRVValue
			if err := n.Decode(&v); err != nil {
				return provider.Record{}, fmt.Errorf("SRV value (line %d): %w", n.Line, err)
			}
			record.SRV = append(record.SRV, v)
		case provider.RecordTypeSSHFP:
			var v provider.SSHFPValue
			if err := n.Decode(&v); err != nil {
				return provider.Record{}, fmt.Errorf("SSHFP value (line %d): %w", n.Line, err)
			}
			record.SSHFP = append(record.SSHFP, v)
		default:
			var v string
			if err := n.Decode(&v); err != nil {
				return provider.Record{}, fmt.Errorf("%s value (line %d): %w", t, n.Line, err)
			}
			if t == provider.RecordTypeTXT {
				v = txtUnescape.Replace(v)
			}
			record.Values = append(record.Values, v)
		}
	}

	return record, nil
}

// WriteYAML renders zone as a YAML zone file.
func WriteYAML(w io.Writer, zone *provider.Zone) error {
	byName := make(map[string][]outRecord)
	for _, r := range zone.Records() {
		byName[r.Name] = append(byName[r.Name], toOut(r))
	}

	doc := make(map[string]any, len(byName))
	for name, records := range byName {
		if len(records) == 1 {
			doc[name] = records[0]
		} else {
			doc[name] = records
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding YAML zone: %w", err)
	}
	return enc.Close()
}

func toOut(r provider.Record) outRecord {
	out := outRecord{Type: string(r.Type), TTL: r.TTL}

	var values []any
	switch r.Type {
	case provider.RecordTypeMX:
		for _, v := range r.MX {
			values = append(values, v)
		}
	case provider.RecordTypeSRV:
		for _, v := range r.SRV {
			values = append(values, v)
		}
	case provider.RecordTypeSSHFP:
		for _, v := range r.SSHFP {
			values = append(values, v)
		}
	default:
		for _, v := range r.Values {
			if r.Type == provider.RecordTypeTXT {
				v = txtEscape.Replace(v)
			}
			values = append(values, v)
		}
	}

	if len(values) == 1 {
		out.Value = values[0]
	} else {
		out.Values = values
	}
	return out
}
