package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

type recordKey struct {
	name string
	typ  RecordType
}

// Zone is a DNS zone and the records it holds, keyed by (name, type).
type Zone struct {
	// Name is the zone's fqdn, always lower-case with a trailing dot.
	Name    string
	records map[recordKey]Record
}

// NewZone creates an empty zone. The name is normalized to a lower-case fqdn.
func NewZone(name string) *Zone {
	return &Zone{
		Name:    dns.Fqdn(strings.ToLower(strings.TrimSpace(name))),
		records: make(map[recordKey]Record),
	}
}

// AddRecord adds a record to the zone.
// A second record with the same name and type is rejected with ErrConflict.
// A CNAME sharing its name with any other record is rejected with ErrTypeConflict
// unless lenient is set.
func (z *Zone) AddRecord(r Record, lenient bool) error {
	r.Name = strings.ToLower(r.Name)
	key := recordKey{name: r.Name, typ: r.Type}
	if _, exists := z.records[key]; exists {
		return fmt.Errorf("%w: %s %s", ErrConflict, z.Fqdn(r.Name), r.Type)
	}

	if !lenient {
		for k := range z.records {
			if k.name != r.Name {
				continue
			}
			if k.typ == RecordTypeCNAME || r.Type == RecordTypeCNAME {
				return fmt.Errorf("%w: %s has both %s and %s", ErrTypeConflict, z.Fqdn(r.Name), k.typ, r.Type)
			}
		}
	}

	z.records[key] = r.clone()
	return nil
}

// Get returns the record at name with the given type.
func (z *Zone) Get(name string, t RecordType) (Record, bool) {
	r, ok := z.records[recordKey{name: strings.ToLower(name), typ: t}]
	return r, ok
}

// Records returns all records sorted by name then type.
func (z *Zone) Records() []Record {
	out := make([]Record, 0, len(z.records))
	for _, r := range z.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Len returns the number of records in the zone.
func (z *Zone) Len() int {
	return len(z.records)
}

// Fqdn returns the fully-qualified form of a zone-relative name.
func (z *Zone) Fqdn(name string) string {
	if name == "" {
		return z.Name
	}
	return name + "." + z.Name
}

// HostnameFromFqdn strips the zone suffix from fqdn.
// Example: "www.example.com." in zone "example.com." -> "www"; the apex -> "".
// A missing trailing dot on fqdn is tolerated.
func (z *Zone) HostnameFromFqdn(fqdn string) string {
	fqdn = dns.Fqdn(strings.ToLower(fqdn))
	if fqdn == z.Name {
		return ""
	}
	return strings.TrimSuffix(fqdn, "."+z.Name)
}

// Validate checks every record in the zone and reports all failures together.
func (z *Zone) Validate() error {
	var errs []error
	for _, r := range z.Records() {
		if err := r.Validate(z.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
