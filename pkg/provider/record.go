package provider

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// RecordType represents the type of DNS record.
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeALIAS RecordType = "ALIAS"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeMX    RecordType = "MX"
	RecordTypeNS    RecordType = "NS"
	RecordTypeSRV   RecordType = "SRV"
	RecordTypeSSHFP RecordType = "SSHFP"
	RecordTypeTXT   RecordType = "TXT"
)

// RecordTypes lists every record type the model understands.
var RecordTypes = []RecordType{
	RecordTypeA,
	RecordTypeAAAA,
	RecordTypeALIAS,
	RecordTypeCNAME,
	RecordTypeMX,
	RecordTypeNS,
	RecordTypeSRV,
	RecordTypeSSHFP,
	RecordTypeTXT,
}

// ParseRecordType converts a type tag such as "mx" into a RecordType.
func ParseRecordType(s string) (RecordType, error) {
	t := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(RecordTypes, t) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, s)
	}
	return t, nil
}

// SingleValue reports whether the type holds exactly one value (CNAME, ALIAS).
func (t RecordType) SingleValue() bool {
	return t == RecordTypeCNAME || t == RecordTypeALIAS
}

// MXValue is one mail exchanger of an MX record.
type MXValue struct {
	Preference uint16 `yaml:"preference"`
	Exchange   string `yaml:"exchange"`
}

// SRVValue is one service location of an SRV record.
type SRVValue struct {
	Priority uint16 `yaml:"priority"`
	Weight   uint16 `yaml:"weight"`
	Port     uint16 `yaml:"port"`
	Target   string `yaml:"target"`
}

// SSHFPValue is one host key fingerprint of an SSHFP record.
type SSHFPValue struct {
	Algorithm       uint8  `yaml:"algorithm"`
	FingerprintType uint8  `yaml:"fingerprint_type"`
	Fingerprint     string `yaml:"fingerprint"`
}

// Record is a provider-neutral DNS record set: every value of one type at one name.
//
// Which value field is populated depends on Type:
//   - A, AAAA, NS, TXT: Values
//   - CNAME, ALIAS: Values with exactly one element
//   - MX: MX
//   - SRV: SRV
//   - SSHFP: SSHFP
type Record struct {
	// Name is relative to the zone; "" is the apex.
	Name   string
	Type   RecordType
	TTL    int
	Values []string
	MX     []MXValue
	SRV    []SRVValue
	SSHFP  []SSHFPValue
}

// Fqdn returns the fully-qualified name of the record inside zone.
func (r Record) Fqdn(zone string) string {
	zone = dns.Fqdn(zone)
	if r.Name == "" {
		return zone
	}
	return r.Name + "." + zone
}

// Value returns the single value of a CNAME or ALIAS record.
func (r Record) Value() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0]
}

// Len returns the number of values held by the record.
func (r Record) Len() int {
	switch r.Type {
	case RecordTypeMX:
		return len(r.MX)
	case RecordTypeSRV:
		return len(r.SRV)
	case RecordTypeSSHFP:
		return len(r.SSHFP)
	default:
		return len(r.Values)
	}
}

// RData returns the presentation form of each value, space-joined in RFC field order.
// TXT values are returned unquoted.
func (r Record) RData() []string {
	out := make([]string, 0, r.Len())
	switch r.Type {
	case RecordTypeMX:
		for _, v := range r.MX {
			out = append(out, fmt.Sprintf("%d %s", v.Preference, v.Exchange))
		}
	case RecordTypeSRV:
		for _, v := range r.SRV {
			out = append(out, fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, v.Target))
		}
	case RecordTypeSSHFP:
		for _, v := range r.SSHFP {
			out = append(out, fmt.Sprintf("%d %d %s", v.Algorithm, v.FingerprintType, v.Fingerprint))
		}
	default:
		out = append(out, r.Values...)
	}
	return out
}

// WithTTL returns a copy of the record with its TTL replaced.
func (r Record) WithTTL(ttl int) Record {
	c := r.clone()
	c.TTL = ttl
	return c
}

func (r Record) clone() Record {
	return Record{
		Name:   r.Name,
		Type:   r.Type,
		TTL:    r.TTL,
		Values: slices.Clone(r.Values),
		MX:     slices.Clone(r.MX),
		SRV:    slices.Clone(r.SRV),
		SSHFP:  slices.Clone(r.SSHFP),
	}
}

// String returns a compact representation, e.g. "www CNAME 300 [example.com.]".
func (r Record) String() string {
	name := r.Name
	if name == "" {
		name = "@"
	}
	return fmt.Sprintf("%s %s %d [%s]", name, r.Type, r.TTL, strings.Join(r.RData(), ", "))
}

// RecordEquals returns true if two records are logically equal.
// Value order is not significant.
func RecordEquals(a, b Record) bool {
	if !strings.EqualFold(a.Name, b.Name) || a.Type != b.Type || a.TTL != b.TTL {
		return false
	}
	av, bv := a.RData(), b.RData()
	if len(av) != len(bv) {
		return false
	}
	slices.Sort(av)
	slices.Sort(bv)
	return slices.Equal(av, bv)
}

// Validate checks that the record carries well-formed DNS data for its type.
// Hostname values (CNAME, ALIAS, NS, MX exchange, SRV target) must be fully qualified.
func (r Record) Validate(zone string) error {
	if !slices.Contains(RecordTypes, r.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, r.Type)
	}
	if r.TTL < 0 {
		return fmt.Errorf("%w: %s: negative ttl %d", ErrInvalidRecord, r, r.TTL)
	}
	if r.Len() == 0 {
		return fmt.Errorf("%w: %s: no values", ErrInvalidRecord, r)
	}
	if r.Type.SingleValue() && r.Len() != 1 {
		return fmt.Errorf("%w: %s: %s takes exactly one value", ErrInvalidRecord, r, r.Type)
	}
	if _, ok := dns.IsDomainName(r.Fqdn(zone)); !ok {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidRecord, r.Fqdn(zone))
	}

	for _, host := range r.hostnames() {
		if !dns.IsFqdn(host) {
			return fmt.Errorf("%w: %s: %q must be fully qualified", ErrInvalidRecord, r, host)
		}
	}

	if _, err := r.rrs(zone, RecordTypeCNAME); err != nil {
		return err
	}
	return nil
}

// RRs converts the record into miekg/dns resource records.
// ALIAS has no wire representation and returns ErrUnsupportedType.
func (r Record) RRs(zone string) ([]dns.RR, error) {
	if r.Type == RecordTypeALIAS {
		return nil, fmt.Errorf("%w: ALIAS has no zone file representation", ErrUnsupportedType)
	}
	return r.rrs(zone, "")
}

// rrs builds one RR per value. aliasAs selects the wire type used for ALIAS values.
func (r Record) rrs(zone string, aliasAs RecordType) ([]dns.RR, error) {
	fqdn := r.Fqdn(zone)
	header := dns.RR_Header{
		Name:   fqdn,
		Class:  dns.ClassINET,
		Ttl:    uint32(r.TTL),
		Rrtype: dns.StringToType[string(r.Type)],
	}

	rrType := r.Type
	if rrType == RecordTypeALIAS {
		rrType = aliasAs
	}

	out := make([]dns.RR, 0, r.Len())
	if r.Type == RecordTypeTXT {
		header.Rrtype = dns.TypeTXT
		for _, v := range r.Values {
			out = append(out, &dns.TXT{Hdr: header, Txt: splitTXT(v)})
		}
		return out, nil
	}

	for _, rdata := range r.RData() {
		text := fqdn + " " + strconv.Itoa(r.TTL) + " IN " + string(rrType) + " " + rdata
		rr, err := dns.NewRR(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r, err)
		}
		if rr == nil {
			return nil, fmt.Errorf("%w: %s: empty value", ErrInvalidRecord, r)
		}
		out = append(out, rr)
	}
	return out, nil
}

func (r Record) hostnames() []string {
	var hosts []string
	switch r.Type {
	case RecordTypeCNAME, RecordTypeALIAS, RecordTypeNS:
		hosts = append(hosts, r.Values...)
	case RecordTypeMX:
		for _, v := range r.MX {
			hosts = append(hosts, v.Exchange)
		}
	case RecordTypeSRV:
		for _, v := range r.SRV {
			hosts = append(hosts, v.Target)
		}
	}
	return hosts
}

// splitTXT breaks a TXT value into character-strings of at most 255 bytes.
func splitTXT(v string) []string {
	if len(v) <= 255 {
		return []string{v}
	}
	var parts []string
	for len(v) > 255 {
		parts = append(parts, v[:255])
		v = v[255:]
	}
	return append(parts, v)
}
