package selectel

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// MinTTL is the lowest TTL Selectel accepts. Lower TTLs are raised to it on write.
const MinTTL = 60

// maxTXTChunk is the longest character-string a TXT rdata segment may hold.
const maxTXTChunk = 255

// SupportedTypes are the record types the Selectel API can store.
var SupportedTypes = []provider.RecordType{
	provider.RecordTypeA,
	provider.RecordTypeAAAA,
	provider.RecordTypeALIAS,
	provider.RecordTypeCNAME,
	provider.RecordTypeMX,
	provider.RecordTypeNS,
	provider.RecordTypeSRV,
	provider.RecordTypeSSHFP,
	provider.RecordTypeTXT,
}

func unsupported(t string) error {
	return fmt.Errorf("%w: DNS record with type %s not supported", provider.ErrUnsupportedType, t)
}

// ToRRSet converts a record of zoneName into its wire form.
// Composite values are flattened into one space-separated content string per value.
func ToRRSet(zoneName string, r provider.Record) (RRSet, error) {
	rrset := RRSet{
		Name: r.Fqdn(zoneName),
		Type: string(r.Type),
		TTL:  max(MinTTL, r.TTL),
	}

	var contents []string
	switch r.Type {
	case provider.RecordTypeA, provider.RecordTypeAAAA, provider.RecordTypeNS:
		contents = r.Values
	case provider.RecordTypeTXT:
		for _, v := range r.Values {
			contents = append(contents, quoteTXT(v))
		}
	case provider.RecordTypeCNAME, provider.RecordTypeALIAS:
		if r.Value() == "" {
			return RRSet{}, fmt.Errorf("%w: %s has no value", provider.ErrInvalidRecord, r.Fqdn(zoneName))
		}
		contents = []string{r.Value()}
	case provider.RecordTypeMX, provider.RecordTypeSRV, provider.RecordTypeSSHFP:
		contents = r.RData()
	default:
		return RRSet{}, unsupported(string(r.Type))
	}

	rrset.Records = make([]RRSetRecord, 0, len(contents))
	for _, c := range contents {
		rrset.Records = append(rrset.Records, RRSetRecord{Content: c, Disabled: false})
	}
	return rrset, nil
}

// FromRRSet converts a wire rrset of zone back into a record.
// Hostname values the API returns without a trailing dot are made fully qualified.
func FromRRSet(zone *provider.Zone, rrset RRSet) (provider.Record, error) {
	t, err := provider.ParseRecordType(rrset.Type)
	if err != nil {
		return provider.Record{}, unsupported(rrset.Type)
	}

	r := provider.Record{
		Name: zone.HostnameFromFqdn(rrset.Name),
		Type: t,
		TTL:  rrset.TTL,
	}

	if len(rrset.Records) == 0 {
		return provider.Record{}, fmt.Errorf("%w: rrset %s %s has no records", provider.ErrInvalidRecord, rrset.Name, rrset.Type)
	}

	switch t {
	case provider.RecordTypeA, provider.RecordTypeAAAA:
		for _, rec := range rrset.Records {
			r.Values = append(r.Values, rec.Content)
		}
	case provider.RecordTypeNS:
		for _, rec := range rrset.Records {
			r.Values = append(r.Values, dns.Fqdn(rec.Content))
		}
	case provider.RecordTypeTXT:
		for _, rec := range rrset.Records {
			r.Values = append(r.Values, unquoteTXT(rec.Content))
		}
	case provider.RecordTypeCNAME, provider.RecordTypeALIAS:
		r.Values = []string{dns.Fqdn(rrset.Records[0].Content)}
	case provider.RecordTypeMX:
		for _, rec := range rrset.Records {
			v, err := parseMX(rec.Content)
			if err != nil {
				return provider.Record{}, err
			}
			r.MX = append(r.MX, v)
		}
	case provider.RecordTypeSRV:
		for _, rec := range rrset.Records {
			v, err := parseSRV(rec.Content)
			if err != nil {
				return provider.Record{}, err
			}
			r.SRV = append(r.SRV, v)
		}
	case provider.RecordTypeSSHFP:
		for _, rec := range rrset.Records {
			v, err := parseSSHFP(rec.Content)
			if err != nil {
				return provider.Record{}, err
			}
			r.SSHFP = append(r.SSHFP, v)
		}
	default:
		return provider.Record{}, unsupported(rrset.Type)
	}

	return r, nil
}

func fields(t provider.RecordType, content string, want int) ([]string, error) {
	f := strings.Fields(content)
	if len(f) != want {
		return nil, fmt.Errorf("%w: %s content %q: expected %d fields, got %d",
			provider.ErrInvalidRecord, t, content, want, len(f))
	}
	return f, nil
}

func parseUint(t provider.RecordType, field, s string, bits int) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s %q: %v", provider.ErrInvalidRecord, t, field, s, err)
	}
	return n, nil
}

func parseMX(content string) (provider.MXValue, error) {
	f, err := fields(provider.RecordTypeMX, content, 2)
	if err != nil {
		return provider.MXValue{}, err
	}
	pref, err := parseUint(provider.RecordTypeMX, "preference", f[0], 16)
	if err != nil {
		return provider.MXValue{}, err
	}
	return provider.MXValue{Preference: uint16(pref), Exchange: dns.Fqdn(f[1])}, nil
}

func parseSRV(content string) (provider.SRVValue, error) {
	f, err := fields(provider.RecordTypeSRV, content, 4)
	if err != nil {
		return provider.SRVValue{}, err
	}
	var nums [3]uint16
	for i, name := range []string{"priority", "weight", "port"} {
		n, err := parseUint(provider.RecordTypeSRV, name, f[i], 16)
		if err != nil {
			return provider.SRVValue{}, err
		}
		nums[i] = uint16(n)
	}
	return provider.SRVValue{
		Priority: nums[0],
		Weight:   nums[1],
		Port:     nums[2],
		Target:   dns.Fqdn(f[3]),
	}, nil
}

func parseSSHFP(content string) (provider.SSHFPValue, error) {
	f, err := fields(provider.RecordTypeSSHFP, content, 3)
	if err != nil {
		return provider.SSHFPValue{}, err
	}
	alg, err := parseUint(provider.RecordTypeSSHFP, "algorithm", f[0], 8)
	if err != nil {
		return provider.SSHFPValue{}, err
	}
	fpType, err := parseUint(provider.RecordTypeSSHFP, "fingerprint_type", f[1], 8)
	if err != nil {
		return provider.SSHFPValue{}, err
	}
	return provider.SSHFPValue{
		Algorithm:       uint8(alg),
		FingerprintType: uint8(fpType),
		Fingerprint:     f[2],
	}, nil
}

var txtEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quoteTXT renders a TXT value as one or more quoted character-strings.
// Values longer than 255 bytes are split into consecutive segments, never
// inside a UTF-8 sequence.
func quoteTXT(v string) string {
	var segments []string
	for {
		chunk := v
		if len(chunk) > maxTXTChunk {
			cut := maxTXTChunk
			for cut > 0 && !utf8.RuneStart(v[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxTXTChunk
			}
			chunk = v[:cut]
		}
		segments = append(segments, `"`+txtEscaper.Replace(chunk)+`"`)
		v = v[len(chunk):]
		if v == "" {
			break
		}
	}
	return strings.Join(segments, " ")
}

// unquoteTXT reverses quoteTXT. Content that is not a sequence of quoted
// character-strings is returned verbatim.
func unquoteTXT(content string) string {
	s := strings.TrimSpace(content)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return content
	}

	var (
		sb      strings.Builder
		inQuote bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			sb.WriteByte(ch)
			escaped = false
		case inQuote && ch == '\\':
			escaped = true
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
			sb.WriteByte(ch)
		case ch == ' ' || ch == '\t':
			// separator between character-strings
		default:
			return content
		}
	}
	if inQuote || escaped {
		return content
	}
	return sb.String()
}
