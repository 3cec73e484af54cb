package zonefile

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// ReadBIND parses an RFC 1035 master file. SOA records are ignored. Other
// types the model does not know are an error unless lenient is set, in which
// case they are skipped.
func ReadBIND(r io.Reader, zoneName string, lenient bool) (*provider.Zone, error) {
	zone := provider.NewZone(zoneName)

	type key struct {
		name string
		typ  provider.RecordType
	}
	var order []key
	sets := make(map[key]*provider.Record)

	zp := dns.NewZoneParser(r, zone.Name, "")
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		hdr := rr.Header()
		if hdr.Rrtype == dns.TypeSOA {
			continue
		}

		name := dns.Fqdn(strings.ToLower(hdr.Name))
		if !dns.IsSubDomain(zone.Name, name) {
			return nil, fmt.Errorf("%w: %s is outside zone %s", provider.ErrInvalidRecord, hdr.Name, zone.Name)
		}

		typ, err := provider.ParseRecordType(dns.TypeToString[hdr.Rrtype])
		if err != nil {
			if lenient {
				continue
			}
			return nil, err
		}

		k := key{name: zone.HostnameFromFqdn(name), typ: typ}
		set, exists := sets[k]
		if !exists {
			set = &provider.Record{Name: k.name, Type: typ, TTL: int(hdr.Ttl)}
			sets[k] = set
			order = append(order, k)
		}

		switch v := rr.(type) {
		case *dns.A:
			set.Values = append(set.Values, v.A.String())
		case *dns.AAAA:
			set.Values = append(set.Values, v.AAAA.String())
		case *dns.CNAME:
			set.Values = append(set.Values, v.Target)
		case *dns.NS:
			set.Values = append(set.Values, v.Ns)
		case *dns.TXT:
			set.Values = append(set.Values, strings.Join(v.Txt, ""))
		case *dns.MX:
			set.MX = append(set.MX, provider.MXValue{Preference: v.Preference, Exchange: v.Mx})
		case *dns.SRV:
			set.SRV = append(set.SRV, provider.SRVValue{
				Priority: v.Priority,
				Weight:   v.Weight,
				Port:     v.Port,
				Target:   v.Target,
			})
		case *dns.SSHFP:
			set.SSHFP = append(set.SSHFP, provider.SSHFPValue{
				Algorithm:       v.Algorithm,
				FingerprintType: v.Type,
				Fingerprint:     strings.ToLower(v.FingerPrint),
			})
		}
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parsing zone: %w", err)
	}

	for _, k := range order {
		if err := zone.AddRecord(*sets[k], lenient); err != nil {
			return nil, err
		}
	}

	return zone, nil
}

// WriteBIND renders zone as an RFC 1035 master file. ALIAS has no master
// file representation and is written as a comment.
func WriteBIND(w io.Writer, zone *provider.Zone) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "$ORIGIN %s\n", zone.Name)
	for _, r := range zone.Records() {
		if r.Type == provider.RecordTypeALIAS {
			fmt.Fprintf(bw, "; %s\t%d\tIN\tALIAS\t%s\n", r.Fqdn(zone.Name), r.TTL, r.Value())
			continue
		}

		rrs, err := r.RRs(zone.Name)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", r, err)
		}
		for _, rr := range rrs {
			fmt.Fprintln(bw, rr.String())
		}
	}

	return bw.Flush()
}
