// Package dnswire is the DNS wire-format collaborator: it builds a
// request from a textual descriptor and exposes the implicit reply
// decoder (transaction id + rcode) the core engine needs to correlate
// and classify replies. Everything else about a DNS message (its
// answer/authority/additional sections) is out of scope per the
// core's contract.
package dnswire

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// RcodeNames is the 16-entry rcode string table the stats aggregator
// indexes into by the reply's low 4 header bits. Printed in this order
// regardless of observed count, per the original dnsperf's report.
var RcodeNames = [16]string{
	0:  "NOERROR",
	1:  "FORMERR",
	2:  "SERVFAIL",
	3:  "NXDOMAIN",
	4:  "NOTIMP",
	5:  "REFUSED",
	6:  "YXDOMAIN",
	7:  "YXRRSET",
	8:  "NXRRSET",
	9:  "NOTAUTH",
	10: "NOTZONE",
	11: "RESERVED11",
	12: "RESERVED12",
	13: "RESERVED13",
	14: "RESERVED14",
	15: "BADVERS",
}

// Options carries the optional EDNS/DNSSEC-OK/TSIG parameters threaded
// through from the config layer. Parsing their command-line syntax is
// a collaborator concern the core never sees; Build receives them
// already resolved.
type Options struct {
	EDNSUDPSize uint16 // 0 disables EDNS0 unless DNSSECOK is set
	DNSSECOK    bool
	TSIGName    string
	TSIGSecret  string
	TSIGAlgo    string // defaults to dns.HmacSHA256 when TSIGName is set
}

// Builder builds wire-format DNS requests. One Builder per worker;
// *dns.Msg construction allocates fresh per call so concurrent use
// across workers sharing a Builder value is safe, but each worker
// owns its own instance in practice (internal/engine constructs one
// per worker from the same Options).
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build parses a "<qname>[ <qtype>]" descriptor line (qtype defaults
// to A) and packs a DNS query stamped with transaction id qid.
func (b *Builder) Build(text string, qid uint16) ([]byte, error) {
	name, qtype, err := parseDescriptor(text)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.Id = qid
	m.RecursionDesired = true
	m.SetQuestion(dns.Fqdn(name), qtype)

	if b.opts.EDNSUDPSize > 0 || b.opts.DNSSECOK {
		m.SetEdns0(b.opts.EDNSUDPSize, b.opts.DNSSECOK)
	}

	if b.opts.TSIGName != "" {
		algo := b.opts.TSIGAlgo
		if algo == "" {
			algo = dns.HmacSHA256
		}
		m.SetTsig(dns.Fqdn(b.opts.TSIGName), algo, 300, time.Now().Unix())
		out, _, err := dns.TsigGenerate(m, b.opts.TSIGSecret, "", false)
		if err != nil {
			return nil, errors.Wrap(err, "sign dns message")
		}
		return out, nil
	}

	out, err := m.Pack()
	if err != nil {
		return nil, errors.Wrap(err, "pack dns message")
	}
	return out, nil
}

func parseDescriptor(text string) (string, uint16, error) {
	fields := strings.Fields(text)
	switch len(fields) {
	case 1:
		return fields[0], dns.TypeA, nil
	case 2:
		qtype, ok := dns.StringToType[strings.ToUpper(fields[1])]
		if !ok {
			return "", 0, errors.Errorf("unknown query type %q", fields[1])
		}
		return fields[0], qtype, nil
	default:
		return "", 0, errors.Errorf("invalid query descriptor %q", text)
	}
}

// ExtractIDAndRcode reads the transaction id and rcode straight out of
// the wire header, without a full dns.Msg.Unpack: the first 16-bit
// word is the id, the low 4 bits of the second are the rcode. Returns
// ok=false for anything shorter than a DNS header (the caller treats
// that as a "short response").
func ExtractIDAndRcode(reply []byte) (id uint16, rcode uint8, ok bool) {
	if len(reply) < 4 {
		return 0, 0, false
	}
	id = binary.BigEndian.Uint16(reply[0:2])
	flags := binary.BigEndian.Uint16(reply[2:4])
	rcode = uint8(flags & 0x0F)
	return id, rcode, true
}
