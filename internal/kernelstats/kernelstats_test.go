package kernelstats

import (
	"strings"
	"testing"
)

const sampleSNMP = `Ip: Forwarding DefaultTTL InReceives
Ip: 1 64 12345
Icmp: InMsgs InErrors
Icmp: 10 0
Udp: InDatagrams NoPorts InErrors OutDatagrams RcvbufErrors SndbufErrors
Udp: 5000 2 42 4800 0 0
UdpLite: InDatagrams NoPorts InErrors
UdpLite: 0 0 0
`

func TestParseUDPInErrors(t *testing.T) {
	sample, err := parseUDPInErrors(strings.NewReader(sampleSNMP))
	if err != nil {
		t.Fatalf("parseUDPInErrors returned error: %v", err)
	}
	if sample.InErrors != 42 {
		t.Fatalf("InErrors = %d, want 42", sample.InErrors)
	}
	if sample.SampledAt.IsZero() {
		t.Error("expected SampledAt to be set")
	}
}

func TestParseUDPInErrorsMissingSection(t *testing.T) {
	const noUDP = `Ip: Forwarding DefaultTTL
Ip: 1 64
`
	if _, err := parseUDPInErrors(strings.NewReader(noUDP)); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestParseUDPInErrorsMissingColumn(t *testing.T) {
	const noColumn = `Udp: InDatagrams NoPorts
Udp: 5000 2
`
	if _, err := parseUDPInErrors(strings.NewReader(noColumn)); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestParseUDPInErrorsMalformedValue(t *testing.T) {
	const badValue = `Udp: InDatagrams InErrors
Udp: 5000 notanumber
`
	if _, err := parseUDPInErrors(strings.NewReader(badValue)); err == nil {
		t.Fatal("expected a parse error for a non-numeric InErrors field")
	}
}
