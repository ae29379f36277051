package obfs

import (
	"fmt"

	"github.com/miekg/dns"
)

// dnsMimicName is the placeholder query name carried by every DNS mimic frame.
const dnsMimicName = "example.com."

// dnsPrefix is the fixed header and question of a DNS mimic frame: id 0,
// recursion desired, one A/IN question for dnsMimicName.
var dnsPrefix = buildDNSPrefix()

func buildDNSPrefix() []byte {
	m := new(dns.Msg)
	m.SetQuestion(dnsMimicName, dns.TypeA)
	m.Id = 0
	m.Compress = false

	b, err := m.Pack()
	if err != nil {
		panic(fmt.Sprintf("obfs: packing dns mimic prefix: %v", err))
	}
	if len(b) != dnsHeaderLen+dnsQuestionLen {
		panic(fmt.Sprintf("obfs: dns mimic prefix is %d bytes, want %d", len(b), dnsHeaderLen+dnsQuestionLen))
	}
	return b
}
