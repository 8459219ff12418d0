package scanning

import (
	"fmt"
	"strings"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

const (
	dnsPort  = 53
	snmpPort = 161

	dnsProbeName  = "example.com"
	snmpCommunity = "public"
	sysDescrOID   = ".1.3.6.1.2.1.1.1.0"
)

var (
	// tcpProbe elicits a reply from servers that wait for the client.
	tcpProbe = []byte("HEAD / HTTP/1.0\r\n\r\n")

	// udpProbe is sent to ports without a protocol-specific payload.
	udpProbe = []byte("\n")
)

// udpPayload returns the datagram sent to port. Well-known ports get a real
// request so that a conforming server answers.
func udpPayload(port uint16) []byte {
	switch port {
	case dnsPort:
		if b, err := dnsQuery(); err == nil {
			return b
		}
	case snmpPort:
		if b, err := snmpGetRequest(); err == nil {
			return b
		}
	}
	return udpProbe
}

func dnsQuery() ([]byte, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(dnsProbeName), dns.TypeA)
	msg.RecursionDesired = true
	return msg.Pack()
}

func snmpGetRequest() ([]byte, error) {
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: snmpCommunity,
		PDUType:   gosnmp.GetRequest,
		RequestID: 1,
		Variables: []gosnmp.SnmpPDU{
			{Name: sysDescrOID, Type: gosnmp.Null},
		},
	}
	return packet.MarshalMsg()
}

// decodeDatagram recognises DNS and SNMP replies by parsing them. It reports
// false when neither decoder accepts the datagram.
func decodeDatagram(raw []byte) (service, version string, ok bool) {
	if service, version, ok = decodeDNS(raw); ok {
		return service, version, true
	}
	return decodeSNMP(raw)
}

func decodeDNS(raw []byte) (string, string, bool) {
	var reply dns.Msg
	if err := reply.Unpack(raw); err != nil || !reply.Response || len(reply.Question) == 0 {
		return "", "", false
	}
	rcode, ok := dns.RcodeToString[reply.Rcode]
	if !ok {
		rcode = fmt.Sprintf("RCODE%d", reply.Rcode)
	}
	return string(ServiceDNS), "response " + rcode, true
}

func decodeSNMP(raw []byte) (string, string, bool) {
	// Only BER SEQUENCE datagrams can be SNMP.
	if len(raw) < 2 || raw[0] != 0x30 {
		return "", "", false
	}
	decoder := &gosnmp.GoSNMP{Version: gosnmp.Version2c, Community: snmpCommunity}
	packet, err := decoder.SnmpDecodePacket(raw)
	if err != nil || packet.PDUType != gosnmp.GetResponse {
		return "", "", false
	}

	version := fmt.Sprintf("SNMPv%s", packet.Version)
	for _, v := range packet.Variables {
		if strings.TrimPrefix(v.Name, ".") != strings.TrimPrefix(sysDescrOID, ".") {
			continue
		}
		if b, ok := v.Value.([]byte); ok && len(b) > 0 {
			version = firstLine(string(b))
		}
	}
	return string(ServiceSNMP), version, true
}
