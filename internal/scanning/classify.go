package scanning

import (
	"bytes"
	"strings"
)

// ServiceKind is a service family recognised from a banner.
type ServiceKind string

const (
	ServiceSSH     ServiceKind = "ssh"
	ServiceHTTP    ServiceKind = "http"
	ServiceHTTPS   ServiceKind = "https"
	ServiceFTP     ServiceKind = "ftp"
	ServiceSMTP    ServiceKind = "smtp"
	ServiceIMAP    ServiceKind = "imap"
	ServicePOP3    ServiceKind = "pop3"
	ServiceTelnet  ServiceKind = "telnet"
	ServiceDNS     ServiceKind = "dns"
	ServiceSNMP    ServiceKind = "snmp"
	ServiceUnknown ServiceKind = "unknown"
)

type signature struct {
	token string
	kind  ServiceKind
}

// signatures are matched in order against the lower-cased response. The
// first hit wins, so an HTTP banner that also mentions "ssl" stays http.
var signatures = []signature{
	{"ssh", ServiceSSH},
	{"http/1.0", ServiceHTTP},
	{"http/1.1", ServiceHTTP},
	{"https", ServiceHTTPS},
	{"ssl", ServiceHTTPS},
	{"ftp", ServiceFTP},
	{"smtp", ServiceSMTP},
	{"imap", ServiceIMAP},
	{"pop3", ServicePOP3},
	{"telnet", ServiceTelnet},
	{"dns", ServiceDNS},
}

// Classifier maps a raw response to a service guess.
type Classifier interface {
	Classify(raw []byte) (service, version string)
}

// SignatureClassifier matches banners against the ordered signature list.
type SignatureClassifier struct{}

// Classify returns the first matching service and a version string. It is
// deterministic and never fails; unrecognised input yields "unknown" with
// the first response line as the version.
func (SignatureClassifier) Classify(raw []byte) (string, string) {
	text := string(bytes.ToValidUTF8(raw, []byte("�")))
	lower := strings.ToLower(text)

	for _, sig := range signatures {
		if strings.Contains(lower, sig.token) {
			return string(sig.kind), extractVersion(text)
		}
	}
	return string(ServiceUnknown), firstLine(text)
}

// extractVersion prefers a "Server:" header line, falling back to the first line.
func extractVersion(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), "server:") {
			return strings.TrimSpace(line)
		}
	}
	return firstLine(text)
}

func firstLine(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
