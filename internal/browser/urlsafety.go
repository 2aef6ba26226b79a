package browser

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// URLSafetyError represents a URL that was blocked by the navigation policy
type URLSafetyError struct {
	URL    string
	Reason string
}

func (e *URLSafetyError) Error() string {
	return fmt.Sprintf("URL blocked: %s", e.Reason)
}

// URLPolicy decides which URLs model-driven navigation may load. Only
// http and https are allowed. Unless AllowPrivate is set, hosts that
// resolve to loopback, private, link-local or metadata addresses are
// rejected.
type URLPolicy struct {
	AllowPrivate bool

	// lookup resolves hostnames; net.LookupIP when nil.
	lookup func(host string) ([]net.IP, error)
}

// Check returns a URLSafetyError if rawURL may not be loaded.
func (p URLPolicy) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &URLSafetyError{URL: rawURL, Reason: fmt.Sprintf("invalid URL: %v", err)}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return &URLSafetyError{URL: rawURL, Reason: fmt.Sprintf("scheme '%s' not allowed, only http/https", parsed.Scheme)}
	}

	host := parsed.Hostname()
	if host == "" {
		return &URLSafetyError{URL: rawURL, Reason: "empty hostname"}
	}
	if p.AllowPrivate {
		return nil
	}

	if isCloudMetadataHost(host) {
		return &URLSafetyError{URL: rawURL, Reason: fmt.Sprintf("cloud metadata hostname blocked: %s", host)}
	}

	// Resolving catches decimal, hex and short-form IPs as well as names
	// that point at internal addresses.
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		lookup := p.lookup
		if lookup == nil {
			lookup = net.LookupIP
		}
		ips, err = lookup(host)
		if err != nil {
			return &URLSafetyError{URL: rawURL, Reason: fmt.Sprintf("DNS resolution failed: %v", err)}
		}
	}

	for _, ip := range ips {
		if reason := isBlockedIP(ip); reason != "" {
			L_debug("urlsafety: blocked IP", "url", rawURL, "host", host, "ip", ip.String(), "reason", reason)
			return &URLSafetyError{URL: rawURL, Reason: fmt.Sprintf("%s (%s resolves to %s)", reason, host, ip.String())}
		}
	}
	return nil
}

// isBlockedIP returns a reason string if the IP should be blocked, empty string if OK
func isBlockedIP(ip net.IP) string {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	switch {
	case ip.IsLoopback():
		return "loopback address blocked"
	case ip.IsPrivate():
		return "private network address blocked"
	case ip.IsLinkLocalUnicast():
		return "link-local address blocked"
	case ip.IsLinkLocalMulticast(), ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return "multicast address blocked"
	case ip.IsUnspecified():
		return "unspecified address blocked"
	}
	return ""
}

var metadataHosts = []string{
	"metadata.google.internal",
	"metadata.goog",
	"kubernetes.default.svc",
	"kubernetes.default",
	"metadata",
}

func isCloudMetadataHost(host string) bool {
	host = strings.ToLower(host)
	for _, mh := range metadataHosts {
		if host == mh || strings.HasSuffix(host, "."+mh) {
			return true
		}
	}
	return false
}
