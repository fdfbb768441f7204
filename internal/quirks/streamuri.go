package quirks

import (
	"net"
	"net/url"
	"strings"

	"github.com/use-go/onvif-proxy/internal/soap"
)

// rewriteStreamURIs replaces the host of stream and snapshot URIs with the
// camera's configured host. Cameras behind NAT or with several interfaces
// often report an address NVRs cannot reach.
func rewriteStreamURIs(env *soap.Envelope, x Exchange) *soap.Envelope {
	op := env.Operation()
	if op == nil || x.Camera == nil {
		return env
	}
	if op.Tag != "GetStreamUriResponse" && op.Tag != "GetSnapshotUriResponse" {
		return env
	}
	host := x.Camera.Host()
	for _, el := range soap.FindAll(op, "Uri") {
		if rewritten, ok := withHost(strings.TrimSpace(el.Text()), host); ok {
			el.SetText(rewritten)
		}
	}
	return env
}

// withHost swaps the host of raw, keeping scheme, credentials, port, path
// and query.
func withHost(raw, host string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || host == "" {
		return raw, false
	}
	next := host
	if port := u.Port(); port != "" {
		next = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		next = "[" + host + "]"
	}
	if u.Host == next {
		return raw, false
	}
	u.Host = next
	return u.String(), true
}
