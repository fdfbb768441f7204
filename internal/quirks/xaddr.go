package quirks

import (
	"net/url"
	"path"
	"strings"

	"github.com/beevik/etree"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/soap"
)

const eventService = "event_service"

// Proxy service names for capability categories and service namespaces.
var (
	capabilityServices = map[string]string{
		"Device":    "device_service",
		"Media":     "media_service",
		"Events":    eventService,
		"PTZ":       "ptz_service",
		"Imaging":   "imaging_service",
		"Analytics": "analytics_service",
		"DeviceIO":  "deviceio_service",
		"Recording": "recording_service",
		"Search":    "search_service",
		"Replay":    "replay_service",
	}
	namespaceServices = map[string]string{
		soap.NamespaceDevice:  "device_service",
		soap.NamespaceMedia:   "media_service",
		soap.NamespaceMedia2:  "media2_service",
		soap.NamespaceEvents:  eventService,
		soap.NamespacePTZ:     "ptz_service",
		soap.NamespaceImaging: "imaging_service",
	}
)

// ProxyURL returns the address through which NVRs reach service on
// cameraID.
func ProxyURL(opts Options, cameraID, service string) string {
	return ProxyPrefix(opts, cameraID) + service
}

// ProxyPrefix returns the proxy address of cameraID with a trailing slash.
func ProxyPrefix(opts Options, cameraID string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(opts.BaseURL, "/"))
	if bp := strings.Trim(opts.BasePath, "/"); bp != "" {
		b.WriteString("/")
		b.WriteString(bp)
	}
	b.WriteString("/")
	b.WriteString(cameraID)
	b.WriteString("/")
	return b.String()
}

// XAddrRewriter returns the always-on rule that points every advertised
// service address back through the proxy.
func XAddrRewriter(opts Options) Rule {
	return func(env *soap.Envelope, x Exchange) *soap.Envelope {
		if x.Camera == nil {
			return env
		}
		prefix := ProxyPrefix(opts, x.Camera.ID)
		for _, el := range soap.FindAll(env.Body(), "XAddr") {
			addr := camera.FirstAddress(el.Text())
			if addr == "" || strings.HasPrefix(addr, prefix) {
				continue
			}
			el.SetText(prefix + serviceFor(addr, el.Parent()))
		}
		return env
	}
}

// serviceFor names the service behind a native XAddr. The event service is
// always advertised as event_service because the proxy serves it itself.
// Other services keep the last path segment when it names one, otherwise
// the capability or namespace the address is advertised under.
func serviceFor(addr string, parent *etree.Element) string {
	declared := ""
	if parent != nil {
		if svc, ok := capabilityServices[parent.Tag]; ok {
			declared = svc
		} else if svc, ok := namespaceServices[soap.Text(parent, "Namespace")]; ok {
			declared = svc
		}
	}
	if declared == eventService {
		return declared
	}
	if u, err := url.Parse(addr); err == nil {
		seg := path.Base(u.Path)
		if seg != "" && seg != "." && seg != "/" && seg != "onvif" {
			return seg
		}
	}
	if declared != "" {
		return declared
	}
	return "device_service"
}

// IsCanonicalService reports whether name is one of the proxy's own
// service names rather than a path segment taken from a camera.
func IsCanonicalService(name string) bool {
	for _, svc := range capabilityServices {
		if svc == name {
			return true
		}
	}
	for _, svc := range namespaceServices {
		if svc == name {
			return true
		}
	}
	return false
}

// EventXAddr returns the native event service address advertised in a
// GetCapabilities or GetServices reply, or "" when there is none.
func EventXAddr(body *etree.Element) string {
	for _, el := range soap.FindAll(body, "XAddr") {
		parent := el.Parent()
		if parent == nil {
			continue
		}
		if parent.Tag == "Events" || soap.Text(parent, "Namespace") == soap.NamespaceEvents {
			return camera.FirstAddress(el.Text())
		}
	}
	return ""
}
