// Package discovery finds ONVIF cameras on the local network with a
// WS-Discovery probe. It is used to help fill in the camera list; the
// gateway itself never discovers cameras.
package discovery

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"

	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/soap"
)

const (
	DefaultTimeout       = 3 * time.Second
	DefaultMulticastAddr = "239.255.255.250:3702"

	namespaceAddressing = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
	namespaceDiscovery  = "http://schemas.xmlsoap.org/ws/2005/04/discovery"
	namespaceNetwork    = "http://www.onvif.org/ver10/network/wsdl"

	probeAction = namespaceDiscovery + "/Probe"
	probeTo     = "urn:schemas-xmlsoap-org:ws:2005:04:discovery"

	scopeName     = "onvif://www.onvif.org/name/"
	scopeLocation = "onvif://www.onvif.org/location/"
	scopeHardware = "onvif://www.onvif.org/hardware/"
)

// Options configures a probe.
type Options struct {
	Timeout       time.Duration
	MulticastAddr string
}

// Device is one camera that answered the probe.
type Device struct {
	Endpoint string
	XAddrs   []string
	Name     string
	Location string
	Hardware string
	Types    []string
}

// Address returns host:port of the device's first service address, the
// form expected in the camera list.
func (d Device) Address() string {
	for _, x := range d.XAddrs {
		if i := strings.Index(x, "://"); i >= 0 {
			rest := x[i+3:]
			if j := strings.IndexByte(rest, '/'); j >= 0 {
				rest = rest[:j]
			}
			return rest
		}
	}
	return ""
}

// Probe multicasts a probe for network video transmitters and collects
// the matches received until the timeout or ctx expires. Devices are
// deduplicated by their first XAddr.
func Probe(ctx context.Context, opts Options) ([]Device, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MulticastAddr == "" {
		opts.MulticastAddr = DefaultMulticastAddr
	}
	log := logging.With("discovery")

	addr, err := net.ResolveUDPAddr("udp4", opts.MulticastAddr)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve multicast address")
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	deadline := time.Now().Add(opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Trace(err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	msg, err := probeMessage()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := conn.WriteToUDP(msg, addr); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}

	found := map[string]Device{}
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return nil, errors.Trace(err)
		}
		matches, err := parseMatches(buf[:n])
		if err != nil {
			log.Debug().Err(err).Str("from", from.String()).Msg("ignoring discovery reply")
			continue
		}
		for _, d := range matches {
			key := d.Endpoint
			if len(d.XAddrs) > 0 {
				key = d.XAddrs[0]
			}
			if _, ok := found[key]; !ok {
				found[key] = d
			}
		}
	}

	out := make([]Device, 0, len(found))
	for _, d := range found {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out, nil
}

func probeMessage() ([]byte, error) {
	env, op := soap.NewMessage("d:Probe")
	env.Bind("a", namespaceAddressing)
	env.Bind("d", namespaceDiscovery)
	env.Bind("dn", namespaceNetwork)

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	h := env.EnsureHeader()
	h.CreateElement("a:Action").SetText(probeAction)
	h.CreateElement("a:MessageID").SetText("uuid:" + id.String())
	h.CreateElement("a:To").SetText(probeTo)
	op.CreateElement("d:Types").SetText("dn:NetworkVideoTransmitter")
	return env.Serialize()
}

func parseMatches(data []byte) ([]Device, error) {
	env, err := soap.Parse(data)
	if err != nil {
		return nil, err
	}
	if env.Action() != "ProbeMatches" {
		return nil, errors.Errorf("unexpected %q", env.Action())
	}

	var out []Device
	for _, m := range soap.Children(env.Operation(), "ProbeMatch") {
		d := Device{
			Endpoint: soap.Text(m, "EndpointReference", "Address"),
			XAddrs:   strings.Fields(soap.Text(m, "XAddrs")),
		}
		for _, t := range strings.Fields(soap.Text(m, "Types")) {
			d.Types = append(d.Types, soap.Local(t))
		}
		for _, scope := range strings.Fields(soap.Text(m, "Scopes")) {
			switch {
			case strings.HasPrefix(scope, scopeName):
				d.Name = scopeValue(scope, scopeName)
			case strings.HasPrefix(scope, scopeLocation):
				d.Location = scopeValue(scope, scopeLocation)
			case strings.HasPrefix(scope, scopeHardware):
				d.Hardware = scopeValue(scope, scopeHardware)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func scopeValue(scope, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(scope, prefix), "_", " ")
}
