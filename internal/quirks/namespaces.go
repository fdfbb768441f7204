package quirks

import (
	"github.com/use-go/onvif-proxy/internal/soap"
)

// fixDeviceInfoNamespace restores missing well-known bindings on device
// service replies.
func (p *Pipeline) fixDeviceInfoNamespace(env *soap.Envelope, x Exchange) *soap.Envelope {
	if x.Service != "device_service" {
		return env
	}
	return p.repair(env, x)
}

// addMissingNamespaces restores missing well-known bindings on every
// message.
func (p *Pipeline) addMissingNamespaces(env *soap.Envelope, x Exchange) *soap.Envelope {
	return p.repair(env, x)
}

func (p *Pipeline) repair(env *soap.Envelope, x Exchange) *soap.Envelope {
	bound, unresolved := env.Repair(soap.WellKnown)
	if len(bound) > 0 {
		p.log.Debug().Str("camera", cameraID(x)).Str("action", env.Action()).
			Strs("prefixes", bound).Msg("bound missing namespaces")
	}
	if len(unresolved) > 0 {
		p.log.Warn().Str("camera", cameraID(x)).Str("action", env.Action()).
			Strs("prefixes", unresolved).Msg("unknown namespace prefixes left unresolved")
	}
	return env
}

func cameraID(x Exchange) string {
	if x.Camera == nil {
		return ""
	}
	return x.Camera.ID
}
