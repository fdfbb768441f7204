// Package quirks repairs non-compliant ONVIF traffic. Each camera gets a
// Pipeline built once from its configured quirk names; the pipeline
// applies request rules before forwarding and response rules after the
// camera replies, in declared order.
package quirks

import (
	"strings"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// Quirk identifies one known category of camera non-compliance.
type Quirk int

const (
	FixDeviceInfoNamespace Quirk = iota + 1
	AddMissingNamespaces
	NormalizeMediaProfiles
	TranslateSmartEvents
	RewriteStreamURIs
)

var quirkNames = map[Quirk]string{
	FixDeviceInfoNamespace: "fix_device_info_namespace",
	AddMissingNamespaces:   "add_missing_namespaces",
	NormalizeMediaProfiles: "normalize_media_profiles",
	TranslateSmartEvents:   "translate_smart_events",
	RewriteStreamURIs:      "rewrite_stream_uris",
}

func (q Quirk) String() string {
	if n, ok := quirkNames[q]; ok {
		return n
	}
	return "unknown"
}

// ParseQuirk resolves a configured quirk name.
func ParseQuirk(name string) (Quirk, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for q, n := range quirkNames {
		if n == name {
			return q, nil
		}
	}
	return 0, errors.NotValidf("quirk %q", name)
}

// Exchange describes the request an envelope belongs to.
type Exchange struct {
	Camera  *camera.Descriptor
	Service string // proxy service name, e.g. "device_service"
}

// Rule transforms an envelope in place and returns it. Applying a rule
// twice has the same effect as applying it once; rules that find nothing
// to do leave the envelope untouched.
type Rule func(env *soap.Envelope, x Exchange) *soap.Envelope

type namedRule struct {
	name string
	fn   Rule
}

// Options holds the proxy-wide values rules need.
type Options struct {
	BaseURL     string
	BasePath    string
	SmartTopics TopicMap // DefaultSmartTopics when nil
}

// Topics returns the configured smart topic table.
func (o Options) Topics() TopicMap {
	if len(o.SmartTopics) == 0 {
		return DefaultSmartTopics
	}
	return o.SmartTopics
}

// Pipeline is the ordered rule list of one camera.
type Pipeline struct {
	quirks   []Quirk
	request  []namedRule
	response []namedRule
	log      zerolog.Logger
}

// Build resolves names into a pipeline. Unknown names are an error;
// repeated names are applied once.
func Build(names []string, opts Options) (*Pipeline, error) {
	p := &Pipeline{log: logging.With("quirks")}
	seen := map[Quirk]bool{}
	for _, name := range names {
		q, err := ParseQuirk(name)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if seen[q] {
			continue
		}
		seen[q] = true
		p.quirks = append(p.quirks, q)

		switch q {
		case FixDeviceInfoNamespace:
			p.response = append(p.response, namedRule{q.String(), p.fixDeviceInfoNamespace})
		case AddMissingNamespaces:
			p.request = append(p.request, namedRule{q.String(), p.addMissingNamespaces})
			p.response = append(p.response, namedRule{q.String(), p.addMissingNamespaces})
		case NormalizeMediaProfiles:
			p.response = append(p.response, namedRule{q.String(), normalizeMediaProfiles})
		case TranslateSmartEvents:
			p.response = append(p.response, namedRule{q.String(), eventPropertiesRule(opts.Topics())})
		case RewriteStreamURIs:
			p.response = append(p.response, namedRule{q.String(), rewriteStreamURIs})
		}
	}
	p.response = append(p.response, namedRule{"rewrite_xaddrs", XAddrRewriter(opts)})
	return p, nil
}

// Has reports whether the pipeline was built with q.
func (p *Pipeline) Has(q Quirk) bool {
	for _, have := range p.quirks {
		if have == q {
			return true
		}
	}
	return false
}

// Quirks returns the configured quirks in declared order.
func (p *Pipeline) Quirks() []Quirk {
	return append([]Quirk(nil), p.quirks...)
}

// ApplyRequest runs the request-side rules.
func (p *Pipeline) ApplyRequest(env *soap.Envelope, x Exchange) *soap.Envelope {
	return p.apply(p.request, env, x)
}

// ApplyResponse runs the response-side rules.
func (p *Pipeline) ApplyResponse(env *soap.Envelope, x Exchange) *soap.Envelope {
	return p.apply(p.response, env, x)
}

func (p *Pipeline) apply(rules []namedRule, env *soap.Envelope, x Exchange) *soap.Envelope {
	for _, r := range rules {
		env = r.fn(env, x)
		p.log.Trace().Str("rule", r.name).Str("action", env.Action()).Msg("rule applied")
	}
	return env
}
