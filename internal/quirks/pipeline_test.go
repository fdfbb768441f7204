package quirks

import (
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/soap"
)

var testOpts = Options{BaseURL: "http://proxy.local:8000", BasePath: "onvif"}

var reolink = &camera.Descriptor{ID: "camera-01", Address: "192.168.1.10:8000", Model: camera.ModelReolink}

const rawDeviceInfo = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
<SOAP-ENV:Body><tds:GetDeviceInformationResponse>
<tds:Manufacturer>Reolink</tds:Manufacturer><tds:Model>RLC-810A</tds:Model>
<tt:Extension/>
</tds:GetDeviceInformationResponse></SOAP-ENV:Body></SOAP-ENV:Envelope>`

func parse(t *testing.T, s string) *soap.Envelope {
	t.Helper()
	env, err := soap.Parse([]byte(s))
	require.NoError(t, err)
	return env
}

func TestParseQuirk(t *testing.T) {
	for q, name := range quirkNames {
		got, err := ParseQuirk(name)
		require.NoError(t, err)
		assert.Equal(t, q, got)
	}
	_, err := ParseQuirk("make_it_work")
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestBuildRejectsUnknownQuirk(t *testing.T) {
	_, err := Build([]string{"fix_device_info_namespace", "bogus"}, testOpts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestBuildKeepsDeclaredOrder(t *testing.T) {
	p, err := Build([]string{"translate_smart_events", "fix_device_info_namespace", "translate_smart_events"}, testOpts)
	require.NoError(t, err)
	assert.Equal(t, []Quirk{TranslateSmartEvents, FixDeviceInfoNamespace}, p.Quirks())
	assert.True(t, p.Has(TranslateSmartEvents))
	assert.False(t, p.Has(NormalizeMediaProfiles))
}

func TestDeviceInfoNamespaceScenario(t *testing.T) {
	p, err := Build([]string{"fix_device_info_namespace", "translate_smart_events"}, testOpts)
	require.NoError(t, err)

	raw := parse(t, rawDeviceInfo)
	env := p.ApplyResponse(raw.Clone(), Exchange{Camera: reolink, Service: "device_service"})

	out, err := env.Serialize()
	require.NoError(t, err)
	reparsed := parse(t, string(out))
	assert.Empty(t, reparsed.Unresolved())

	uri, ok := reparsed.Lookup("tt")
	require.True(t, ok)
	assert.Equal(t, "http://www.onvif.org/ver10/schema", uri)
	assert.Contains(t, string(out), `xmlns:tt="http://www.onvif.org/ver10/schema"`)

	for _, field := range []string{"Manufacturer", "Model"} {
		assert.Equal(t, soap.Text(raw.Operation(), field), soap.Text(reparsed.Operation(), field))
	}
}

func TestFixDeviceInfoNamespaceOnlyTouchesDeviceService(t *testing.T) {
	p, err := Build([]string{"fix_device_info_namespace"}, testOpts)
	require.NoError(t, err)

	env := p.ApplyResponse(parse(t, rawDeviceInfo), Exchange{Camera: reolink, Service: "media_service"})
	assert.Equal(t, []string{"tt"}, env.Unresolved())
}

func TestAddMissingNamespacesLeavesUnknownPrefixes(t *testing.T) {
	p, err := Build([]string{"add_missing_namespaces"}, testOpts)
	require.NoError(t, err)

	env := parse(t, `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
<trt:GetProfiles/><acme:Thing/></s:Body></s:Envelope>`)
	env = p.ApplyRequest(env, Exchange{Camera: reolink, Service: "media_service"})
	assert.Equal(t, []string{"acme"}, env.Unresolved())
	_, ok := env.Lookup("acme")
	assert.False(t, ok)
}

func TestRulesAreIdempotent(t *testing.T) {
	inputs := []struct {
		service string
		body    string
	}{
		{"device_service", rawDeviceInfo},
		{"device_service", capabilitiesResponse},
		{"device_service", servicesResponse},
		{"media_service", profilesResponse},
		{"media_service", streamURIResponse},
		{"event_service", eventPropertiesResponse},
	}
	p, err := Build([]string{
		"fix_device_info_namespace", "add_missing_namespaces", "normalize_media_profiles",
		"translate_smart_events", "rewrite_stream_uris",
	}, testOpts)
	require.NoError(t, err)

	for _, in := range inputs {
		x := Exchange{Camera: reolink, Service: in.service}
		for _, r := range p.response {
			once := r.fn(parse(t, in.body), x)
			twice := r.fn(once.Clone(), x)
			a, err := once.Serialize()
			require.NoError(t, err)
			b, err := twice.Serialize()
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b), "%s on %s", r.name, in.service)
		}
	}
}

func TestRulesIgnoreUnrelatedOperations(t *testing.T) {
	p, err := Build([]string{"normalize_media_profiles", "translate_smart_events", "rewrite_stream_uris"}, testOpts)
	require.NoError(t, err)

	env := parse(t, rawDeviceInfo)
	before, err := env.Serialize()
	require.NoError(t, err)
	after, err := p.ApplyResponse(env, Exchange{Camera: reolink, Service: "device_service"}).Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestTopicClassify(t *testing.T) {
	cases := []struct {
		topic string
		smart bool
		class string
		ok    bool
	}{
		{"tns1:RuleEngine/MyRuleDetector/PeopleDetect", true, "person", true},
		{"RuleEngine/MyRuleDetector/VehicleDetect", true, "vehicle", true},
		{"tns1:RuleEngine/MyRuleDetector/DogCatDetect", true, "pet", true},
		{"tns1:RuleEngine/MyRuleDetector/FaceDetect", true, "face", true},
		{"tns1:RuleEngine/MyRuleDetector/PeopleDetect", false, "", false},
		{"tns1:RuleEngine/tt:CellMotionDetector/tt:Motion", false, ClassMotion, true},
		{"tns1:VideoSource/ImageTooDark", true, "", false},
		{"tns1:RuleEngine/MyRuleDetector/Unknown", true, "", false},
	}
	for _, c := range cases {
		class, ok := DefaultSmartTopics.Classify(c.topic, c.smart)
		assert.Equal(t, c.ok, ok, c.topic)
		assert.Equal(t, c.class, class, c.topic)
	}
}

func TestStripTopicPrefixes(t *testing.T) {
	assert.Equal(t, MotionTopic, StripTopicPrefixes(" tns1:RuleEngine/tt:CellMotionDetector/Motion "))
	assert.True(t, strings.HasPrefix(StripTopicPrefixes("reo:RuleEngine/MyRuleDetector/PeopleDetect"), SmartRulePrefix))
}
