package soap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceInfoResponse = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope">
  <SOAP-ENV:Body>
    <tds:GetDeviceInformationResponse>
      <tds:Manufacturer>Reolink</tds:Manufacturer>
      <tds:Model>RLC-810A</tds:Model>
      <tds:FirmwareVersion>v3.1.0</tds:FirmwareVersion>
      <tds:SerialNumber>0001</tds:SerialNumber>
      <tds:HardwareId>IPC_523</tds:HardwareId>
    </tds:GetDeviceInformationResponse>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestParseToleratesUnboundPrefixes(t *testing.T) {
	env, err := Parse([]byte(deviceInfoResponse))
	require.NoError(t, err)

	assert.Equal(t, "SOAP-ENV", env.Prefix())
	assert.Equal(t, "GetDeviceInformationResponse", env.Action())
	assert.Equal(t, []string{"tds"}, env.Unresolved())
	assert.Equal(t, "Reolink", Text(env.Operation(), "Manufacturer"))
}

func TestParseRejectsNonEnvelopes(t *testing.T) {
	cases := map[string]string{
		"not xml":      "this is not xml",
		"empty":        "",
		"wrong root":   `<Foo xmlns="urn:x"><Body/></Foo>`,
		"missing body": `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header/></s:Envelope>`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)
		})
	}
}

func TestSerializeHoistsNestedBindings(t *testing.T) {
	input := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <trt:GetProfilesResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
      <trt:Profiles token="p0">
        <tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">main</tt:Name>
        <tt:VideoSourceConfiguration xmlns:tt="http://www.onvif.org/ver10/schema"/>
      </trt:Profiles>
    </trt:GetProfilesResponse>
  </s:Body>
</s:Envelope>`
	env, err := Parse([]byte(input))
	require.NoError(t, err)

	out, err := env.Serialize()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Equal(t, 1, strings.Count(string(out), `xmlns:tt=`))
	assert.Equal(t, 1, strings.Count(string(out), `xmlns:trt=`))

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Empty(t, again.Unresolved())
	assert.Equal(t, []Binding{
		{Prefix: "s", URI: NamespaceSOAP12},
		{Prefix: "trt", URI: NamespaceMedia},
		{Prefix: "tt", URI: NamespaceSchema},
	}, again.Bindings())
	assert.True(t, Equal(env, again))
}

func TestSerializeKeepsConflictingBindingsInPlace(t *testing.T) {
	input := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:x="urn:one">
  <s:Body>
    <x:A><x:B xmlns:x="urn:two"/></x:A>
  </s:Body>
</s:Envelope>`
	env, err := Parse([]byte(input))
	require.NoError(t, err)

	out, err := env.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(out), `xmlns:x="urn:one"`)
	assert.Contains(t, string(out), `<x:B xmlns:x="urn:two"/>`)
}

func TestRoundTripIsIdempotent(t *testing.T) {
	env, err := Parse([]byte(deviceInfoResponse))
	require.NoError(t, err)
	first, err := env.Serialize()
	require.NoError(t, err)

	reparsed, err := Parse(first)
	require.NoError(t, err)
	second, err := reparsed.Serialize()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestRepairBindsKnownPrefixesOnly(t *testing.T) {
	input := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
  <s:Body>
    <tev:PullMessagesResponse>
      <wsnt:NotificationMessage>
        <wsnt:Topic Dialect="http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet">tns1:RuleEngine/CellMotionDetector/Motion</wsnt:Topic>
        <acme:Vendor/>
      </wsnt:NotificationMessage>
    </tev:PullMessagesResponse>
  </s:Body>
</s:Envelope>`
	env, err := Parse([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "tev", "tns1", "wsnt"}, env.Unresolved())

	bound, unresolved := env.Repair(WellKnown)
	assert.Equal(t, []string{"tev", "tns1", "wsnt"}, bound)
	assert.Equal(t, []string{"acme"}, unresolved)
	assert.Equal(t, []string{"acme"}, env.Unresolved())

	uri, ok := env.Lookup("tns1")
	require.True(t, ok)
	assert.Equal(t, NamespaceTopics, uri)
}

func TestBindDoesNotOverwrite(t *testing.T) {
	env := New()
	assert.True(t, env.Bind("tt", "urn:custom"))
	assert.False(t, env.Bind("tt", NamespaceSchema))

	uri, _ := env.Lookup("tt")
	assert.Equal(t, "urn:custom", uri)
}

func TestEnsureHeaderPrecedesBody(t *testing.T) {
	env, op := NewMessage("tds:GetSystemDateAndTime")
	require.NotNil(t, op)
	h := env.EnsureHeader()
	require.NotNil(t, h)
	assert.Same(t, h, env.EnsureHeader())

	children := env.Root().ChildElements()
	require.Len(t, children, 2)
	assert.Equal(t, "Header", children[0].Tag)
	assert.Equal(t, "Body", children[1].Tag)
	assert.Equal(t, "GetSystemDateAndTime", env.Action())

	uri, ok := env.Lookup("tds")
	require.True(t, ok)
	assert.Equal(t, NamespaceDevice, uri)
}

func TestCloneIsIndependent(t *testing.T) {
	env, err := Parse([]byte(deviceInfoResponse))
	require.NoError(t, err)

	c := env.Clone()
	Child(c.Operation(), "Model").SetText("changed")

	assert.Equal(t, "RLC-810A", Text(env.Operation(), "Model"))
	assert.False(t, Equal(env, c))
}

func TestEqualIgnoresAttributeOrder(t *testing.T) {
	a, err := Parse([]byte(`<s:Envelope xmlns:s="urn:s"><s:Body><x a="1" b="2"/></s:Body></s:Envelope>`))
	require.NoError(t, err)
	b, err := Parse([]byte(`<s:Envelope xmlns:s="urn:s"><s:Body><x b="2" a="1"/></s:Body></s:Envelope>`))
	require.NoError(t, err)
	assert.True(t, Equal(a, b))
}
