package soap

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultEnvelopeRoundTrip(t *testing.T) {
	f := ResourceUnknown("subscription abc has expired")
	out, err := f.Envelope().Serialize()
	require.NoError(t, err)

	env, err := Parse(out)
	require.NoError(t, err)
	assert.Empty(t, env.Unresolved())
	require.True(t, env.IsFault())

	got := env.Fault()
	require.NotNil(t, got)
	assert.Equal(t, CodeSender, got.Code)
	assert.Equal(t, "wsrf-rw:ResourceUnknownFault", got.Subcode)
	assert.Equal(t, "subscription abc has expired", got.Reason)
	assert.Equal(t, http.StatusBadRequest, got.Status)
}

func TestFaultFromSOAP11(t *testing.T) {
	input := `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
<SOAP-ENV:Body><SOAP-ENV:Fault>
<faultcode>SOAP-ENV:Server</faultcode><faultstring>internal error</faultstring>
</SOAP-ENV:Fault></SOAP-ENV:Body></SOAP-ENV:Envelope>`
	env, err := Parse([]byte(input))
	require.NoError(t, err)

	f := env.Fault()
	require.NotNil(t, f)
	assert.Equal(t, CodeReceiver, f.Code)
	assert.Equal(t, "internal error", f.Reason)
	assert.Equal(t, "internal error", f.Describe())
}

func TestFaultDescribeKnownSubcodes(t *testing.T) {
	assert.Equal(t, "not authorized", NotAuthorized("digest rejected").Describe())
	assert.Equal(t, "operation not supported by the device", ActionNotSupported("GetOSDs").Describe())
	// Subcodes without a description fall back to the reason.
	assert.Equal(t, "user exists",
		NewFault(CodeSender, "ter:UsernameClash", "user exists", http.StatusBadRequest).Describe())
	assert.Equal(t, "SOAP fault in response",
		NewFault(CodeSender, "ter:UsernameClash", "", http.StatusBadRequest).Describe())
}

func TestNonFaultHasNoFault(t *testing.T) {
	env, _ := NewMessage("tds:GetDeviceInformationResponse")
	assert.Nil(t, env.Fault())
}

func TestFaultStatuses(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, NotAuthorized("").Status)
	assert.Equal(t, http.StatusNotFound, UnknownCamera("cam").Status)
	assert.Equal(t, http.StatusBadGateway, MalformedResponse("").Status)
	assert.Equal(t, http.StatusServiceUnavailable, Unreachable("").Status)
	assert.Equal(t, http.StatusBadRequest, WellFormed("").Status)
}
