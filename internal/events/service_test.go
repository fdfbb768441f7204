package events

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-go/onvif-proxy/internal/soap"
)

func request(t *testing.T, body string) *soap.Envelope {
	t.Helper()
	env, err := soap.Parse([]byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:tev="http://www.onvif.org/ver10/events/wsdl" xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"><s:Body>` +
		body + `</s:Body></s:Envelope>`))
	require.NoError(t, err)
	return env
}

func subscriptionID(t *testing.T, resp *soap.Envelope) string {
	t.Helper()
	addr := soap.Text(resp.Operation(), "SubscriptionReference", "Address")
	idx := strings.LastIndex(addr, "/subscription/")
	require.True(t, idx > 0, addr)
	return addr[idx+len("/subscription/"):]
}

func TestHandleCreatePullPointSubscription(t *testing.T) {
	m, clk := newTestManager(t, &fakeCamera{})

	resp, handled, err := m.HandleEventService(context.Background(), testCamera, true,
		request(t, `<tev:CreatePullPointSubscription><tev:InitialTerminationTime>PT60S</tev:InitialTerminationTime></tev:CreatePullPointSubscription>`))
	require.NoError(t, err)
	require.True(t, handled)

	assert.Equal(t, "CreatePullPointSubscriptionResponse", resp.Action())
	assert.True(t, strings.HasPrefix(soap.Text(resp.Operation(), "SubscriptionReference", "Address"),
		"http://proxy.local:8000/onvif/camera-01/subscription/"))
	assert.Equal(t, soap.FormatTime(clk.Now()), soap.Text(resp.Operation(), "CurrentTime"))
	assert.Equal(t, soap.FormatTime(clk.Now().Add(time.Minute)), soap.Text(resp.Operation(), "TerminationTime"))

	out, err := resp.Serialize()
	require.NoError(t, err)
	reparsed, err := soap.Parse(out)
	require.NoError(t, err)
	assert.Empty(t, reparsed.Unresolved())
}

func TestHandleCreateRejectsBadTermination(t *testing.T) {
	m, _ := newTestManager(t, &fakeCamera{})
	_, handled, err := m.HandleEventService(context.Background(), testCamera, false,
		request(t, `<tev:CreatePullPointSubscription><tev:InitialTerminationTime>tomorrow</tev:InitialTerminationTime></tev:CreatePullPointSubscription>`))
	require.True(t, handled)

	f, ok := err.(*soap.Fault)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, f.Status)
	assert.Equal(t, 0, m.Len())
}

func TestHandleEventServiceForwardsOthers(t *testing.T) {
	m, _ := newTestManager(t, &fakeCamera{})
	_, handled, err := m.HandleEventService(context.Background(), testCamera, false,
		request(t, `<tev:GetEventProperties/>`))
	require.NoError(t, err)
	assert.False(t, handled)

	resp, handled, err := m.HandleEventService(context.Background(), testCamera, false,
		request(t, `<tev:GetServiceCapabilities/>`))
	require.NoError(t, err)
	require.True(t, handled)
	c := soap.Child(resp.Operation(), "Capabilities")
	require.NotNil(t, c)
	v, _ := soap.Attr(c, "WSPullPointSupport")
	assert.Equal(t, "true", v)
}

func TestHandleSubscriptionRequests(t *testing.T) {
	up := &fakeCamera{}
	m, clk := newTestManager(t, up)
	ctx := context.Background()

	created, _, err := m.HandleEventService(ctx, testCamera, true, request(t, `<tev:CreatePullPointSubscription/>`))
	require.NoError(t, err)
	id := subscriptionID(t, created)

	up.push(notification("tns1:RuleEngine/MyRuleDetector/PeopleDetect", "true"))
	resp, err := m.HandleSubscription(ctx, id, request(t,
		`<tev:PullMessages><tev:Timeout>PT2S</tev:Timeout><tev:MessageLimit>10</tev:MessageLimit></tev:PullMessages>`))
	require.NoError(t, err)
	assert.Equal(t, "PullMessagesResponse", resp.Action())
	msgs := soap.Children(resp.Operation(), "NotificationMessage")
	require.Len(t, msgs, 1)
	assert.Equal(t, "tns1:RuleEngine/CellMotionDetector/Motion", soap.Text(msgs[0], "Topic"))

	resp, err = m.HandleSubscription(ctx, id, request(t,
		`<wsnt:Renew><wsnt:TerminationTime>PT120S</wsnt:TerminationTime></wsnt:Renew>`))
	require.NoError(t, err)
	assert.Equal(t, soap.FormatTime(clk.Now().Add(2*time.Minute)), soap.Text(resp.Operation(), "TerminationTime"))

	resp, err = m.HandleSubscription(ctx, id, request(t, `<tev:SetSynchronizationPoint/>`))
	require.NoError(t, err)
	assert.Equal(t, "SetSynchronizationPointResponse", resp.Action())

	_, err = m.HandleSubscription(ctx, id, request(t, `<tev:Seek/>`))
	f, ok := err.(*soap.Fault)
	require.True(t, ok)
	assert.Equal(t, "ter:ActionNotSupported", f.Subcode)

	resp, err = m.HandleSubscription(ctx, id, request(t, `<wsnt:Unsubscribe/>`))
	require.NoError(t, err)
	assert.Equal(t, "UnsubscribeResponse", resp.Action())

	_, err = m.HandleSubscription(ctx, id, request(t, `<tev:PullMessages><tev:Timeout>PT1S</tev:Timeout></tev:PullMessages>`))
	f, ok = err.(*soap.Fault)
	require.True(t, ok)
	assert.Equal(t, "wsrf-rw:ResourceUnknownFault", f.Subcode)
	assert.Equal(t, http.StatusBadRequest, f.Status)
}

func TestHandleSubscriptionExpired(t *testing.T) {
	m, clk := newTestManager(t, &fakeCamera{})
	ctx := context.Background()

	created, _, err := m.HandleEventService(ctx, testCamera, false, request(t,
		`<tev:CreatePullPointSubscription><tev:InitialTerminationTime>PT10S</tev:InitialTerminationTime></tev:CreatePullPointSubscription>`))
	require.NoError(t, err)
	id := subscriptionID(t, created)

	clk.Advance(11 * time.Second)
	_, err = m.HandleSubscription(ctx, id, request(t, `<tev:PullMessages><tev:Timeout>PT1S</tev:Timeout></tev:PullMessages>`))
	f, ok := err.(*soap.Fault)
	require.True(t, ok)
	assert.Equal(t, "wsrf-rw:ResourceUnknownFault", f.Subcode)
}
