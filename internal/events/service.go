package events

import (
	"context"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// HandleEventService answers the event service requests the proxy serves
// itself. handled is false for requests that go to the camera.
func (m *Manager) HandleEventService(ctx context.Context, cam *camera.Descriptor, smart bool, env *soap.Envelope) (resp *soap.Envelope, handled bool, err error) {
	switch env.Action() {
	case "CreatePullPointSubscription":
		resp, err = m.createResponse(ctx, cam, smart, env)
		return resp, true, err
	case "GetServiceCapabilities":
		return m.capabilitiesResponse(), true, nil
	}
	return nil, false, nil
}

func (m *Manager) createResponse(ctx context.Context, cam *camera.Descriptor, smart bool, env *soap.Envelope) (*soap.Envelope, error) {
	var requested time.Time
	if raw := soap.Text(env.Operation(), "InitialTerminationTime"); raw != "" {
		t, err := soap.ParseTermination(raw, m.now())
		if err != nil {
			return nil, soap.InvalidArgs("invalid InitialTerminationTime " + strconv.Quote(raw))
		}
		requested = t
	}

	sub, err := m.Create(ctx, cam, smart, requested)
	if err != nil {
		return nil, err
	}

	out, op := soap.NewMessage("tev:CreatePullPointSubscriptionResponse")
	out.Bind("wsa", soap.NamespaceAddressing)
	out.Bind("wsnt", soap.NamespaceNotification)
	op.CreateElement("tev:SubscriptionReference").CreateElement("wsa:Address").SetText(sub.Address)
	op.CreateElement("wsnt:CurrentTime").SetText(soap.FormatTime(m.now()))
	op.CreateElement("wsnt:TerminationTime").SetText(soap.FormatTime(sub.Expires()))
	return out, nil
}

func (m *Manager) capabilitiesResponse() *soap.Envelope {
	out, op := soap.NewMessage("tev:GetServiceCapabilitiesResponse")
	c := op.CreateElement("tev:Capabilities")
	c.CreateAttr("WSSubscriptionPolicySupport", "false")
	c.CreateAttr("WSPullPointSupport", "true")
	c.CreateAttr("WSPausableSubscriptionManagerInterfaceSupport", "false")
	c.CreateAttr("MaxNotificationProducers", "0")
	c.CreateAttr("MaxPullPoints", "0")
	c.CreateAttr("PersistentNotificationStorage", "false")
	return out
}

// HandleSubscription answers a request addressed to subscription id.
// Unknown, terminated and expired subscriptions answer with
// ResourceUnknownFault.
func (m *Manager) HandleSubscription(ctx context.Context, id string, env *soap.Envelope) (*soap.Envelope, error) {
	var (
		resp *soap.Envelope
		err  error
	)
	switch action := env.Action(); action {
	case "PullMessages":
		resp, err = m.pullResponse(ctx, id, env)
	case "Renew":
		resp, err = m.renewResponse(id, env)
	case "Unsubscribe":
		if err = m.Unsubscribe(ctx, id); err == nil {
			resp, _ = soap.NewMessage("wsnt:UnsubscribeResponse")
		}
	case "SetSynchronizationPoint":
		if _, err = m.SetSynchronizationPoint(id); err == nil {
			resp, _ = soap.NewMessage("tev:SetSynchronizationPointResponse")
		}
	default:
		return nil, soap.ActionNotSupported(action)
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return nil, soap.ResourceUnknown(err.Error())
	}
	return resp, err
}

func (m *Manager) pullResponse(ctx context.Context, id string, env *soap.Envelope) (*soap.Envelope, error) {
	op := env.Operation()
	var timeout time.Duration
	if raw := soap.Text(op, "Timeout"); raw != "" {
		d, err := soap.ParseDuration(raw)
		if err != nil {
			return nil, soap.InvalidArgs("invalid Timeout " + strconv.Quote(raw))
		}
		timeout = d
	}
	limit := 1
	if raw := soap.Text(op, "MessageLimit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, soap.InvalidArgs("invalid MessageLimit " + strconv.Quote(raw))
		}
		limit = n
	}

	evs, sub, err := m.Pull(ctx, id, timeout, limit)
	if err != nil {
		return nil, err
	}

	out, body := soap.NewMessage("tev:PullMessagesResponse")
	out.Bind("wsnt", soap.NamespaceNotification)
	out.Bind("tt", soap.NamespaceSchema)
	out.Bind("tns1", soap.NamespaceTopics)
	body.CreateElement("tev:CurrentTime").SetText(soap.FormatTime(m.now()))
	body.CreateElement("tev:TerminationTime").SetText(soap.FormatTime(sub.Expires()))
	for _, ev := range evs {
		appendNotification(body, ev)
	}
	return out, nil
}

func (m *Manager) renewResponse(id string, env *soap.Envelope) (*soap.Envelope, error) {
	var requested time.Time
	if raw := soap.Text(env.Operation(), "TerminationTime"); raw != "" {
		t, err := soap.ParseTermination(raw, m.now())
		if err != nil {
			return nil, soap.InvalidArgs("invalid TerminationTime " + strconv.Quote(raw))
		}
		requested = t
	}

	expires, err := m.Renew(id, requested)
	if err != nil {
		return nil, err
	}
	out, op := soap.NewMessage("wsnt:RenewResponse")
	op.CreateElement("wsnt:TerminationTime").SetText(soap.FormatTime(expires))
	op.CreateElement("wsnt:CurrentTime").SetText(soap.FormatTime(m.now()))
	return out, nil
}
