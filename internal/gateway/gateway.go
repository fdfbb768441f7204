// Package gateway dispatches inbound ONVIF requests to the quirk pipeline,
// the upstream camera and the subscription manager.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/events"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/metrics"
	"github.com/use-go/onvif-proxy/internal/quirks"
	"github.com/use-go/onvif-proxy/internal/soap"
	"github.com/use-go/onvif-proxy/internal/upstream"
)

// EventService is the canonical event service name. Requests posted to it,
// and event operations posted to any other service path, are handled by the
// subscription manager.
const EventService = "event_service"

// Request is one routed inbound call.
type Request struct {
	CameraID       string
	Service        string // e.g. device_service; empty for subscription calls
	SubscriptionID string
	Body           []byte
}

// Response is the reply to hand back to the NVR.
type Response struct {
	Status int
	Body   []byte
}

// Upstream sends envelopes to cameras.
type Upstream interface {
	Send(ctx context.Context, cam *camera.Descriptor, endpoint string, env *soap.Envelope) (*soap.Envelope, error)
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cams      *camera.Registry
	up        Upstream
	events    *events.Manager
	pipelines map[string]*quirks.Pipeline
	log       zerolog.Logger
}

// New builds the pipeline of every camera. An unknown quirk name is a
// configuration error.
func New(cams *camera.Registry, up Upstream, ev *events.Manager, opts quirks.Options) (*Gateway, error) {
	g := &Gateway{
		cams:      cams,
		up:        up,
		events:    ev,
		pipelines: make(map[string]*quirks.Pipeline, cams.Len()),
		log:       logging.With("gateway"),
	}
	for _, cam := range cams.All() {
		p, err := quirks.Build(cam.Quirks, opts)
		if err != nil {
			return nil, errors.Annotatef(err, "camera %s", cam.ID)
		}
		g.pipelines[cam.ID] = p
		g.log.Debug().Str("camera", cam.ID).Stringer("quirks", quirkList(p.Quirks())).Msg("pipeline built")
	}
	return g, nil
}

// Cameras returns the camera registry.
func (g *Gateway) Cameras() *camera.Registry {
	return g.cams
}

// Pipeline returns the pipeline of a camera.
func (g *Gateway) Pipeline(cameraID string) (*quirks.Pipeline, bool) {
	p, ok := g.pipelines[cameraID]
	return p, ok
}

// Handle processes one request. Failures are rendered as SOAP faults;
// Handle itself never fails.
func (g *Gateway) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	service := req.Service
	if req.SubscriptionID != "" {
		service = "subscription"
	}

	var action string
	resp, err := g.handle(ctx, req, &action)
	if err != nil {
		resp = g.fault(req, action, err).Envelope()
		f := asFault(err)
		return g.render(req, service, action, resp, f.Status, start)
	}

	status := http.StatusOK
	if f := resp.Fault(); f != nil {
		status = f.Status
	}
	return g.render(req, service, action, resp, status, start)
}

func (g *Gateway) handle(ctx context.Context, req Request, action *string) (*soap.Envelope, error) {
	cam, err := g.cams.Get(req.CameraID)
	if err != nil {
		return nil, soap.UnknownCamera(req.CameraID)
	}

	env, err := soap.Parse(req.Body)
	if err != nil {
		return nil, soap.WellFormed(err.Error())
	}
	*action = env.Action()
	if *action == "" {
		return soap.New(), nil
	}

	p := g.pipelines[cam.ID]
	x := quirks.Exchange{Camera: cam, Service: req.Service}
	env = p.ApplyRequest(env, x)

	id := req.SubscriptionID
	if id == "" {
		id = subscriptionFromHeader(env)
	}
	if id != "" {
		if err := g.checkOwner(cam, id); err != nil {
			return nil, err
		}
		return g.events.HandleSubscription(ctx, id, env)
	}

	endpoint := upstream.ServiceURL(cam, req.Service)

	// Event operations are recognized by namespace too, in case an NVR
	// kept a camera-named event address from before the proxy.
	if req.Service == EventService || isEventOperation(env.Operation()) {
		if !quirks.IsCanonicalService(req.Service) {
			if _, known := g.events.EventEndpoint(cam); !known {
				g.events.SetEventEndpoint(cam, endpoint)
			}
		}
		smart := p.Has(quirks.TranslateSmartEvents) || cam.SmartDetection
		resp, handled, err := g.events.HandleEventService(ctx, cam, smart, env)
		if handled {
			return resp, err
		}
		endpoint, _ = g.events.EventEndpoint(cam)
	}

	resp, err := g.up.Send(ctx, cam, endpoint, env)
	if err != nil {
		return nil, err
	}
	// A camera-side subscription reference is never handed out; only the
	// subscription manager issues them.
	if soap.Find(resp.Body(), "SubscriptionReference") != nil {
		return nil, soap.ActionNotSupported(*action)
	}
	if addr := quirks.EventXAddr(resp.Body()); addr != "" {
		g.events.SetEventEndpoint(cam, addr)
	}
	return p.ApplyResponse(resp, x), nil
}

func (g *Gateway) render(req Request, service, action string, env *soap.Envelope, status int, start time.Time) Response {
	body, err := env.Serialize()
	if err != nil {
		g.log.Error().Err(err).Str("camera", req.CameraID).Str("action", action).Msg("serialize response")
		status = http.StatusInternalServerError
		body, _ = soap.NewFault(soap.CodeReceiver, "", "response could not be serialized", status).Envelope().Serialize()
	}
	cameraLabel := req.CameraID
	if _, err := g.cams.Get(req.CameraID); err != nil {
		cameraLabel = metrics.LabelUnknown
	}
	metrics.ObserveRequest(cameraLabel, metrics.ServiceLabel(service), metrics.OperationLabel(action),
		http.StatusText(status), time.Since(start))
	return Response{Status: status, Body: body}
}

// fault converts err into the fault delivered to the NVR, logging it.
func (g *Gateway) fault(req Request, action string, err error) *soap.Fault {
	f := asFault(err)
	ev := g.log.Warn()
	if f.Status >= http.StatusInternalServerError && f.Status != http.StatusServiceUnavailable {
		ev = g.log.Error()
	}
	ev.Err(err).Str("camera", req.CameraID).Str("service", req.Service).Str("action", action).
		Int("status", f.Status).Msg("request failed")
	return f
}

// asFault maps an error to its wire fault.
func asFault(err error) *soap.Fault {
	var f *soap.Fault
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, upstream.ErrAuthenticationFailed):
		return soap.NotAuthorized("camera rejected the configured credentials")
	case errors.Is(err, upstream.ErrUnreachable):
		return soap.Unreachable("camera is unreachable")
	case errors.Is(err, upstream.ErrMalformedResponse):
		return soap.MalformedResponse("camera response could not be parsed")
	case errors.Is(err, events.ErrNotFound), errors.Is(err, events.ErrExpired):
		return soap.ResourceUnknown(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return soap.Unreachable("request canceled")
	}
	return soap.NewFault(soap.CodeReceiver, "", err.Error(), http.StatusInternalServerError)
}

// checkOwner rejects calls that reach a live subscription through another
// camera's path.
func (g *Gateway) checkOwner(cam *camera.Descriptor, id string) error {
	sub, err := g.events.Get(id)
	if err == nil && sub.CameraID != cam.ID {
		return soap.ResourceUnknown(fmt.Sprintf("subscription %s does not belong to camera %s", id, cam.ID))
	}
	return nil
}

// isEventOperation reports whether op is an event service operation.
// CreatePullPointSubscription is matched by name too, so that a request
// with an unbound prefix can never reach the camera directly.
func isEventOperation(op *etree.Element) bool {
	if op == nil {
		return false
	}
	return op.NamespaceURI() == soap.NamespaceEvents || op.Tag == "CreatePullPointSubscription"
}

// subscriptionFromHeader extracts a subscription id from a WS-Addressing
// To header, for NVRs that post subscription calls to the event service.
func subscriptionFromHeader(env *soap.Envelope) string {
	to := soap.Text(env.Header(), "To")
	idx := strings.LastIndex(to, "/subscription/")
	if idx < 0 {
		return ""
	}
	return strings.Trim(to[idx+len("/subscription/"):], "/")
}

type quirkList []quirks.Quirk

func (l quirkList) String() string {
	names := make([]string, len(l))
	for i, q := range l {
		names[i] = q.String()
	}
	return strings.Join(names, ",")
}
