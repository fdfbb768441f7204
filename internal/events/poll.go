package events

import (
	"context"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/cenkalti/backoff/v4"
	"github.com/juju/errors"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/metrics"
	"github.com/use-go/onvif-proxy/internal/quirks"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// poll forwards native events to sub until it is stopped or expires.
func (m *Manager) poll(ctx context.Context, sub *Subscription, cam *camera.Descriptor) {
	defer close(sub.done)

	log := m.log.With().Str("camera", cam.ID).Str("subscription", sub.ID).Logger()
	b := newBackoff(m.opts.BackoffInitial, m.opts.BackoffMax)
	topics := m.opts.Proxy.Topics()

	for ctx.Err() == nil && sub.State(m.now()) == Active {
		err := m.pollOnce(ctx, sub, cam, topics)
		if err == nil {
			b.Reset()
			continue
		}
		if ctx.Err() != nil {
			return
		}
		// Never sleep past the subscription's own expiry.
		wait := b.NextBackOff()
		if left := sub.Expires().Sub(m.now()); wait > left {
			wait = max(left, 0)
		}
		log.Warn().Err(err).Dur("retry", wait).Msg("native event pull failed")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pollOnce keeps the native subscription alive and runs one PullMessages
// round trip against it.
func (m *Manager) pollOnce(ctx context.Context, sub *Subscription, cam *camera.Descriptor, topics quirks.TopicMap) error {
	h := sub.nativeHandle()
	now := m.now()

	switch {
	case h.Address == "" || !now.Before(h.Expires):
		if h.Address != "" {
			metrics.NativeResubscribes.WithLabelValues(cam.ID).Inc()
		}
		fresh, err := m.subscribeNative(ctx, cam)
		if err != nil {
			return errors.Annotate(err, "native subscribe")
		}
		sub.setNative(fresh)
		h = fresh
	case h.Expires.Sub(now) < m.opts.NativeTermination/3:
		expires, err := m.renewNative(ctx, cam, h)
		if err != nil {
			m.dropNative(sub, cam, err)
			return errors.Annotate(err, "native renew")
		}
		h.Expires = expires
		sub.setNative(h)
	}

	msgs, err := m.pullNative(ctx, cam, h)
	if err != nil {
		m.dropNative(sub, cam, err)
		return errors.Annotate(err, "native pull")
	}

	for _, msg := range msgs {
		ev, ok := Translate(msg, topics, sub.Smart, m.now())
		if !ok {
			metrics.DroppedEvents.WithLabelValues(cam.ID, "unmapped").Inc()
			continue
		}
		metrics.TranslatedEvents.WithLabelValues(cam.ID, ev.Class).Inc()
		if sub.deliver(ev) {
			metrics.DroppedEvents.WithLabelValues(cam.ID, "overflow").Inc()
		}
	}
	return nil
}

// dropNative forgets the native subscription after the camera rejected it,
// so the next round creates a new one.
func (m *Manager) dropNative(sub *Subscription, cam *camera.Descriptor, err error) {
	var f *soap.Fault
	if !errors.As(err, &f) {
		return
	}
	sub.setNative(native{})
	metrics.NativeResubscribes.WithLabelValues(cam.ID).Inc()
}

func (m *Manager) pullNative(ctx context.Context, cam *camera.Descriptor, h native) ([]*etree.Element, error) {
	env, op := soap.NewMessage("tev:PullMessages")
	op.CreateElement("tev:Timeout").SetText(soap.FormatDuration(m.opts.NativePollTimeout))
	op.CreateElement("tev:MessageLimit").SetText(strconv.Itoa(m.opts.NativeMessageLimit))
	addressTo(env, h.Address)

	resp, err := m.up.Send(ctx, cam, h.Address, env)
	if err != nil {
		return nil, err
	}
	if f := resp.Fault(); f != nil {
		return nil, f
	}
	return soap.Children(resp.Operation(), "NotificationMessage"), nil
}

func (m *Manager) renewNative(ctx context.Context, cam *camera.Descriptor, h native) (time.Time, error) {
	env, op := soap.NewMessage("wsnt:Renew")
	op.CreateElement("wsnt:TerminationTime").SetText(soap.FormatDuration(m.opts.NativeTermination))
	addressTo(env, h.Address)

	resp, err := m.up.Send(ctx, cam, h.Address, env)
	if err != nil {
		return time.Time{}, err
	}
	if f := resp.Fault(); f != nil {
		return time.Time{}, f
	}
	return m.nativeExpiry(resp.Operation()), nil
}

func newBackoff(initial, limit time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = limit
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
