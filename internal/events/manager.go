package events

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/metrics"
	"github.com/use-go/onvif-proxy/internal/quirks"
	"github.com/use-go/onvif-proxy/internal/soap"
	"github.com/use-go/onvif-proxy/internal/upstream"
)

// Subscription errors. Match them with errors.Is.
const (
	ErrNotFound = errors.ConstError("subscription not found")
	ErrExpired  = errors.ConstError("subscription expired")
)

// Default configuration
const (
	DefaultTermination        = 10 * time.Minute
	DefaultMaxTermination     = time.Hour
	DefaultQueueSize          = 100
	DefaultNativePollTimeout  = 5 * time.Second
	DefaultNativeTermination  = time.Minute
	DefaultMaxPullTimeout     = time.Minute
	DefaultSweepInterval      = 30 * time.Second
	DefaultBackoffInitial     = 500 * time.Millisecond
	DefaultBackoffMax         = 30 * time.Second
	DefaultNativeMessageLimit = 32
	unsubscribeTimeout        = 5 * time.Second
)

// Upstream sends envelopes to cameras.
type Upstream interface {
	Send(ctx context.Context, cam *camera.Descriptor, endpoint string, env *soap.Envelope) (*soap.Envelope, error)
}

// Options configures a Manager; zero values take the defaults.
type Options struct {
	Proxy              quirks.Options
	DefaultTermination time.Duration
	MaxTermination     time.Duration
	QueueSize          int
	NativePollTimeout  time.Duration
	NativeTermination  time.Duration
	MaxPullTimeout     time.Duration
	SweepInterval      time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	NativeMessageLimit int
}

func (o *Options) defaults() {
	setDuration(&o.DefaultTermination, DefaultTermination)
	setDuration(&o.MaxTermination, DefaultMaxTermination)
	setDuration(&o.NativePollTimeout, DefaultNativePollTimeout)
	setDuration(&o.NativeTermination, DefaultNativeTermination)
	setDuration(&o.MaxPullTimeout, DefaultMaxPullTimeout)
	setDuration(&o.SweepInterval, DefaultSweepInterval)
	setDuration(&o.BackoffInitial, DefaultBackoffInitial)
	setDuration(&o.BackoffMax, DefaultBackoffMax)
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.NativeMessageLimit <= 0 {
		o.NativeMessageLimit = DefaultNativeMessageLimit
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Manager owns every subscription. Subscriptions are independent of each
// other; the table is only locked per entry.
type Manager struct {
	up   Upstream
	opts Options
	subs sync.Map // id -> *Subscription
	log  zerolog.Logger

	endpoints sync.Map // camera id -> native event service address
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager sending native requests through up.
func NewManager(up Upstream, opts Options) *Manager {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		up:     up,
		opts:   opts,
		log:    logging.With("events"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options {
	return m.opts
}

// Create opens a native subscription on cam and wraps it in a new proxy
// subscription. A zero requested time selects the default termination;
// later times are capped at the configured maximum.
func (m *Manager) Create(ctx context.Context, cam *camera.Descriptor, smart bool, requested time.Time) (*Subscription, error) {
	handle, err := m.subscribeNative(ctx, cam)
	if err != nil {
		return nil, errors.Trace(err)
	}

	now := m.now()
	id := uuid.Must(uuid.NewV4()).String()
	sub := &Subscription{
		ID:       id,
		CameraID: cam.ID,
		Address:  quirks.ProxyURL(m.opts.Proxy, cam.ID, "subscription/"+id),
		Smart:    smart,
		Created:  now,
		cam:      cam,
		queue:    NewQueue(m.opts.QueueSize),
		expires:  m.clamp(requested, now),
		handle:   handle,
		done:     make(chan struct{}),
	}

	pollCtx, cancel := context.WithCancel(m.ctx)
	sub.cancel = cancel
	m.subs.Store(id, sub)
	metrics.ActiveSubscriptions.WithLabelValues(cam.ID).Inc()

	go m.poll(pollCtx, sub, cam)

	m.log.Info().Str("camera", cam.ID).Str("subscription", id).Bool("smart", smart).
		Time("expires", sub.Expires()).Msg("subscription created")
	return sub, nil
}

// SetEventEndpoint records the address cam serves its event service on.
// Native subscriptions for cam are created there from then on.
func (m *Manager) SetEventEndpoint(cam *camera.Descriptor, addr string) {
	m.endpoints.Store(cam.ID, reachable(cam, addr))
}

// EventEndpoint returns the native event service address of cam. known is
// false when none was recorded and the conventional path is assumed.
func (m *Manager) EventEndpoint(cam *camera.Descriptor) (addr string, known bool) {
	if v, ok := m.endpoints.Load(cam.ID); ok {
		return v.(string), true
	}
	return upstream.ServiceURL(cam, "event_service"), false
}

func (m *Manager) clamp(requested, now time.Time) time.Time {
	limit := now.Add(m.opts.MaxTermination)
	switch {
	case requested.IsZero() || !requested.After(now):
		requested = now.Add(m.opts.DefaultTermination)
	case requested.After(limit):
		requested = limit
	}
	return requested
}

// Get returns an active subscription.
func (m *Manager) Get(id string) (*Subscription, error) {
	v, ok := m.subs.Load(id)
	if !ok {
		return nil, errors.Annotatef(ErrNotFound, "subscription %s", id)
	}
	sub := v.(*Subscription)
	switch sub.State(m.now()) {
	case Active:
		return sub, nil
	case Expired:
		return nil, errors.Annotatef(ErrExpired, "subscription %s", id)
	default:
		return nil, errors.Annotatef(ErrNotFound, "subscription %s", id)
	}
}

// Pull waits up to timeout for at least one event and returns up to limit
// of them. Delivered events are removed from the queue.
func (m *Manager) Pull(ctx context.Context, id string, timeout time.Duration, limit int) ([]Event, *Subscription, error) {
	sub, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if timeout > m.opts.MaxPullTimeout {
		timeout = m.opts.MaxPullTimeout
	}
	if left := sub.Expires().Sub(m.now()); timeout > left {
		timeout = left
	}
	if limit <= 0 {
		limit = 1
	}
	return sub.queue.Wait(ctx, timeout, limit), sub, nil
}

// Renew moves the expiry of an active subscription and returns the new
// expiry.
func (m *Manager) Renew(id string, requested time.Time) (time.Time, error) {
	sub, err := m.Get(id)
	if err != nil {
		return time.Time{}, err
	}
	expires := m.clamp(requested, m.now())
	sub.renew(expires)
	m.log.Debug().Str("subscription", id).Time("expires", expires).Msg("subscription renewed")
	return expires, nil
}

// SetSynchronizationPoint re-queues the current motion state of every
// source the subscription has seen.
func (m *Manager) SetSynchronizationPoint(id string) (int, error) {
	sub, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	return sub.synchronize(m.now()), nil
}

// Unsubscribe terminates a subscription. The camera-side subscription is
// released in the background; a failure there does not affect the result.
func (m *Manager) Unsubscribe(ctx context.Context, id string) error {
	v, ok := m.subs.Load(id)
	if !ok {
		return errors.Annotatef(ErrNotFound, "subscription %s", id)
	}
	m.remove(v.(*Subscription), "unsubscribed")
	return nil
}

// Sweep removes every subscription that is past its expiry and returns
// how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	var n int
	m.subs.Range(func(_, v interface{}) bool {
		sub := v.(*Subscription)
		if sub.State(now) == Expired {
			m.remove(sub, "expired")
			n++
		}
		return true
	})
	return n
}

// Len returns the number of subscriptions in the table.
func (m *Manager) Len() int {
	var n int
	m.subs.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close terminates every subscription and waits for background work.
func (m *Manager) Close() {
	m.subs.Range(func(_, v interface{}) bool {
		m.remove(v.(*Subscription), "shutdown")
		return true
	})
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) remove(sub *Subscription, reason string) {
	if _, loaded := m.subs.LoadAndDelete(sub.ID); !loaded {
		return
	}
	sub.terminate()
	sub.stop()
	metrics.ActiveSubscriptions.WithLabelValues(sub.CameraID).Dec()
	m.log.Info().Str("camera", sub.CameraID).Str("subscription", sub.ID).Str("reason", reason).
		Msg("subscription removed")

	handle := sub.nativeHandle()
	if handle.Address == "" {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if err := m.unsubscribeNative(ctx, sub.cam, handle); err != nil {
			m.log.Debug().Err(err).Str("subscription", sub.ID).Msg("native unsubscribe failed")
		}
	}()
}

func (m *Manager) unsubscribeNative(ctx context.Context, cam *camera.Descriptor, h native) error {
	env, _ := soap.NewMessage("wsnt:Unsubscribe")
	addressTo(env, h.Address)
	resp, err := m.up.Send(ctx, cam, h.Address, env)
	if err != nil {
		return err
	}
	if f := resp.Fault(); f != nil {
		return f
	}
	return nil
}

// subscribeNative creates a camera-side pull point subscription.
func (m *Manager) subscribeNative(ctx context.Context, cam *camera.Descriptor) (native, error) {
	env, op := soap.NewMessage("tev:CreatePullPointSubscription")
	op.CreateElement("tev:InitialTerminationTime").SetText(soap.FormatDuration(m.opts.NativeTermination))

	endpoint, _ := m.EventEndpoint(cam)
	resp, err := m.up.Send(ctx, cam, endpoint, env)
	if err != nil {
		return native{}, err
	}
	if f := resp.Fault(); f != nil {
		return native{}, f
	}

	body := resp.Operation()
	addr := soap.Text(body, "SubscriptionReference", "Address")
	if addr == "" {
		return native{}, &upstream.Error{Kind: upstream.ErrMalformedResponse, Camera: cam.ID,
			Err: errors.New("CreatePullPointSubscriptionResponse without SubscriptionReference")}
	}
	return native{
		Address: reachable(cam, addr),
		Expires: m.nativeExpiry(body),
	}, nil
}

// nativeExpiry converts the camera's TerminationTime to local time using
// the camera's CurrentTime, so clock skew between the two does not matter.
func (m *Manager) nativeExpiry(resp *etree.Element) time.Time {
	now := m.now()
	current, err := time.Parse(time.RFC3339Nano, soap.Text(resp, "CurrentTime"))
	if err != nil {
		return now.Add(m.opts.NativeTermination)
	}
	termination, err := time.Parse(time.RFC3339Nano, soap.Text(resp, "TerminationTime"))
	if err != nil || !termination.After(current) {
		return now.Add(m.opts.NativeTermination)
	}
	return now.Add(termination.Sub(current))
}

// reachable points a native subscription address at the configured camera
// address, keeping its path and query.
func reachable(cam *camera.Descriptor, addr string) string {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return upstream.ServiceURL(cam, "event_service")
	}
	base, err := url.Parse(cam.BaseURL())
	if err != nil {
		return addr
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String()
}

// addressTo sets the WS-Addressing destination of a native request.
func addressTo(env *soap.Envelope, address string) {
	env.Bind("wsa", soap.NamespaceAddressing)
	env.EnsureHeader().CreateElement("wsa:To").SetText(address)
}
