// Package upstream sends SOAP requests to cameras with WS-Security and HTTP
// digest authentication.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/metrics"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// Default configuration
const (
	DefaultTimeout          = 10 * time.Second
	DefaultBreakerTimeout   = 30 * time.Second
	DefaultBreakerFailures  = 5
	DefaultMaxResponseBytes = 8 << 20
)

// Options configures a Client.
type Options struct {
	Timeout          time.Duration
	BreakerTimeout   time.Duration
	BreakerFailures  uint32
	MaxResponseBytes int64
}

// Client talks to upstream cameras. It is safe for concurrent use.
type Client struct {
	opts     Options
	http     *http.Client
	insecure *http.Client
	sessions Sessions
	breakers sync.Map // camera id -> *gobreaker.CircuitBreaker[*soap.Envelope]
	log      zerolog.Logger
	now      func() time.Time
}

// NewClient creates a client with the given options; zero values take the
// defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per camera

	return &Client{
		opts:     opts,
		http:     &http.Client{Timeout: opts.Timeout},
		insecure: &http.Client{Timeout: opts.Timeout, Transport: insecureTransport},
		log:      logging.With("upstream"),
		now:      time.Now,
	}
}

// Session returns the digest session for a camera.
func (c *Client) Session(cameraID string) *Session {
	return c.sessions.Get(cameraID)
}

// ServiceURL returns the camera's native endpoint for a service such as
// "device_service" or "event_service".
func ServiceURL(cam *camera.Descriptor, service string) string {
	return cam.BaseURL() + "/onvif/" + service
}

// Send forwards env to endpoint on cam and returns the camera's reply.
// SOAP faults sent by the camera are returned as envelopes; errors are
// always *Error values of one of the upstream kinds.
func (c *Client) Send(ctx context.Context, cam *camera.Descriptor, endpoint string, env *soap.Envelope) (*soap.Envelope, error) {
	msg := env.Clone()
	secure(msg, cam.Username, cam.Password, c.now())
	body, err := msg.Serialize()
	if err != nil {
		return nil, errors.Trace(err)
	}
	action := soapAction(msg)

	resp, err := c.breaker(cam.ID).Execute(func() (*soap.Envelope, error) {
		return c.exchange(ctx, cam, endpoint, action, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = newError(ErrUnreachable, cam.ID, err)
	}
	c.record(cam.ID, resp, err)
	return resp, err
}

// exchange performs at most two HTTP requests: the first one, and a single
// retry after a digest challenge.
func (c *Client) exchange(ctx context.Context, cam *camera.Descriptor, endpoint, action string, body []byte) (*soap.Envelope, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, newError(ErrUnreachable, cam.ID, err)
	}
	sess := c.sessions.Get(cam.ID)

	for attempt := 0; attempt < 2; attempt++ {
		auth, err := sess.authorize(http.MethodPost, u.RequestURI(), cam.Username, cam.Password)
		if err != nil {
			return nil, newError(ErrAuthenticationFailed, cam.ID, err)
		}

		status, header, data, err := c.post(ctx, cam, endpoint, action, body, auth)
		if err != nil {
			return nil, newError(ErrUnreachable, cam.ID, err)
		}

		if status == http.StatusUnauthorized {
			metrics.UpstreamAuthChallenges.WithLabelValues(cam.ID).Inc()
			chal := findChallenge(header)
			if chal == nil || attempt == 1 {
				sess.reset()
				return nil, newError(ErrAuthenticationFailed, cam.ID,
					errors.Errorf("HTTP %d after %d attempt(s)", status, attempt+1))
			}
			c.log.Debug().Str("camera", cam.ID).Bool("stale", chal.Stale).Msg("digest challenge received")
			sess.challenge(chal)
			continue
		}

		return c.decode(cam, status, data)
	}
	return nil, newError(ErrAuthenticationFailed, cam.ID, nil)
}

func (c *Client) post(ctx context.Context, cam *camera.Descriptor, endpoint, action string, body []byte, auth string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", `application/soap+xml; charset=utf-8; action="`+action+`"`)
	req.Header.Set("SOAPAction", action)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	client := c.http
	if cam.InsecureTLS {
		client = c.insecure
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxResponseBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

// decode parses a reply. Some cameras return error codes with an empty
// body instead of a SOAP fault.
func (c *Client) decode(cam *camera.Descriptor, status int, data []byte) (*soap.Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newError(ErrMalformedResponse, cam.ID, errors.Errorf("HTTP %d with empty response", status))
	}
	env, err := soap.Parse(data)
	if err != nil {
		if status >= http.StatusBadRequest {
			err = errors.Annotatef(err, "HTTP %d: %s", status, http.StatusText(status))
		}
		return nil, newError(ErrMalformedResponse, cam.ID, err)
	}
	if status >= http.StatusBadRequest && !env.IsFault() {
		return nil, newError(ErrMalformedResponse, cam.ID, errors.Errorf("HTTP %d without a SOAP fault", status))
	}
	return env, nil
}

func (c *Client) breaker(cameraID string) *gobreaker.CircuitBreaker[*soap.Envelope] {
	if v, ok := c.breakers.Load(cameraID); ok {
		return v.(*gobreaker.CircuitBreaker[*soap.Envelope])
	}
	cb := gobreaker.NewCircuitBreaker[*soap.Envelope](gobreaker.Settings{
		Name:        cameraID,
		MaxRequests: 1,
		Timeout:     c.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			c.log.Warn().Str("camera", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	v, _ := c.breakers.LoadOrStore(cameraID, cb)
	return v.(*gobreaker.CircuitBreaker[*soap.Envelope])
}

func (c *Client) record(cameraID string, resp *soap.Envelope, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, ErrUnreachable):
		outcome = metrics.OutcomeUnreachable
	case errors.Is(err, ErrAuthenticationFailed):
		outcome = metrics.OutcomeAuth
	case err != nil:
		outcome = metrics.OutcomeMalformed
	case resp.IsFault():
		outcome = metrics.OutcomeFault
	}
	metrics.UpstreamRequests.WithLabelValues(cameraID, outcome).Inc()
	if err != nil {
		c.log.Debug().Err(err).Str("camera", cameraID).Str("outcome", outcome).Msg("upstream request failed")
	}
}

// soapAction derives the action URI from the operation's namespace.
func soapAction(env *soap.Envelope) string {
	op := env.Operation()
	if op == nil {
		return ""
	}
	ns := op.NamespaceURI()
	if ns == "" {
		ns = soap.WellKnown[op.Space]
	}
	if ns == "" {
		return op.Tag
	}
	return ns + "/" + op.Tag
}
