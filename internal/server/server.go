// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/use-go/onvif-proxy/internal/events"
	"github.com/use-go/onvif-proxy/internal/gateway"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// ContentType of every SOAP reply.
const ContentType = "application/soap+xml; charset=utf-8"

// Default configuration
const (
	DefaultBasePath        = "onvif"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second
	requestIDHeader        = "X-Request-Id"
)

// Options configures the HTTP surface.
type Options struct {
	ListenAddress   string
	BasePath        string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Server routes ONVIF calls to the gateway.
type Server struct {
	opts   Options
	gw     *gateway.Gateway
	events *events.Manager
	engine *gin.Engine
	log    zerolog.Logger
}

// New creates the server and registers its routes.
func New(opts Options, gw *gateway.Gateway, ev *events.Manager) *Server {
	if opts.BasePath == "" {
		opts.BasePath = DefaultBasePath
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:   opts,
		gw:     gw,
		events: ev,
		engine: gin.New(),
		log:    logging.With("server"),
	}
	s.engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	onvif := s.engine.Group("/" + strings.Trim(s.opts.BasePath, "/"))
	onvif.Use(s.limitBody())
	onvif.POST("/:camera/*path", s.handleONVIF)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// HTTPServer returns an http.Server listening on the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.ListenAddress,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleONVIF(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeFault(c, soap.NewFault(soap.CodeSender, "ter:WellFormed", err.Error(), status))
		return
	}

	req := gateway.Request{CameraID: c.Param("camera"), Body: body}
	path := strings.Trim(c.Param("path"), "/")
	if id, ok := strings.CutPrefix(path, "subscription/"); ok {
		req.SubscriptionID = strings.Trim(id, "/")
	} else if path == "" {
		req.Service = "device_service"
	} else {
		req.Service = path
	}

	resp := s.gw.Handle(c.Request.Context(), req)
	c.Data(resp.Status, ContentType, resp.Body)
}

func (s *Server) writeFault(c *gin.Context, f *soap.Fault) {
	body, err := f.Envelope().Serialize()
	if err != nil {
		c.Status(f.Status)
		return
	}
	c.Data(f.Status, ContentType, body)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"cameras":       s.gw.Cameras().Len(),
		"subscriptions": s.events.Len(),
	})
}

// limitBody caps the size of inbound SOAP requests.
func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
		c.Next()
	}
}

// requestID tags every request with an id, reusing the client's when sent.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.Must(uuid.NewV4()).String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("request")
	}
}

// Service runs an http.Server under a supervisor. It implements
// suture.Service.
type Service struct {
	srv     *http.Server
	timeout time.Duration
}

// Service returns the supervised HTTP listener of s.
func (s *Server) Service() *Service {
	return &Service{srv: s.HTTPServer(), timeout: s.opts.ShutdownTimeout}
}

// Serve listens until ctx is canceled, then shuts down gracefully.
func (h *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (h *Service) String() string {
	return "http-server"
}
