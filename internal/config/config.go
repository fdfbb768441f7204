// Package config loads the gateway configuration from defaults, a YAML file
// and the environment.
package config

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/events"
	"github.com/use-go/onvif-proxy/internal/logging"
	"github.com/use-go/onvif-proxy/internal/quirks"
	"github.com/use-go/onvif-proxy/internal/server"
	"github.com/use-go/onvif-proxy/internal/upstream"
)

// ErrInvalid marks configuration errors. They are fatal at startup.
const ErrInvalid = errors.ConstError("invalid configuration")

// PathEnvVar overrides the configuration file location.
const PathEnvVar = "CONFIG_PATH"

// EnvPrefix prefixes environment overrides, e.g.
// ONVIF_PROXY_PROXY_LISTEN_ADDRESS sets proxy.listen_address.
const EnvPrefix = "ONVIF_PROXY_"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"config/cameras.yaml",
	"cameras.yaml",
}

// legacyEnv maps unprefixed variables that are still honored.
var legacyEnv = map[string]string{
	"BASE_URL":  "proxy.base_url",
	"LOG_LEVEL": "proxy.log_level",
}

// Config is the whole gateway configuration.
type Config struct {
	Proxy    ProxyConfig    `koanf:"proxy"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Events   EventsConfig   `koanf:"events"`
	Cameras  []CameraConfig `koanf:"cameras" validate:"required,min=1,dive"`
}

// ProxyConfig holds the NVR-facing settings.
type ProxyConfig struct {
	ListenAddress string `koanf:"listen_address" validate:"required,hostname_port"`
	BasePath      string `koanf:"base_path"`
	BaseURL       string `koanf:"base_url" validate:"omitempty,url"`
	LogLevel      string `koanf:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	LogFormat     string `koanf:"log_format" validate:"omitempty,oneof=json console"`
	LogFile       string `koanf:"log_file"`
	MaxBodyBytes  int64  `koanf:"max_body_bytes" validate:"gte=0"`
}

// UpstreamConfig tunes the camera client.
type UpstreamConfig struct {
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=1s"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
}

// EventsConfig tunes the subscription manager.
type EventsConfig struct {
	DefaultTermination time.Duration     `koanf:"default_termination" validate:"min=1s"`
	MaxTermination     time.Duration     `koanf:"max_termination" validate:"min=1s,gtefield=DefaultTermination"`
	QueueSize          int               `koanf:"queue_size" validate:"gte=1"`
	NativePollTimeout  time.Duration     `koanf:"native_poll_timeout" validate:"min=1s"`
	NativeTermination  time.Duration     `koanf:"native_termination" validate:"min=10s"`
	MaxPullTimeout     time.Duration     `koanf:"max_pull_timeout" validate:"min=1s"`
	SweepInterval      time.Duration     `koanf:"sweep_interval" validate:"min=1s"`
	BackoffInitial     time.Duration     `koanf:"backoff_initial" validate:"min=10ms"`
	BackoffMax         time.Duration     `koanf:"backoff_max" validate:"min=1s,gtefield=BackoffInitial"`
	SmartTopics        map[string]string `koanf:"smart_topics"`
}

// CameraConfig describes one upstream camera.
type CameraConfig struct {
	ID                   string   `koanf:"id" validate:"required"`
	Name                 string   `koanf:"name"`
	Address              string   `koanf:"address" validate:"required"`
	Username             string   `koanf:"username"`
	Password             string   `koanf:"password"`
	Model                string   `koanf:"model"`
	Quirks               []string `koanf:"quirks"`
	EnableSmartDetection bool     `koanf:"enable_smart_detection"`
	PTZ                  bool     `koanf:"ptz"`
	HTTPS                bool     `koanf:"https"`
	InsecureTLS          bool     `koanf:"insecure_tls"`
}

func defaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenAddress: "0.0.0.0:8000",
			BasePath:      server.DefaultBasePath,
			LogLevel:      "info",
			LogFormat:     "json",
			MaxBodyBytes:  server.DefaultMaxBodyBytes,
		},
		Upstream: UpstreamConfig{
			Timeout:         upstream.DefaultTimeout,
			BreakerTimeout:  upstream.DefaultBreakerTimeout,
			BreakerFailures: upstream.DefaultBreakerFailures,
		},
		Events: EventsConfig{
			DefaultTermination: events.DefaultTermination,
			MaxTermination:     events.DefaultMaxTermination,
			QueueSize:          events.DefaultQueueSize,
			NativePollTimeout:  events.DefaultNativePollTimeout,
			NativeTermination:  events.DefaultNativeTermination,
			MaxPullTimeout:     events.DefaultMaxPullTimeout,
			SweepInterval:      events.DefaultSweepInterval,
			BackoffInitial:     events.DefaultBackoffInitial,
			BackoffMax:         events.DefaultBackoffMax,
			SmartTopics:        quirks.DefaultSmartTopics,
		},
	}
}

// Load reads the configuration. An empty path searches PathEnvVar and then
// DefaultPaths; precedence is environment over file over defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, errors.Annotate(err, "load defaults")
	}

	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil, errors.Annotatef(ErrInvalid, "no configuration file found (set %s)", PathEnvVar)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, errors.Annotatef(err, "load %s", path)
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, errors.Annotate(err, "load environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Annotate(err, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Proxy.BaseURL == "" {
		cfg.Proxy.BaseURL = DetectBaseURL(cfg.Proxy.ListenAddress)
		logging.Info().Str("base_url", cfg.Proxy.BaseURL).Msg("auto-detected base URL")
	}
	cfg.Proxy.BaseURL = strings.TrimRight(cfg.Proxy.BaseURL, "/")
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey turns ONVIF_PROXY_EVENTS_QUEUE_SIZE into events.queue_size.
// Unrelated variables map to "" and are skipped.
func envKey(key string) string {
	if rest, ok := strings.CutPrefix(key, EnvPrefix); ok {
		return strings.Replace(strings.ToLower(rest), "_", ".", 1)
	}
	return legacyEnv[key]
}

// Validate checks field rules, camera id uniqueness and quirk names.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fe.Namespace() + " failed " + fe.Tag()
				if fe.Param() != "" {
					msgs[i] += "=" + fe.Param()
				}
			}
			return errors.Annotate(ErrInvalid, strings.Join(msgs, "; "))
		}
		return errors.Annotate(ErrInvalid, err.Error())
	}

	seen := map[string]bool{}
	for _, cam := range c.Cameras {
		if seen[cam.ID] {
			return errors.Annotatef(ErrInvalid, "duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		for _, name := range cam.Quirks {
			if _, err := quirks.ParseQuirk(name); err != nil {
				return errors.Annotatef(ErrInvalid, "camera %s: unknown quirk %q", cam.ID, name)
			}
		}
	}
	return nil
}

// Descriptors converts the camera list.
func (c *Config) Descriptors() []camera.Descriptor {
	out := make([]camera.Descriptor, len(c.Cameras))
	for i, cam := range c.Cameras {
		out[i] = camera.Descriptor{
			ID:             cam.ID,
			Name:           cam.Name,
			Address:        cam.Address,
			Username:       cam.Username,
			Password:       cam.Password,
			Model:          cam.Model,
			Quirks:         cam.Quirks,
			SmartDetection: cam.EnableSmartDetection,
			PTZ:            cam.PTZ,
			HTTPS:          cam.HTTPS,
			InsecureTLS:    cam.InsecureTLS,
		}
	}
	return out
}

// QuirkOptions returns the proxy-wide values the rules need.
func (c *Config) QuirkOptions() quirks.Options {
	return quirks.Options{
		BaseURL:     c.Proxy.BaseURL,
		BasePath:    c.Proxy.BasePath,
		SmartTopics: quirks.TopicMap(c.Events.SmartTopics),
	}
}

// UpstreamOptions returns the camera client options.
func (c *Config) UpstreamOptions() upstream.Options {
	return upstream.Options{
		Timeout:         c.Upstream.Timeout,
		BreakerTimeout:  c.Upstream.BreakerTimeout,
		BreakerFailures: c.Upstream.BreakerFailures,
	}
}

// EventOptions returns the subscription manager options.
func (c *Config) EventOptions() events.Options {
	return events.Options{
		Proxy:              c.QuirkOptions(),
		DefaultTermination: c.Events.DefaultTermination,
		MaxTermination:     c.Events.MaxTermination,
		QueueSize:          c.Events.QueueSize,
		NativePollTimeout:  c.Events.NativePollTimeout,
		NativeTermination:  c.Events.NativeTermination,
		MaxPullTimeout:     c.Events.MaxPullTimeout,
		SweepInterval:      c.Events.SweepInterval,
		BackoffInitial:     c.Events.BackoffInitial,
		BackoffMax:         c.Events.BackoffMax,
	}
}

// ServerOptions returns the HTTP surface options.
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		ListenAddress: c.Proxy.ListenAddress,
		BasePath:      c.Proxy.BasePath,
		MaxBodyBytes:  c.Proxy.MaxBodyBytes,
	}
}

// LogConfig returns the logging setup.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  c.Proxy.LogLevel,
		Format: c.Proxy.LogFormat,
		File:   c.Proxy.LogFile,
	}
}

// DetectBaseURL builds a base URL from the first non-loopback IPv4 address
// of the host and the port of listen.
func DetectBaseURL(listen string) string {
	port := "8000"
	if _, p, err := net.SplitHostPort(listen); err == nil && p != "" {
		port = p
	}
	ip := "127.0.0.1"
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil {
				ip = v4.String()
				break
			}
		}
	}
	return "http://" + net.JoinHostPort(ip, port)
}
