package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-go/onvif-proxy/internal/camera"
)

const sample = `
proxy:
  listen_address: "0.0.0.0:8000"
  base_path: "onvif"
  base_url: "http://192.168.1.50:8000/"
  log_level: "debug"
events:
  queue_size: 50
  max_termination: 30m
cameras:
  - id: "camera-01"
    name: "Front Door"
    address: "192.168.1.10:8000"
    username: "admin"
    password: "secret"
    enable_smart_detection: true
    quirks:
      - fix_device_info_namespace
      - translate_smart_events
  - id: "camera-02"
    address: "192.168.1.11"
    ptz: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cameras.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Proxy.ListenAddress)
	assert.Equal(t, "http://192.168.1.50:8000", cfg.Proxy.BaseURL)
	assert.Equal(t, "debug", cfg.Proxy.LogLevel)
	assert.Equal(t, "json", cfg.Proxy.LogFormat)
	assert.Equal(t, 50, cfg.Events.QueueSize)
	assert.Equal(t, 30*time.Minute, cfg.Events.MaxTermination)
	assert.Equal(t, 10*time.Minute, cfg.Events.DefaultTermination)
	assert.Equal(t, "person", cfg.Events.SmartTopics["PeopleDetect"])
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)

	descs := cfg.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "camera-01", descs[0].ID)
	assert.True(t, descs[0].SmartDetection)
	assert.Equal(t, []string{"fix_device_info_namespace", "translate_smart_events"}, descs[0].Quirks)
	assert.True(t, descs[1].PTZ)

	reg, err := camera.NewRegistry(descs)
	require.NoError(t, err)
	cam, err := reg.Get("camera-02")
	require.NoError(t, err)
	assert.Equal(t, camera.ModelReolink, cam.Model)

	opts := cfg.EventOptions()
	assert.Equal(t, 30*time.Minute, opts.MaxTermination)
	assert.Equal(t, "http://192.168.1.50:8000", opts.Proxy.BaseURL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("ONVIF_PROXY_PROXY_LISTEN_ADDRESS", "0.0.0.0:9000")
	t.Setenv("ONVIF_PROXY_EVENTS_QUEUE_SIZE", "7")
	t.Setenv("ONVIF_PROXY_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("BASE_URL", "http://nvr-facing:9000")

	cfg, err := Load(writeConfig(t, strings.Replace(sample, `  base_url: "http://192.168.1.50:8000/"`+"\n", "", 1)))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Proxy.ListenAddress)
	assert.Equal(t, 7, cfg.Events.QueueSize)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "http://nvr-facing:9000", cfg.Proxy.BaseURL)
}

func TestConfigPathFromEnvironment(t *testing.T) {
	t.Setenv(PathEnvVar, writeConfig(t, sample))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Cameras, 2)
}

func TestInvalidConfigurations(t *testing.T) {
	tests := map[string]string{
		"unknown quirk": `
cameras:
  - id: camera-01
    address: 10.0.0.1
    quirks: [fix_everything]
`,
		"duplicate id": `
cameras:
  - id: camera-01
    address: 10.0.0.1
  - id: camera-01
    address: 10.0.0.2
`,
		"missing address": `
cameras:
  - id: camera-01
`,
		"no cameras": `
proxy:
  listen_address: "0.0.0.0:8000"
`,
		"bad log level": `
proxy:
  log_level: loud
cameras:
  - id: camera-01
    address: 10.0.0.1
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), err.Error())
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDetectBaseURL(t *testing.T) {
	url := DetectBaseURL("0.0.0.0:8123")
	assert.True(t, strings.HasPrefix(url, "http://"))
	assert.True(t, strings.HasSuffix(url, ":8123"))

	assert.True(t, strings.HasSuffix(DetectBaseURL("bogus"), ":8000"))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "proxy.listen_address", envKey("ONVIF_PROXY_PROXY_LISTEN_ADDRESS"))
	assert.Equal(t, "events.native_poll_timeout", envKey("ONVIF_PROXY_EVENTS_NATIVE_POLL_TIMEOUT"))
	assert.Equal(t, "proxy.base_url", envKey("BASE_URL"))
	assert.Equal(t, "", envKey("HOME"))
}
