package camera

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{ID: "camera-02", Address: "10.0.0.2:8000"},
		{ID: "camera-01", Address: "10.0.0.1", Model: "other", Quirks: []string{"add_missing_namespaces"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	cam, err := r.Get("camera-02")
	require.NoError(t, err)
	assert.Equal(t, ModelReolink, cam.Model)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "camera-01", all[0].ID)
	assert.Equal(t, "other", all[0].Model)

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Descriptor{{ID: "a"}, {ID: "a"}})
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	_, err = NewRegistry([]Descriptor{{}})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestDescriptorAddressing(t *testing.T) {
	cases := []struct {
		cam        Descriptor
		host, base string
	}{
		{Descriptor{Address: "192.168.1.10:8000"}, "192.168.1.10", "http://192.168.1.10:8000"},
		{Descriptor{Address: "192.168.1.10"}, "192.168.1.10", "http://192.168.1.10"},
		{Descriptor{Address: "[fe80::1]:80", HTTPS: true}, "fe80::1", "https://[fe80::1]:80"},
		{Descriptor{Address: "cam.local:80 10.0.0.5:80"}, "cam.local", "http://cam.local:80"},
	}
	for _, c := range cases {
		assert.Equal(t, c.host, c.cam.Host(), c.cam.Address)
		assert.Equal(t, c.base, c.cam.BaseURL(), c.cam.Address)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Front door", (&Descriptor{ID: "c1", Name: "Front door"}).DisplayName())
	assert.Equal(t, "c1", (&Descriptor{ID: "c1"}).DisplayName())
}

func TestFirstAddress(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5/onvif/device_service",
		FirstAddress(" http://10.0.0.5/onvif/device_service http://[fe80::1]/onvif/device_service\n"))
	assert.Equal(t, "", FirstAddress("  "))
}
