// Package camera holds the identity and connection facts of the upstream
// cameras the gateway fronts.
package camera

import (
	"sort"
	"strings"

	"github.com/juju/errors"
)

// ModelReolink is the default camera model.
const ModelReolink = "reolink"

// Descriptor represents one upstream camera. Descriptors are built once at
// startup and never mutated.
type Descriptor struct {
	ID             string
	Name           string
	Address        string // host:port of the camera's ONVIF endpoint
	Username       string
	Password       string
	Model          string
	Quirks         []string
	SmartDetection bool
	PTZ            bool
	HTTPS          bool
	InsecureTLS    bool // Skip TLS certificate verification
}

// Host returns the address without its port.
func (d *Descriptor) Host() string {
	addr := FirstAddress(d.Address)
	if strings.HasPrefix(addr, "[") {
		if end := strings.Index(addr, "]"); end > 0 {
			return addr[1:end]
		}
	}
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 && strings.Count(addr, ":") == 1 {
		return addr[:idx]
	}
	return addr
}

// Scheme returns the scheme used to reach the camera.
func (d *Descriptor) Scheme() string {
	if d.HTTPS {
		return "https"
	}
	return "http"
}

// BaseURL returns the scheme and address of the camera's ONVIF endpoint.
func (d *Descriptor) BaseURL() string {
	return d.Scheme() + "://" + FirstAddress(d.Address)
}

// DisplayName returns the best available name for the camera.
func (d *Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// FirstAddress returns the first of several whitespace separated
// addresses, as cameras list them in XAddr fields.
func FirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}

// Registry is the read-only set of configured cameras.
type Registry struct {
	byID map[string]*Descriptor
}

// NewRegistry builds a registry, rejecting empty and duplicate ids.
func NewRegistry(cams []Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Descriptor, len(cams))}
	for i := range cams {
		cam := cams[i]
		if cam.ID == "" {
			return nil, errors.NotValidf("camera at index %d without id", i)
		}
		if _, dup := r.byID[cam.ID]; dup {
			return nil, errors.AlreadyExistsf("camera %q", cam.ID)
		}
		if cam.Model == "" {
			cam.Model = ModelReolink
		}
		cam.Quirks = append([]string(nil), cam.Quirks...)
		r.byID[cam.ID] = &cam
	}
	return r, nil
}

// Get returns the camera with the given id.
func (r *Registry) Get(id string) (*Descriptor, error) {
	cam, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFoundf("camera %q", id)
	}
	return cam, nil
}

// All returns every camera ordered by id.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.byID))
	for _, cam := range r.byID {
		out = append(out, cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cameras.
func (r *Registry) Len() int {
	return len(r.byID)
}
