package quirks

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/use-go/onvif-proxy/internal/soap"
)

// VideoEncoderConfig represents the video encoder configuration
// synthesized for profiles that lack one.
type VideoEncoderConfig struct {
	Encoding         string
	Width            int
	Height           int
	FrameRateLimit   int
	BitrateLimit     int
	EncodingInterval int
	Quality          float32
	GovLength        int
	H264Profile      string
	SessionTimeout   string
}

// DefaultVideoEncoder is used when the camera reports no encoder.
var DefaultVideoEncoder = VideoEncoderConfig{
	Encoding:         "H264",
	Width:            1920,
	Height:           1080,
	FrameRateLimit:   25,
	BitrateLimit:     4096,
	EncodingInterval: 1,
	Quality:          4,
	GovLength:        50,
	H264Profile:      "Main",
	SessionTimeout:   "PT60S",
}

// Children of tt:Profile in schema order.
var profileOrder = []string{
	"Name",
	"VideoSourceConfiguration",
	"AudioSourceConfiguration",
	"VideoEncoderConfiguration",
	"AudioEncoderConfiguration",
	"VideoAnalyticsConfiguration",
	"PTZConfiguration",
	"MetadataConfiguration",
	"Extension",
}

// normalizeMediaProfiles gives every media profile a video encoder
// configuration and, for cameras without PTZ, an empty PTZ configuration.
func normalizeMediaProfiles(env *soap.Envelope, x Exchange) *soap.Envelope {
	op := env.Operation()
	if op == nil {
		return env
	}
	var profiles []*etree.Element
	switch op.Tag {
	case "GetProfilesResponse":
		profiles = soap.Children(op, "Profiles")
	case "GetProfileResponse":
		profiles = soap.Children(op, "Profile")
	default:
		return env
	}

	for _, profile := range profiles {
		// Media2 profiles group their configurations differently.
		if soap.Child(profile, "Configurations") != nil {
			continue
		}
		if soap.Child(profile, "VideoEncoderConfiguration") == nil {
			prefix := schemaPrefix(env)
			insertOrdered(profile, videoEncoder(prefix, profile, DefaultVideoEncoder))
		}
		if x.Camera != nil && !x.Camera.PTZ && soap.Child(profile, "PTZConfiguration") == nil {
			prefix := schemaPrefix(env)
			insertOrdered(profile, etree.NewElement(prefix+":PTZConfiguration"))
		}
	}
	return env
}

func videoEncoder(prefix string, profile *etree.Element, def VideoEncoderConfig) *etree.Element {
	tt := func(parent *etree.Element, name string) *etree.Element {
		return parent.CreateElement(prefix + ":" + name)
	}

	width, height := def.Width, def.Height
	if bounds := soap.Path(profile, "VideoSourceConfiguration", "Bounds"); bounds != nil {
		w, werr := strconv.Atoi(bounds.SelectAttrValue("width", ""))
		h, herr := strconv.Atoi(bounds.SelectAttrValue("height", ""))
		if werr == nil && herr == nil && w > 0 && h > 0 {
			width, height = w, h
		}
	}
	token, _ := soap.Attr(profile, "token")

	vec := etree.NewElement(prefix + ":VideoEncoderConfiguration")
	vec.CreateAttr("token", "vec_"+token)
	tt(vec, "Name").SetText("VideoEncoder_" + token)
	tt(vec, "UseCount").SetText("1")
	tt(vec, "Encoding").SetText(def.Encoding)
	res := tt(vec, "Resolution")
	tt(res, "Width").SetText(strconv.Itoa(width))
	tt(res, "Height").SetText(strconv.Itoa(height))
	tt(vec, "Quality").SetText(strconv.FormatFloat(float64(def.Quality), 'f', -1, 32))
	rc := tt(vec, "RateControl")
	tt(rc, "FrameRateLimit").SetText(strconv.Itoa(def.FrameRateLimit))
	tt(rc, "EncodingInterval").SetText(strconv.Itoa(def.EncodingInterval))
	tt(rc, "BitrateLimit").SetText(strconv.Itoa(def.BitrateLimit))
	h264 := tt(vec, "H264")
	tt(h264, "GovLength").SetText(strconv.Itoa(def.GovLength))
	tt(h264, "H264Profile").SetText(def.H264Profile)
	mc := tt(vec, "Multicast")
	addr := tt(mc, "Address")
	tt(addr, "Type").SetText("IPv4")
	tt(addr, "IPv4Address").SetText("0.0.0.0")
	tt(mc, "Port").SetText("0")
	tt(mc, "TTL").SetText("0")
	tt(mc, "AutoStart").SetText("false")
	tt(vec, "SessionTimeout").SetText(def.SessionTimeout)
	return vec
}

// insertOrdered places child among parent's children so that the known
// profile elements stay in schema order.
func insertOrdered(parent, child *etree.Element) {
	rank := func(tag string) int {
		for i, t := range profileOrder {
			if t == tag {
				return i
			}
		}
		return len(profileOrder)
	}
	want := rank(child.Tag)
	for _, c := range parent.ChildElements() {
		if rank(c.Tag) > want {
			parent.InsertChildAt(c.Index(), child)
			return
		}
	}
	parent.AddChild(child)
}

// schemaPrefix returns a prefix bound to the ONVIF schema namespace at the
// envelope root, binding tt when there is none.
func schemaPrefix(env *soap.Envelope) string {
	for _, b := range env.Bindings() {
		if b.URI == soap.NamespaceSchema {
			return b.Prefix
		}
	}
	env.Bind("tt", soap.NamespaceSchema)
	return "tt"
}
