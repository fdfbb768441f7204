package upstream

import (
	"context"

	"github.com/juju/errors"

	"github.com/use-go/onvif-proxy/internal/camera"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// DeviceInfo is the reply to GetDeviceInformation.
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareID      string
}

// Capabilities lists the service addresses a camera advertises.
type Capabilities struct {
	XAddrs           map[string]string // capability name -> XAddr
	PTZSupport       bool
	AnalyticsSupport bool
}

// DeviceInformation fetches the camera's identity directly from its device
// service. Element prefixes are ignored, so replies with unbound
// namespaces decode as well.
func (c *Client) DeviceInformation(ctx context.Context, cam *camera.Descriptor) (*DeviceInfo, error) {
	env, _ := soap.NewMessage("tds:GetDeviceInformation")
	resp, err := c.Send(ctx, cam, ServiceURL(cam, "device_service"), env)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get device information")
	}
	if f := resp.Fault(); f != nil {
		return nil, errors.Errorf("failed to get device information: %s", f.Describe())
	}

	op := resp.Operation()
	if op == nil {
		return nil, newError(ErrMalformedResponse, cam.ID, errors.New("empty GetDeviceInformation response"))
	}
	if op.Tag != "GetDeviceInformationResponse" {
		return nil, newError(ErrMalformedResponse, cam.ID, errors.Errorf("unexpected %s", op.Tag))
	}
	return &DeviceInfo{
		Manufacturer:    soap.Text(op, "Manufacturer"),
		Model:           soap.Text(op, "Model"),
		FirmwareVersion: soap.Text(op, "FirmwareVersion"),
		SerialNumber:    soap.Text(op, "SerialNumber"),
		HardwareID:      soap.Text(op, "HardwareId"),
	}, nil
}

// GetCapabilities fetches device capabilities
func (c *Client) GetCapabilities(ctx context.Context, cam *camera.Descriptor) (*Capabilities, error) {
	env, op := soap.NewMessage("tds:GetCapabilities")
	op.CreateElement("tds:Category").SetText("All")

	resp, err := c.Send(ctx, cam, ServiceURL(cam, "device_service"), env)
	if err != nil {
		return nil, errors.Annotate(err, "failed to get capabilities")
	}
	if f := resp.Fault(); f != nil {
		return nil, errors.Errorf("failed to get capabilities: %s", f.Describe())
	}

	caps := &Capabilities{XAddrs: map[string]string{}}
	for _, x := range soap.FindAll(resp.Body(), "XAddr") {
		parent := x.Parent()
		if parent == nil || parent.Tag == "Capabilities" {
			continue
		}
		caps.XAddrs[parent.Tag] = soap.Text(x)
		switch parent.Tag {
		case "PTZ":
			caps.PTZSupport = true
		case "Analytics":
			caps.AnalyticsSupport = true
		}
	}
	return caps, nil
}
