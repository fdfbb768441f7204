package metrics

// Label values substituted for request attributes outside the known sets.
const (
	LabelUnknown = "unknown"
	LabelOther   = "other"
)

var knownServices = set(
	"device_service", "media_service", "media2_service", "event_service",
	"ptz_service", "imaging_service", "analytics_service", "deviceio_service",
	"recording_service", "search_service", "replay_service", "subscription",
)

var knownOperations = set(
	// device
	"GetDeviceInformation", "GetCapabilities", "GetServices", "GetServiceCapabilities",
	"GetSystemDateAndTime", "SetSystemDateAndTime", "GetHostname", "SetHostname",
	"GetNetworkInterfaces", "GetNetworkProtocols", "GetDNS", "GetNTP", "GetScopes",
	"GetUsers", "CreateUsers", "DeleteUsers", "SetUser", "GetWsdlUrl",
	"GetDiscoveryMode", "GetRelayOutputs", "SystemReboot",
	// media
	"GetProfiles", "GetProfile", "GetStreamUri", "GetSnapshotUri",
	"GetVideoSources", "GetVideoSourceConfigurations", "GetVideoEncoderConfigurations",
	"GetVideoEncoderConfiguration", "SetVideoEncoderConfiguration",
	"GetVideoEncoderConfigurationOptions", "GetAudioSources",
	"GetAudioEncoderConfigurations", "GetOSDs", "DeleteOSD",
	// events
	"GetEventProperties", "CreatePullPointSubscription", "PullMessages", "Renew",
	"Unsubscribe", "SetSynchronizationPoint", "Subscribe",
	// ptz
	"GetNodes", "GetNode", "GetConfigurations", "GetStatus", "GetPresets",
	"GotoPreset", "SetPreset", "RemovePreset", "ContinuousMove", "AbsoluteMove",
	"RelativeMove", "Stop", "GotoHomePosition",
	// imaging
	"GetImagingSettings", "SetImagingSettings", "GetOptions", "GetMoveOptions",
)

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// ServiceLabel bounds a routed service name to the known services.
func ServiceLabel(service string) string {
	if knownServices[service] {
		return service
	}
	return LabelOther
}

// OperationLabel bounds a request action to the known ONVIF operations.
// An empty action stays empty.
func OperationLabel(action string) string {
	if action == "" || knownOperations[action] {
		return action
	}
	return LabelOther
}
