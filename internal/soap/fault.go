package soap

import (
	"net/http"
	"strings"
)

// Fault codes.
const (
	CodeSender   = "Sender"
	CodeReceiver = "Receiver"
)

// Fault is a SOAP 1.2 fault. It doubles as an error so that components can
// return a fault and let the transport layer render it.
type Fault struct {
	Code    string // Sender or Receiver, unprefixed
	Subcode string // qualified, e.g. ter:NotAuthorized
	Reason  string
	Status  int // HTTP status the fault is delivered with
}

func (f *Fault) Error() string {
	if f.Subcode != "" {
		return "soap fault " + f.Subcode + ": " + f.Reason
	}
	return "soap fault: " + f.Reason
}

// NewFault returns a fault with the given code, qualified subcode and
// reason text.
func NewFault(code, subcode, reason string, status int) *Fault {
	return &Fault{Code: code, Subcode: subcode, Reason: reason, Status: status}
}

// NotAuthorized is returned when the camera rejects the configured
// credentials.
func NotAuthorized(reason string) *Fault {
	return NewFault(CodeSender, "ter:NotAuthorized", reason, http.StatusBadGateway)
}

// ResourceUnknown is returned for invalid or expired subscription handles.
func ResourceUnknown(reason string) *Fault {
	return NewFault(CodeSender, "wsrf-rw:ResourceUnknownFault", reason, http.StatusBadRequest)
}

// UnknownCamera is returned when the request path names no configured
// camera.
func UnknownCamera(id string) *Fault {
	return NewFault(CodeSender, "ter:UnknownCamera", "camera "+id+" is not configured", http.StatusNotFound)
}

// MalformedResponse is returned when a camera reply cannot be parsed.
func MalformedResponse(reason string) *Fault {
	return NewFault(CodeReceiver, "ter:MalformedResponse", reason, http.StatusBadGateway)
}

// Unreachable is returned when a camera cannot be contacted.
func Unreachable(reason string) *Fault {
	return NewFault(CodeReceiver, "ter:Unreachable", reason, http.StatusServiceUnavailable)
}

// WellFormed is returned for client requests that are not a SOAP envelope.
func WellFormed(reason string) *Fault {
	return NewFault(CodeSender, "ter:WellFormed", reason, http.StatusBadRequest)
}

// ActionNotSupported is returned for operations a service does not
// implement.
func ActionNotSupported(action string) *Fault {
	return NewFault(CodeReceiver, "ter:ActionNotSupported", action+" is not supported", http.StatusBadRequest)
}

// InvalidArgs is returned for requests carrying unusable arguments.
func InvalidArgs(reason string) *Fault {
	return NewFault(CodeSender, "ter:InvalidArgVal", reason, http.StatusBadRequest)
}

// Envelope renders the fault as a SOAP 1.2 envelope.
func (f *Fault) Envelope() *Envelope {
	env, fault := NewMessage("s:Fault")

	code := fault.CreateElement("s:Code")
	value := f.Code
	if value == "" {
		value = CodeReceiver
	}
	code.CreateElement("s:Value").SetText("s:" + value)
	if f.Subcode != "" {
		code.CreateElement("s:Subcode").CreateElement("s:Value").SetText(f.Subcode)
		if idx := strings.IndexByte(f.Subcode, ':'); idx > 0 {
			prefix := f.Subcode[:idx]
			if uri, ok := WellKnown[prefix]; ok {
				env.Bind(prefix, uri)
			}
		}
	}

	text := fault.CreateElement("s:Reason").CreateElement("s:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(f.Reason)
	return env
}

// Fault extracts the fault carried by the envelope, or nil when the body is
// not a fault. Both SOAP 1.2 (Code/Subcode/Reason) and SOAP 1.1
// (faultcode/faultstring) layouts are understood.
func (e *Envelope) Fault() *Fault {
	if !e.IsFault() {
		return nil
	}
	el := e.Operation()
	f := &Fault{Status: http.StatusInternalServerError}

	if code := Child(el, "Code"); code != nil {
		f.Code = Local(Text(code, "Value"))
		f.Subcode = Text(code, "Subcode", "Value")
		if reason := Child(el, "Reason"); reason != nil {
			f.Reason = Text(reason, "Text")
		}
	} else {
		f.Code = soap11Code(Local(Text(el, "faultcode")))
		f.Reason = Text(el, "faultstring")
	}
	if f.Code == CodeSender {
		f.Status = http.StatusBadRequest
	}
	return f
}

func soap11Code(code string) string {
	switch code {
	case "Client":
		return CodeSender
	case "Server":
		return CodeReceiver
	}
	return code
}

// Describe returns a human readable description of well-known ONVIF fault
// subcodes, falling back to the fault reason.
func (f *Fault) Describe() string {
	switch Local(f.Subcode) {
	case "NotAuthorized":
		return "not authorized"
	case "ActionNotSupported":
		return "operation not supported by the device"
	}
	if f.Reason != "" {
		return f.Reason
	}
	return "SOAP fault in response"
}
