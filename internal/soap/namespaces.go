package soap

// ONVIF and WS-* namespace URIs used by the gateway.
const (
	NamespaceSOAP12         = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceDevice         = "http://www.onvif.org/ver10/device/wsdl"
	NamespaceMedia          = "http://www.onvif.org/ver10/media/wsdl"
	NamespaceMedia2         = "http://www.onvif.org/ver20/media/wsdl"
	NamespaceEvents         = "http://www.onvif.org/ver10/events/wsdl"
	NamespaceSchema         = "http://www.onvif.org/ver10/schema"
	NamespaceTopics         = "http://www.onvif.org/ver10/topics"
	NamespaceImaging        = "http://www.onvif.org/ver20/imaging/wsdl"
	NamespacePTZ            = "http://www.onvif.org/ver20/ptz/wsdl"
	NamespaceError          = "http://www.onvif.org/ver10/error"
	NamespaceNotification   = "http://docs.oasis-open.org/wsn/b-2"
	NamespaceTopicSet       = "http://docs.oasis-open.org/wsn/t-1"
	NamespaceResourceFault  = "http://docs.oasis-open.org/wsrf/rw-2"
	NamespaceAddressing     = "http://www.w3.org/2005/08/addressing"
	NamespaceWSSE           = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NamespaceWSU            = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NamespaceXMLSchema      = "http://www.w3.org/2001/XMLSchema"
	NamespaceXMLSchemaInst  = "http://www.w3.org/2001/XMLSchema-instance"
	TopicExpressionConcrete = "http://www.onvif.org/ver10/tev/topicExpression/ConcreteSet"
)

// WellKnown maps the prefixes ONVIF devices conventionally use to their
// namespace URIs. Prefixes outside this table are never fabricated.
var WellKnown = map[string]string{
	"s":        NamespaceSOAP12,
	"env":      NamespaceSOAP12,
	"soap":     NamespaceSOAP12,
	"SOAP-ENV": NamespaceSOAP12,
	"tds":      NamespaceDevice,
	"trt":      NamespaceMedia,
	"tr2":      NamespaceMedia2,
	"tev":      NamespaceEvents,
	"tt":       NamespaceSchema,
	"tns1":     NamespaceTopics,
	"timg":     NamespaceImaging,
	"tptz":     NamespacePTZ,
	"ter":      NamespaceError,
	"wsnt":     NamespaceNotification,
	"wstop":    NamespaceTopicSet,
	"wsrf-rw":  NamespaceResourceFault,
	"wsa":      NamespaceAddressing,
	"wsa5":     NamespaceAddressing,
	"wsse":     NamespaceWSSE,
	"wsu":      NamespaceWSU,
	"xs":       NamespaceXMLSchema,
	"xsd":      NamespaceXMLSchema,
	"xsi":      NamespaceXMLSchemaInst,
}

// Binding is one prefix to namespace URI declaration.
type Binding struct {
	Prefix string
	URI    string
}
