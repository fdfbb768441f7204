package quirks

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/use-go/onvif-proxy/internal/soap"
)

// Event topics, without namespace prefixes.
const (
	MotionTopic     = "RuleEngine/CellMotionDetector/Motion"
	SmartRulePrefix = "RuleEngine/MyRuleDetector/"
	ClassMotion     = "motion"
)

// TopicMap maps proprietary AI detector names to the detection class they
// report. Every mapped detector is delivered to NVRs as plain motion.
type TopicMap map[string]string

// DefaultSmartTopics covers the Reolink AI detectors.
var DefaultSmartTopics = TopicMap{
	"PeopleDetect":  "person",
	"VehicleDetect": "vehicle",
	"DogCatDetect":  "pet",
	"FaceDetect":    "face",
}

// Classify reports whether a native topic is delivered as motion, and with
// which original class. Proprietary detectors are only recognized when
// smart is set; the standard motion topic always is.
func (m TopicMap) Classify(topic string, smart bool) (string, bool) {
	t := StripTopicPrefixes(topic)
	if t == MotionTopic {
		return ClassMotion, true
	}
	if !smart {
		return "", false
	}
	if rest, ok := strings.CutPrefix(t, SmartRulePrefix); ok {
		class, found := m[rest]
		return class, found
	}
	return "", false
}

// StripTopicPrefixes removes the namespace prefix of every topic segment,
// turning "tns1:RuleEngine/tt:CellMotionDetector/Motion" into
// "RuleEngine/CellMotionDetector/Motion".
func StripTopicPrefixes(topic string) string {
	parts := strings.Split(strings.TrimSpace(topic), "/")
	for i, p := range parts {
		parts[i] = soap.Local(p)
	}
	return strings.Join(parts, "/")
}

// eventPropertiesRule advertises the standard motion topic in
// GetEventProperties replies and hides the proprietary detectors that are
// remapped onto it.
func eventPropertiesRule(topics TopicMap) Rule {
	return func(env *soap.Envelope, x Exchange) *soap.Envelope {
		op := env.Operation()
		if op == nil || op.Tag != "GetEventPropertiesResponse" {
			return env
		}
		renameVendorPrefix(op, "reo", "tns1")

		topicSet := soap.Child(op, "TopicSet")
		if topicSet == nil {
			return env
		}
		env.Bind("tns1", soap.NamespaceTopics)
		env.Bind("wstop", soap.NamespaceTopicSet)

		ruleEngine := soap.Child(topicSet, "RuleEngine")
		if ruleEngine == nil {
			ruleEngine = topicSet.CreateElement("tns1:RuleEngine")
			ruleEngine.CreateAttr("wstop:topic", "true")
		}

		if detector := soap.Child(ruleEngine, "MyRuleDetector"); detector != nil {
			for name := range topics {
				for _, el := range soap.Children(detector, name) {
					detector.RemoveChild(el)
				}
			}
			if len(detector.ChildElements()) == 0 {
				ruleEngine.RemoveChild(detector)
			}
		}

		cell := soap.Child(ruleEngine, "CellMotionDetector")
		if cell == nil {
			cell = ruleEngine.CreateElement("CellMotionDetector")
			cell.CreateAttr("wstop:topic", "true")
		}
		if soap.Child(cell, "Motion") == nil {
			motionDescription(env, cell)
		}
		return env
	}
}

func motionDescription(env *soap.Envelope, cell *etree.Element) {
	tt := schemaPrefix(env)
	env.Bind("xs", soap.NamespaceXMLSchema)

	motion := cell.CreateElement("Motion")
	motion.CreateAttr("wstop:topic", "true")
	desc := motion.CreateElement(tt + ":MessageDescription")
	desc.CreateAttr("IsProperty", "true")
	src := desc.CreateElement(tt + ":Source").CreateElement(tt + ":SimpleItemDescription")
	src.CreateAttr("Name", "VideoSourceConfigurationToken")
	src.CreateAttr("Type", tt+":ReferenceToken")
	data := desc.CreateElement(tt + ":Data").CreateElement(tt + ":SimpleItemDescription")
	data.CreateAttr("Name", "IsMotion")
	data.CreateAttr("Type", "xs:boolean")
}

// renameVendorPrefix moves elements and topic expressions from a vendor
// prefix to a standard one.
func renameVendorPrefix(root *etree.Element, from, to string) {
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		if el.Space == from {
			el.Space = to
		}
		if el.Tag == "Topic" || el.Tag == "TopicExpression" {
			text := el.Text()
			if strings.Contains(text, from+":") {
				el.SetText(strings.ReplaceAll(text, from+":", to+":"))
			}
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	walk(root)
}
