// Package events emulates ONVIF PullPoint subscriptions on top of the
// cameras' own, translating proprietary detector topics into standard
// motion events.
package events

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/use-go/onvif-proxy/internal/quirks"
	"github.com/use-go/onvif-proxy/internal/soap"
)

// Property operations.
const (
	OperationChanged     = "Changed"
	OperationInitialized = "Initialized"
)

// Item is one SimpleItem name/value pair.
type Item struct {
	Name  string
	Value string
}

// Event is a motion notification ready for delivery to NVRs.
type Event struct {
	Topic     string // always quirks.MotionTopic
	Time      time.Time
	Motion    bool
	Source    []Item
	Operation string
	Class     string // original detection class, never sent to NVRs
}

func (e Event) sourceKey() string {
	var b strings.Builder
	for _, it := range e.Source {
		b.WriteString(it.Name)
		b.WriteByte('=')
		b.WriteString(it.Value)
		b.WriteByte(';')
	}
	return b.String()
}

// Translate converts one native wsnt:NotificationMessage into a motion
// event. ok is false for topics that are not delivered. A missing State or
// IsMotion item means the detector fired.
func Translate(msg *etree.Element, topics quirks.TopicMap, smart bool, now time.Time) (Event, bool) {
	class, ok := topics.Classify(soap.Text(msg, "Topic"), smart)
	if !ok {
		return Event{}, false
	}

	ev := Event{
		Topic:     quirks.MotionTopic,
		Time:      now.UTC(),
		Motion:    true,
		Operation: OperationChanged,
		Class:     class,
	}

	inner := soap.Path(msg, "Message", "Message")
	if inner == nil {
		return ev, true
	}
	if ts, ok := soap.Attr(inner, "UtcTime"); ok {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ts)); err == nil {
			ev.Time = t.UTC()
		}
	}
	if op, ok := soap.Attr(inner, "PropertyOperation"); ok && op != "" {
		ev.Operation = op
	}
	for _, it := range soap.Children(soap.Child(inner, "Source"), "SimpleItem") {
		name, _ := soap.Attr(it, "Name")
		value, _ := soap.Attr(it, "Value")
		ev.Source = append(ev.Source, Item{Name: name, Value: value})
	}
	for _, it := range soap.Children(soap.Child(inner, "Data"), "SimpleItem") {
		name, _ := soap.Attr(it, "Name")
		if name != "State" && name != "IsMotion" {
			continue
		}
		value, _ := soap.Attr(it, "Value")
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			ev.Motion = b
			break
		}
	}
	return ev, true
}

// appendNotification writes ev as a wsnt:NotificationMessage under parent.
func appendNotification(parent *etree.Element, ev Event) {
	nm := parent.CreateElement("wsnt:NotificationMessage")
	topic := nm.CreateElement("wsnt:Topic")
	topic.CreateAttr("Dialect", soap.TopicExpressionConcrete)
	topic.SetText("tns1:" + ev.Topic)

	msg := nm.CreateElement("wsnt:Message").CreateElement("tt:Message")
	msg.CreateAttr("UtcTime", ev.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	op := ev.Operation
	if op == "" {
		op = OperationChanged
	}
	msg.CreateAttr("PropertyOperation", op)

	if len(ev.Source) > 0 {
		src := msg.CreateElement("tt:Source")
		for _, it := range ev.Source {
			si := src.CreateElement("tt:SimpleItem")
			si.CreateAttr("Name", it.Name)
			si.CreateAttr("Value", it.Value)
		}
	}
	data := msg.CreateElement("tt:Data")
	for _, name := range []string{"IsMotion", "State"} {
		si := data.CreateElement("tt:SimpleItem")
		si.CreateAttr("Name", name)
		si.CreateAttr("Value", strconv.FormatBool(ev.Motion))
	}
}
