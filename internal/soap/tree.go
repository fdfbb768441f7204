package soap

import (
	"strings"

	"github.com/beevik/etree"
)

// Child returns the first direct child of el with the given local name,
// whatever prefix it carries.
func Child(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// Children returns every direct child of el with the given local name.
func Children(el *etree.Element, local string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first descendant of el, in document order, with the
// given local name.
func Find(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
		if found := Find(c, local); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant of el with the given local name.
func FindAll(el *etree.Element, local string) []*etree.Element {
	if el == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
		}
		out = append(out, FindAll(c, local)...)
	}
	return out
}

// Path follows a chain of local names from el.
func Path(el *etree.Element, locals ...string) *etree.Element {
	for _, l := range locals {
		el = Child(el, l)
		if el == nil {
			return nil
		}
	}
	return el
}

// Text returns the trimmed text of the element at the local-name path
// below el, or "" when any step is missing.
func Text(el *etree.Element, locals ...string) string {
	if el = Path(el, locals...); el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// Attr returns the value of the attribute with the given local name,
// ignoring its prefix.
func Attr(el *etree.Element, local string) (string, bool) {
	if el == nil {
		return "", false
	}
	for _, a := range el.Attr {
		if a.Key == local && a.Space != "xmlns" {
			return a.Value, true
		}
	}
	return "", false
}

// Local splits a qualified name and returns the part after the prefix.
func Local(qname string) string {
	if idx := strings.IndexByte(qname, ':'); idx >= 0 {
		return qname[idx+1:]
	}
	return qname
}

// Equal reports whether two envelopes are structurally identical: the same
// qualified element names in the same order, the same non-declaration
// attributes in any order, and the same trimmed text. Namespace
// declarations are ignored so that a serialized and re-parsed envelope
// compares equal to the original.
func Equal(a, b *Envelope) bool {
	return equalElement(a.Root(), b.Root())
}

func equalElement(a, b *etree.Element) bool {
	if a.Space != b.Space || a.Tag != b.Tag {
		return false
	}
	if strings.TrimSpace(a.Text()) != strings.TrimSpace(b.Text()) {
		return false
	}
	if !equalAttrs(a.Attr, b.Attr) {
		return false
	}
	ac, bc := a.ChildElements(), b.ChildElements()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !equalElement(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

func equalAttrs(a, b []etree.Attr) bool {
	count := map[string]int{}
	for _, at := range a {
		if !isPrefixDecl(at) && !(at.Space == "" && at.Key == "xmlns") {
			count[at.FullKey()+"\x00"+at.Value]++
		}
	}
	for _, at := range b {
		if isPrefixDecl(at) || (at.Space == "" && at.Key == "xmlns") {
			continue
		}
		k := at.FullKey() + "\x00" + at.Value
		if count[k] == 0 {
			return false
		}
		count[k]--
	}
	for _, n := range count {
		if n != 0 {
			return false
		}
	}
	return true
}
