// Package soap models SOAP 1.2 envelopes as namespace-aware trees.
//
// Parsing is deliberately tolerant: cameras routinely emit bodies that use
// prefixes they never declare, and those are kept and reported through
// Unresolved instead of failing the parse. Serialization hoists every
// prefixed binding found in the tree to the envelope root so that output
// is namespace-complete regardless of how the input was declared.
package soap

import (
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"golang.org/x/net/html/charset"
)

// ErrParse is matched by every *ParseError.
const ErrParse = errors.ConstError("malformed SOAP envelope")

// ParseError describes input that could not be read as a SOAP envelope.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "soap: " + e.Reason + ": " + e.Err.Error()
	}
	return "soap: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Envelope is one parsed or synthesized SOAP message.
type Envelope struct {
	doc *etree.Document
}

// Parse reads a SOAP envelope. A strict read is attempted first; documents
// that only fail strict XML rules (unquoted attributes, stray ampersands)
// are read again in permissive mode before giving up.
func Parse(data []byte) (*Envelope, error) {
	doc, err := read(data, false)
	if err != nil {
		var perr error
		if doc, perr = read(data, true); perr != nil {
			return nil, &ParseError{Reason: "malformed XML", Err: err}
		}
	}

	root := doc.Root()
	if root == nil {
		return nil, &ParseError{Reason: "empty document"}
	}
	if root.Tag != "Envelope" {
		return nil, &ParseError{Reason: "root element is " + root.FullTag() + ", not Envelope"}
	}

	env := &Envelope{doc: doc}
	if env.Body() == nil {
		return nil, &ParseError{Reason: "SOAP Body not found"}
	}
	return env, nil
}

func read(data []byte, permissive bool) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Permissive = permissive
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// New creates an empty envelope with an s:Body.
func New() *Envelope {
	doc := etree.NewDocument()
	root := doc.CreateElement("s:Envelope")
	root.CreateAttr("xmlns:s", NamespaceSOAP12)
	root.CreateElement("s:Body")
	return &Envelope{doc: doc}
}

// NewMessage creates an envelope whose body holds a single operation
// element and returns that element for the caller to fill in. Well-known
// prefixes used by operation are bound at the root.
func NewMessage(operation string) (*Envelope, *etree.Element) {
	env := New()
	op := env.Body().CreateElement(operation)
	if op.Space != "" {
		if uri, ok := WellKnown[op.Space]; ok {
			env.Bind(op.Space, uri)
		}
	}
	return env, op
}

// Root returns the Envelope element.
func (e *Envelope) Root() *etree.Element {
	return e.doc.Root()
}

// Prefix returns the prefix the envelope element is written with.
func (e *Envelope) Prefix() string {
	return e.Root().Space
}

// Header returns the Header element, or nil.
func (e *Envelope) Header() *etree.Element {
	return Child(e.Root(), "Header")
}

// EnsureHeader returns the Header element, creating it before the Body
// when absent.
func (e *Envelope) EnsureHeader() *etree.Element {
	if h := e.Header(); h != nil {
		return h
	}
	h := etree.NewElement(qualify(e.Prefix(), "Header"))
	e.Root().InsertChildAt(e.Body().Index(), h)
	return h
}

// Body returns the Body element.
func (e *Envelope) Body() *etree.Element {
	return Child(e.Root(), "Body")
}

// Operation returns the first element inside the Body, or nil for an
// empty body.
func (e *Envelope) Operation() *etree.Element {
	body := e.Body()
	if body == nil {
		return nil
	}
	children := body.ChildElements()
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// Action returns the local name of the operation element.
func (e *Envelope) Action() string {
	if op := e.Operation(); op != nil {
		return op.Tag
	}
	return ""
}

// SetOperation replaces the body content with op.
func (e *Envelope) SetOperation(op *etree.Element) {
	body := e.Body()
	for _, c := range body.ChildElements() {
		body.RemoveChild(c)
	}
	body.AddChild(op)
}

// Bindings returns the prefixed namespace declarations on the envelope
// element in declaration order.
func (e *Envelope) Bindings() []Binding {
	var out []Binding
	for _, a := range e.Root().Attr {
		if isPrefixDecl(a) {
			out = append(out, Binding{Prefix: a.Key, URI: a.Value})
		}
	}
	return out
}

// Lookup returns the URI bound to prefix at the envelope element.
func (e *Envelope) Lookup(prefix string) (string, bool) {
	for _, b := range e.Bindings() {
		if b.Prefix == prefix {
			return b.URI, true
		}
	}
	return "", false
}

// Bind declares prefix at the envelope element. An existing root binding
// for prefix is left untouched and false is returned.
func (e *Envelope) Bind(prefix, uri string) bool {
	if _, ok := e.Lookup(prefix); ok {
		return false
	}
	e.Root().CreateAttr("xmlns:"+prefix, uri)
	return true
}

// Repair binds every unresolved prefix that table knows at the envelope
// element. It returns the prefixes it bound and those it could not.
func (e *Envelope) Repair(table map[string]string) (bound, unresolved []string) {
	for _, prefix := range e.Unresolved() {
		uri, ok := table[prefix]
		if !ok {
			unresolved = append(unresolved, prefix)
			continue
		}
		e.Bind(prefix, uri)
		bound = append(bound, prefix)
	}
	return bound, unresolved
}

// Unresolved returns, sorted, the prefixes used by elements, attributes or
// topic expressions that have no binding in scope where they are used.
func (e *Envelope) Unresolved() []string {
	seen := map[string]bool{}
	var walk func(el *etree.Element, scope map[string]string)
	walk = func(el *etree.Element, scope map[string]string) {
		scope = withDecls(el, scope)
		check := func(prefix string) {
			if prefix == "" || prefix == "xml" || prefix == "xmlns" {
				return
			}
			if _, ok := scope[prefix]; !ok {
				seen[prefix] = true
			}
		}
		check(el.Space)
		for _, a := range el.Attr {
			if a.Space != "xmlns" {
				check(a.Space)
			}
		}
		if el.Tag == "Topic" {
			for _, p := range qnamePrefixes(el.Text()) {
				check(p)
			}
		}
		for _, c := range el.ChildElements() {
			walk(c, scope)
		}
	}
	walk(e.Root(), map[string]string{})

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Serialize writes the envelope with an XML declaration. Prefixed bindings
// declared below the envelope element are moved up to it; a deeper
// declaration that rebinds a prefix to a different URI stays where it is.
// Default namespace declarations are never moved.
func (e *Envelope) Serialize() ([]byte, error) {
	root := e.Root().Copy()
	hoist(root)

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	out.SetRoot(root)
	b, err := out.WriteToBytes()
	if err != nil {
		return nil, errors.Annotate(err, "serializing envelope")
	}
	return b, nil
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	return &Envelope{doc: e.doc.Copy()}
}

// IsFault reports whether the body carries a SOAP fault.
func (e *Envelope) IsFault() bool {
	return e.Action() == "Fault"
}

func hoist(root *etree.Element) {
	rootNS := map[string]string{}
	for _, a := range root.Attr {
		if isPrefixDecl(a) {
			rootNS[a.Key] = a.Value
		}
	}
	lookup := func(prefix string, local map[string]string) (string, bool) {
		if v, ok := local[prefix]; ok {
			return v, true
		}
		v, ok := rootNS[prefix]
		return v, ok
	}

	var walk func(el *etree.Element, local map[string]string)
	walk = func(el *etree.Element, local map[string]string) {
		for _, child := range el.ChildElements() {
			scope, copied := local, false
			attrs := make([]etree.Attr, 0, len(child.Attr))
			for _, a := range child.Attr {
				if !isPrefixDecl(a) {
					attrs = append(attrs, a)
					continue
				}
				current, inScope := lookup(a.Key, scope)
				switch {
				case inScope && current == a.Value:
				case !inScope:
					root.CreateAttr("xmlns:"+a.Key, a.Value)
					rootNS[a.Key] = a.Value
				default:
					attrs = append(attrs, a)
					if !copied {
						scope, copied = cloneScope(local), true
					}
					scope[a.Key] = a.Value
				}
			}
			child.Attr = attrs
			walk(child, scope)
		}
	}
	walk(root, map[string]string{})
}

func withDecls(el *etree.Element, scope map[string]string) map[string]string {
	var next map[string]string
	for _, a := range el.Attr {
		if !isPrefixDecl(a) {
			continue
		}
		if next == nil {
			next = cloneScope(scope)
		}
		next[a.Key] = a.Value
	}
	if next == nil {
		return scope
	}
	return next
}

func cloneScope(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isPrefixDecl(a etree.Attr) bool {
	return a.Space == "xmlns"
}

// qnamePrefixes extracts the prefixes of a topic expression such as
// "tns1:RuleEngine/CellMotionDetector/Motion|tns1:VideoSource//.".
func qnamePrefixes(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '|' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	}) {
		idx := strings.IndexByte(part, ':')
		if idx <= 0 || strings.HasPrefix(part[idx:], "://") {
			continue
		}
		if prefix := part[:idx]; isNCName(prefix) {
			out = append(out, prefix)
		}
	}
	return out
}

func isNCName(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return s != ""
}

func qualify(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}
