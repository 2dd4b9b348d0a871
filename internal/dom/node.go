package dom

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/workerdom/internal/intern"
	"github.com/GriffinCanCode/workerdom/internal/observer"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Attr is one attribute of an element.
type Attr struct {
	Namespace string
	Name      string
	Value     string
}

// Node is a node of the worker document. Every node is interned in the
// session when it is created, so its id is fixed for its lifetime.
type Node struct {
	doc       *Document
	id        uint16
	nodeType  protocol.NodeType
	name      string
	namespace string
	data      string

	parent   *Node
	children []*Node

	attrs     []Attr
	props     map[string]any
	listeners map[string][]*listener
}

// ParentNode implements intern.Node. A detached node or the document has
// no parent.
func (n *Node) ParentNode() intern.Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

// Creation implements intern.Node.
func (n *Node) Creation(st *intern.StringTable) []uint16 {
	rec := []uint16{n.id, uint16(n.nodeType), st.Store(n.name), protocol.NoString, protocol.NoString}
	if n.nodeType == protocol.TextNode || n.nodeType == protocol.CommentNode {
		rec[3] = st.Store(n.data)
	}
	if n.namespace != "" {
		rec[4] = st.Store(n.namespace)
	}
	return rec
}

// SerializeReference implements codec.Serializable, so nodes can be
// passed as arguments to remote calls.
func (n *Node) SerializeReference() (protocol.ObjectKind, uint32) {
	return protocol.KindNode, uint32(n.id)
}

// ID returns the node id shared with the main context.
func (n *Node) ID() uint16 { return n.id }

// NodeType returns the DOM node type.
func (n *Node) NodeType() protocol.NodeType { return n.nodeType }

// NodeName returns the tag name of an element, or "#text", "#comment" or
// "#document".
func (n *Node) NodeName() string { return n.name }

// NamespaceURI returns the element namespace; empty for HTML.
func (n *Node) NamespaceURI() string { return n.namespace }

// OwnerDocument returns the document the node belongs to.
func (n *Node) OwnerDocument() *Document { return n.doc }

// Parent returns the parent node, or nil.
func (n *Node) Parent() *Node { return n.parent }

// ChildNodes returns a copy of the children.
func (n *Node) ChildNodes() []*Node {
	return append([]*Node(nil), n.children...)
}

// FirstChild returns the first child, or nil.
func (n *Node) FirstChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

// LastChild returns the last child, or nil.
func (n *Node) LastChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[len(n.children)-1]
}

// NextSibling returns the following sibling, or nil.
func (n *Node) NextSibling() *Node {
	if n.parent == nil {
		return nil
	}
	i := n.parent.indexOf(n)
	if i+1 < len(n.parent.children) {
		return n.parent.children[i+1]
	}
	return nil
}

// PreviousSibling returns the preceding sibling, or nil.
func (n *Node) PreviousSibling() *Node {
	if n.parent == nil {
		return nil
	}
	if i := n.parent.indexOf(n); i > 0 {
		return n.parent.children[i-1]
	}
	return nil
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for c := other; c != nil; c = c.parent {
		if c == n {
			return true
		}
	}
	return false
}

// AppendChild adds child as the last child of n.
func (n *Node) AppendChild(child *Node) error {
	return n.InsertBefore(child, nil)
}

// InsertBefore inserts child before ref, or appends it when ref is nil. A
// child attached elsewhere is detached first.
func (n *Node) InsertBefore(child, ref *Node) error {
	if err := n.checkInsert(child); err != nil {
		return err
	}
	if ref != nil && ref.parent != n {
		return fmt.Errorf("insert before: %w", ErrNotFound)
	}
	if child == ref {
		return nil
	}
	if child.parent != nil {
		if err := child.parent.RemoveChild(child); err != nil {
			return err
		}
	}

	i := len(n.children)
	if ref != nil {
		i = n.indexOf(ref)
	}
	n.insertAt(i, child)
	n.childList([]*Node{child}, nil, child.PreviousSibling(), ref)
	return nil
}

// RemoveChild detaches child from n.
func (n *Node) RemoveChild(child *Node) error {
	if child == nil || child.parent != n {
		return fmt.Errorf("remove child: %w", ErrNotFound)
	}
	prev, next := child.PreviousSibling(), child.NextSibling()
	n.removeAt(n.indexOf(child))
	n.childList(nil, []*Node{child}, prev, next)
	return nil
}

// ReplaceChild puts newChild where old is, in one record.
func (n *Node) ReplaceChild(newChild, old *Node) error {
	if old == nil || old.parent != n {
		return fmt.Errorf("replace child: %w", ErrNotFound)
	}
	if err := n.checkInsert(newChild); err != nil {
		return err
	}
	if newChild == old {
		return nil
	}
	if newChild.parent != nil {
		if err := newChild.parent.RemoveChild(newChild); err != nil {
			return err
		}
	}
	prev, next := old.PreviousSibling(), old.NextSibling()
	i := n.indexOf(old)
	n.removeAt(i)
	n.insertAt(i, newChild)
	n.childList([]*Node{newChild}, []*Node{old}, prev, next)
	return nil
}

// Remove detaches n from its parent, if any.
func (n *Node) Remove() {
	if n.parent != nil {
		_ = n.parent.RemoveChild(n)
	}
}

func (n *Node) checkInsert(child *Node) error {
	switch {
	case child == nil:
		return fmt.Errorf("insert: %w", ErrNotFound)
	case child.doc != n.doc:
		return ErrWrongDocument
	case child.nodeType == protocol.DocumentNode:
		return fmt.Errorf("%w: a document cannot be a child", ErrHierarchy)
	case n.nodeType == protocol.TextNode || n.nodeType == protocol.CommentNode:
		return fmt.Errorf("%w: %s cannot have children", ErrHierarchy, n.name)
	case child.Contains(n):
		return fmt.Errorf("%w: node would contain itself", ErrHierarchy)
	}
	return nil
}

func (n *Node) childList(added, removed []*Node, prev, next *Node) {
	rec := make([]uint16, 0, 6+len(added)+len(removed))
	rec = append(rec, uint16(protocol.OpChildList), n.id, idOf(next), idOf(prev), uint16(len(added)), uint16(len(removed)))
	for _, c := range added {
		rec = append(rec, c.id)
	}
	for _, c := range removed {
		rec = append(rec, c.id)
	}
	n.doc.sess.Mutate(observer.Record{
		Type:            observer.ChildList,
		Target:          n,
		AddedNodes:      nodes(added),
		RemovedNodes:    nodes(removed),
		PreviousSibling: asNode(prev),
		NextSibling:     asNode(next),
	}, rec...)
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

func (n *Node) insertAt(i int, child *Node) {
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
	child.parent = n
}

func (n *Node) removeAt(i int) {
	child := n.children[i]
	n.children = append(n.children[:i], n.children[i+1:]...)
	child.parent = nil
}

// GetAttribute returns the value of the attribute named name.
func (n *Node) GetAttribute(name string) (string, bool) {
	return n.GetAttributeNS("", name)
}

// GetAttributeNS returns the value of a namespaced attribute.
func (n *Node) GetAttributeNS(ns, name string) (string, bool) {
	if i := n.attrIndex(ns, name); i >= 0 {
		return n.attrs[i].Value, true
	}
	return "", false
}

// HasAttribute reports whether the attribute is set.
func (n *Node) HasAttribute(name string) bool {
	return n.attrIndex("", name) >= 0
}

// Attributes returns a copy of the attributes in the order they were set.
func (n *Node) Attributes() []Attr {
	return append([]Attr(nil), n.attrs...)
}

// SetAttribute sets an attribute.
func (n *Node) SetAttribute(name, value string) error {
	return n.SetAttributeNS("", name, value)
}

// SetAttributeNS sets a namespaced attribute.
func (n *Node) SetAttributeNS(ns, name, value string) error {
	if n.nodeType != protocol.ElementNode {
		return fmt.Errorf("%w: attributes on %s", ErrNotElement, n.name)
	}
	if name == "" {
		return fmt.Errorf("%w: empty attribute name", ErrInvalidName)
	}
	old := ""
	if i := n.attrIndex(ns, name); i >= 0 {
		old = n.attrs[i].Value
		n.attrs[i].Value = value
	} else {
		n.attrs = append(n.attrs, Attr{Namespace: ns, Name: name, Value: value})
	}
	n.attribute(ns, name, old, value, true)
	return nil
}

// RemoveAttribute removes an attribute. Removing a missing attribute does
// nothing.
func (n *Node) RemoveAttribute(name string) {
	n.RemoveAttributeNS("", name)
}

// RemoveAttributeNS removes a namespaced attribute.
func (n *Node) RemoveAttributeNS(ns, name string) {
	i := n.attrIndex(ns, name)
	if i < 0 {
		return
	}
	old := n.attrs[i].Value
	n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
	n.attribute(ns, name, old, "", false)
}

func (n *Node) attribute(ns, name, old, value string, set bool) {
	sess := n.doc.sess
	nsID, valueID := protocol.NoString, protocol.NoString
	if ns != "" {
		nsID = sess.StoreString(ns)
	}
	if set {
		valueID = sess.StoreString(value)
	}
	sess.Mutate(observer.Record{
		Type:               observer.Attributes,
		Target:             n,
		AttributeName:      name,
		AttributeNamespace: ns,
		OldValue:           old,
		Value:              value,
	}, uint16(protocol.OpAttributes), n.id, sess.StoreString(name), nsID, valueID)
}

func (n *Node) attrIndex(ns, name string) int {
	for i, a := range n.attrs {
		if a.Namespace == ns && a.Name == name {
			return i
		}
	}
	return -1
}

// Data returns the text of a text or comment node.
func (n *Node) Data() string { return n.data }

// SetData replaces the text of a text or comment node.
func (n *Node) SetData(data string) error {
	if n.nodeType != protocol.TextNode && n.nodeType != protocol.CommentNode {
		return fmt.Errorf("%w: %s has no character data", ErrHierarchy, n.name)
	}
	old := n.data
	n.data = data
	sess := n.doc.sess
	sess.Mutate(observer.Record{
		Type:     observer.CharacterData,
		Target:   n,
		OldValue: old,
		Value:    data,
	}, uint16(protocol.OpCharacterData), n.id, sess.StoreString(data))
	return nil
}

// TextContent returns the concatenated text of n and its descendants.
func (n *Node) TextContent() string {
	switch n.nodeType {
	case protocol.TextNode, protocol.CommentNode:
		return n.data
	}
	var sb strings.Builder
	var walk func(*Node)
	walk = func(c *Node) {
		if c.nodeType == protocol.TextNode {
			sb.WriteString(c.data)
		}
		for _, gc := range c.children {
			walk(gc)
		}
	}
	walk(n)
	return sb.String()
}

// SetTextContent replaces the children of an element with one text node,
// or the data of a text or comment node.
func (n *Node) SetTextContent(text string) error {
	switch n.nodeType {
	case protocol.TextNode, protocol.CommentNode:
		return n.SetData(text)
	}
	for len(n.children) > 0 {
		if err := n.RemoveChild(n.children[len(n.children)-1]); err != nil {
			return err
		}
	}
	if text == "" {
		return nil
	}
	return n.AppendChild(n.doc.CreateTextNode(text))
}

// Property returns a property set with SetProperty.
func (n *Node) Property(name string) (any, bool) {
	v, ok := n.props[name]
	return v, ok
}

// SetProperty sets a DOM property such as value or checked. Booleans are
// sent as booleans; anything else as its string form.
func (n *Node) SetProperty(name string, value any) {
	if n.props == nil {
		n.props = make(map[string]any)
	}
	n.props[name] = value

	sess := n.doc.sess
	kind, word := protocol.PropertyString, uint16(0)
	text := ""
	switch v := value.(type) {
	case bool:
		kind = protocol.PropertyBool
		if v {
			word = 1
		}
		text = fmt.Sprint(v)
	case nil:
		word = sess.StoreString("")
	default:
		text = fmt.Sprint(v)
		word = sess.StoreString(text)
	}
	sess.Mutate(observer.Record{
		Type:         observer.Properties,
		Target:       n,
		PropertyName: name,
		Value:        text,
	}, uint16(protocol.OpProperties), n.id, sess.StoreString(name), uint16(kind), word)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.name, n.id)
}

func idOf(n *Node) uint16 {
	if n == nil {
		return 0
	}
	return n.id
}

func asNode(n *Node) intern.Node {
	if n == nil {
		return nil
	}
	return n
}

func nodes(list []*Node) []intern.Node {
	if len(list) == 0 {
		return nil
	}
	out := make([]intern.Node, len(list))
	for i, n := range list {
		out[i] = n
	}
	return out
}
