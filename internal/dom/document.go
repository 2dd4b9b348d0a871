package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/workerdom/internal/markup"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
	"github.com/GriffinCanCode/workerdom/internal/session"
)

var (
	ErrNotFound      = errors.New("node is not a child of this node")
	ErrHierarchy     = errors.New("hierarchy request error")
	ErrWrongDocument = errors.New("node belongs to another document")
	ErrNotElement    = errors.New("not an element")
	ErrInvalidName   = errors.New("invalid name")
	ErrHydrated      = errors.New("document already has content")
)

// Document is the worker's document. It is confined to the session's
// scheduler.
type Document struct {
	*Node
	sess *session.Session
	log  *zap.Logger

	local      *Storage
	perSession *Storage

	listenerSeq uint16
}

// New creates an empty document bound to sess. The document takes id 1
// when the session is still initializing.
func New(sess *session.Session) *Document {
	d := &Document{
		sess: sess,
		log:  sess.Logger().Named("dom"),
	}
	d.Node = &Node{doc: d, nodeType: protocol.DocumentNode, name: "#document"}
	if id, err := sess.StoreNodeOverride(d.Node, markup.DocumentID); err == nil {
		d.Node.id = id
	} else {
		d.Node.id = sess.StoreNode(d.Node)
	}
	d.local = newStorage(d, protocol.LocalStorage)
	d.perSession = newStorage(d, protocol.SessionStorage)

	if sess.CanReceive() {
		if _, err := sess.AddMessageListener(protocol.MsgEvent, d.handleEvent); err != nil {
			d.log.Warn("Event listener unavailable", zap.Error(err))
		}
	}
	return d
}

// Session returns the session the document transfers through.
func (d *Document) Session() *session.Session { return d.sess }

// CreateElement creates a detached HTML element.
func (d *Document) CreateElement(tag string) *Node {
	return d.newNode(protocol.ElementNode, strings.ToLower(tag), "", "")
}

// CreateElementNS creates a detached element in namespace ns.
func (d *Document) CreateElementNS(ns, tag string) *Node {
	return d.newNode(protocol.ElementNode, tag, ns, "")
}

// CreateTextNode creates a detached text node.
func (d *Document) CreateTextNode(data string) *Node {
	return d.newNode(protocol.TextNode, "#text", "", data)
}

// CreateComment creates a detached comment.
func (d *Document) CreateComment(data string) *Node {
	return d.newNode(protocol.CommentNode, "#comment", "", data)
}

func (d *Document) newNode(t protocol.NodeType, name, ns, data string) *Node {
	n := &Node{doc: d, nodeType: t, name: name, namespace: ns, data: data}
	n.id = d.sess.StoreNode(n)
	return n
}

// NodeByID returns the node with the given id, or nil.
func (d *Document) NodeByID(id uint16) *Node {
	n, _ := d.sess.GetNode(id).(*Node)
	return n
}

// DocumentElement returns the root element, or nil.
func (d *Document) DocumentElement() *Node {
	for _, c := range d.children {
		if c.nodeType == protocol.ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the head element, or nil.
func (d *Document) Head() *Node { return d.childOfRoot("head") }

// Body returns the body element, or nil.
func (d *Document) Body() *Node { return d.childOfRoot("body") }

func (d *Document) childOfRoot(tag string) *Node {
	root := d.DocumentElement()
	if root == nil {
		return nil
	}
	for _, c := range root.children {
		if c.nodeType == protocol.ElementNode && c.name == tag {
			return c
		}
	}
	return nil
}

// LocalStorage returns the persistent storage area.
func (d *Document) LocalStorage() *Storage { return d.local }

// SessionStorage returns the per-session storage area.
func (d *Document) SessionStorage() *Storage { return d.perSession }

// HydrateHTML builds the initial tree from server-rendered markup, giving
// each node its pre-order id so the main context's copy of the same markup
// lines up. It must run before Observe, on an empty document.
func (d *Document) HydrateHTML(r io.Reader) error {
	if len(d.children) > 0 {
		return ErrHydrated
	}
	if d.sess.Phase() != protocol.Initializing {
		return fmt.Errorf("hydrate: session is %s", d.sess.Phase())
	}
	doc, err := markup.Parse(r)
	if err != nil {
		return err
	}

	built := map[uint16]*Node{markup.DocumentID: d.Node}
	err = markup.Walk(doc, func(hn *html.Node, id, parent uint16) error {
		if hn.Type == html.DocumentNode {
			return nil
		}
		n := &Node{doc: d, nodeType: markup.NodeType(hn)}
		switch hn.Type {
		case html.ElementNode:
			n.name = hn.Data
			n.namespace = markup.Namespace(hn)
			for _, a := range hn.Attr {
				n.attrs = append(n.attrs, Attr{Namespace: markup.NamespaceURI(a.Namespace), Name: a.Key, Value: a.Val})
			}
		case html.TextNode:
			n.name, n.data = "#text", hn.Data
		case html.CommentNode:
			n.name, n.data = "#comment", hn.Data
		}
		nid, serr := d.sess.StoreNodeOverride(n, id)
		if serr != nil {
			return fmt.Errorf("hydrate node %d: %w", id, serr)
		}
		n.id = nid
		p := built[parent]
		p.insertAt(len(p.children), n)
		built[id] = n
		return nil
	})
	if err != nil {
		return err
	}
	d.log.Debug("Hydrated document", zap.Int("nodes", len(built)))
	return nil
}

// Snapshot returns the records describing the current tree beyond its
// creation records: attributes, children and event subscriptions, parents
// before children.
func (d *Document) Snapshot() []uint16 {
	var out []uint16
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, a := range n.attrs {
			ns := protocol.NoString
			if a.Namespace != "" {
				ns = d.sess.StoreString(a.Namespace)
			}
			out = append(out, uint16(protocol.OpAttributes), n.id, d.sess.StoreString(a.Name), ns, d.sess.StoreString(a.Value))
		}
		if len(n.children) > 0 {
			out = append(out, uint16(protocol.OpChildList), n.id, 0, 0, uint16(len(n.children)), 0)
			for _, c := range n.children {
				out = append(out, c.id)
			}
		}
		out = append(out, n.subscriptions()...)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(d.Node)
	return out
}

// Observe starts transfer: the snapshot goes out in the hydrate message
// and every later mutation follows it.
func (d *Document) Observe() error {
	return d.sess.Observe(d.Snapshot())
}

// QuerySelector returns the first match of a simple selector: "#id",
// ".class" or a tag name.
func (d *Document) QuerySelector(selector string) *Node {
	if found := d.QuerySelectorAll(selector); len(found) > 0 {
		return found[0]
	}
	return nil
}

// QuerySelectorAll returns every match of a simple selector in document
// order.
func (d *Document) QuerySelectorAll(selector string) []*Node {
	selector = strings.TrimSpace(selector)
	var match func(*Node) bool
	switch {
	case strings.HasPrefix(selector, "#"):
		id := selector[1:]
		match = func(n *Node) bool {
			v, ok := n.GetAttribute("id")
			return ok && v == id
		}
	case strings.HasPrefix(selector, "."):
		class := selector[1:]
		match = func(n *Node) bool {
			v, _ := n.GetAttribute("class")
			for _, c := range strings.Fields(v) {
				if c == class {
					return true
				}
			}
			return false
		}
	default:
		match = func(n *Node) bool { return strings.EqualFold(n.name, selector) }
	}

	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.nodeType == protocol.ElementNode && match(n) {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(d.Node)
	return out
}

// GetElementByID returns the element whose id attribute is id.
func (d *Document) GetElementByID(id string) *Node {
	return d.QuerySelector("#" + id)
}
