package mirror

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/workerdom/internal/markup"
	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

var ErrLoaded = errors.New("mirror already has nodes")

func (n *Node) detach() {
	p := n.Parent
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// insertBefore adds c before ref, or last when ref is nil.
func (n *Node) insertBefore(c, ref *Node) {
	at := len(n.Children)
	if ref != nil {
		for i, s := range n.Children {
			if s == ref {
				at = i
				break
			}
		}
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[at+1:], n.Children[at:])
	n.Children[at] = c
	c.Parent = n
}

func (n *Node) setAttr(ns, name, value string) {
	for i, a := range n.Attrs {
		if a.Namespace == ns && a.Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Namespace: ns, Name: name, Value: value})
}

func (n *Node) removeAttr(ns, name string) {
	for i, a := range n.Attrs {
		if a.Namespace == ns && a.Name == name {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

// LoadHTML builds the tree from the markup the worker hydrates from, so
// hydration adopts these nodes instead of recreating them.
func (m *Mirror) LoadHTML(r io.Reader) error {
	doc, err := markup.Parse(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.nodes) > 0 {
		return ErrLoaded
	}

	nodes := make(map[uint16]*Node)
	err = markup.Walk(doc, func(hn *html.Node, id, parent uint16) error {
		n := &Node{ID: id, Type: markup.NodeType(hn)}
		switch hn.Type {
		case html.DocumentNode:
			n.Name = "#document"
		case html.ElementNode:
			n.Name = hn.Data
			n.Namespace = markup.Namespace(hn)
			for _, a := range hn.Attr {
				n.Attrs = append(n.Attrs, Attr{Namespace: markup.NamespaceURI(a.Namespace), Name: a.Key, Value: a.Val})
			}
		case html.TextNode:
			n.Name, n.Data = "#text", hn.Data
		case html.CommentNode:
			n.Name, n.Data = "#comment", hn.Data
		}
		if p := nodes[parent]; p != nil {
			p.insertBefore(n, nil)
		}
		nodes[id] = n
		return nil
	})
	if err != nil {
		return err
	}
	m.nodes = nodes
	return nil
}

// HTML renders the mirrored document.
func (m *Mirror) HTML() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.nodes[markup.DocumentID]
	if doc == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, toHTML(doc)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InnerHTML renders the children of one node.
func (m *Mirror) InnerHTML(id uint16) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[id]
	if n == nil {
		return "", ErrUnknownNode
	}
	var buf bytes.Buffer
	for _, c := range n.Children {
		if err := html.Render(&buf, toHTML(c)); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func toHTML(n *Node) *html.Node {
	var out *html.Node
	switch n.Type {
	case protocol.DocumentNode, protocol.FragmentNode:
		out = &html.Node{Type: html.DocumentNode}
	case protocol.TextNode:
		out = &html.Node{Type: html.TextNode, Data: n.Data}
	case protocol.CommentNode:
		out = &html.Node{Type: html.CommentNode, Data: n.Data}
	default:
		out = &html.Node{
			Type:      html.ElementNode,
			Data:      n.Name,
			DataAtom:  atom.Lookup([]byte(n.Name)),
			Namespace: markup.ShortNamespace(n.Namespace),
		}
		for _, a := range n.Attrs {
			out.Attr = append(out.Attr, html.Attribute{Namespace: markup.ShortNamespace(a.Namespace), Key: a.Name, Val: a.Value})
		}
	}
	for _, c := range n.Children {
		out.AppendChild(toHTML(c))
	}
	return out
}
