// Package markup parses server-rendered HTML and numbers its nodes.
//
// Both contexts number the same markup the same way: the document is 1 and
// every element, text and comment node after it takes the next id in
// document pre-order. Doctypes are skipped. A worker hydrating from the
// markup and a main context loading it therefore agree on every id without
// exchanging a single record.
package markup

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// DocumentID is the id of the document node.
const DocumentID uint16 = 1

var ErrTooManyNodes = errors.New("markup has more nodes than ids")

// Namespace URIs for the short names the HTML parser reports.
const (
	HTMLNamespace   = "http://www.w3.org/1999/xhtml"
	SVGNamespace    = "http://www.w3.org/2000/svg"
	MathMLNamespace = "http://www.w3.org/1998/Math/MathML"
)

// Visit is called once per numbered node with its id and its parent's id.
// The document is visited with parent 0.
type Visit func(n *html.Node, id, parent uint16) error

// Parse parses a full HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Walk numbers doc in pre-order and calls fn for each node. Parents are
// always visited before their children.
func Walk(doc *html.Node, fn Visit) error {
	next := DocumentID
	var walk func(n *html.Node, parent uint16) error
	walk = func(n *html.Node, parent uint16) error {
		if !Numbered(n) {
			return nil
		}
		if int(next) >= protocol.MaxNodes {
			return ErrTooManyNodes
		}
		id := next
		next++
		if err := fn(n, id, parent); err != nil {
			return err
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c, id); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(doc, 0)
}

// Numbered reports whether n takes part in numbering.
func Numbered(n *html.Node) bool {
	switch n.Type {
	case html.DocumentNode, html.ElementNode, html.TextNode, html.CommentNode:
		return true
	}
	return false
}

// NodeType maps a parsed node to its DOM node type.
func NodeType(n *html.Node) protocol.NodeType {
	switch n.Type {
	case html.DocumentNode:
		return protocol.DocumentNode
	case html.TextNode:
		return protocol.TextNode
	case html.CommentNode:
		return protocol.CommentNode
	}
	return protocol.ElementNode
}

// Namespace returns the namespace URI of a parsed element. HTML elements
// have none.
func Namespace(n *html.Node) string {
	return NamespaceURI(n.Namespace)
}

// NamespaceURI expands the parser's short namespace names.
func NamespaceURI(short string) string {
	switch short {
	case "":
		return ""
	case "svg":
		return SVGNamespace
	case "math":
		return MathMLNamespace
	}
	return short
}

// ShortNamespace is the inverse of NamespaceURI, for rendering.
func ShortNamespace(uri string) string {
	switch uri {
	case SVGNamespace:
		return "svg"
	case MathMLNamespace:
		return "math"
	case HTMLNamespace:
		return ""
	}
	return uri
}
