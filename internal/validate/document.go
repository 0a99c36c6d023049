package validate

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Element is a parsed XML element with enough position information to point a
// finding at it.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Element
	Line     int
	Path     string
}

// Attr returns the value of the un-namespaced attribute name.
func (e *Element) Attr(name string) (string, bool) {
	for _, attr := range e.Attrs {
		if attr.Name.Space == "" && attr.Name.Local == name {
			return attr.Value, true
		}
	}
	return "", false
}

// Child returns the first child element called name, or nil.
func (e *Element) Child(name string) *Element {
	for _, child := range e.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// ChildText returns the trimmed text of the first child called name.
func (e *Element) ChildText(name string) string {
	if child := e.Child(name); child != nil {
		return strings.TrimSpace(child.Text)
	}
	return ""
}

// Walk visits e and all of its descendants depth first.
func (e *Element) Walk(fn func(*Element)) {
	fn(e)
	for _, child := range e.Children {
		child.Walk(fn)
	}
}

// ParseError is a malformed document. Line is zero when unknown.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads an XML document into an element tree.
func Parse(r io.Reader) (*Element, error) {
	decoder := xml.NewDecoder(r)

	var (
		root  *Element
		stack []*Element
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syntax *xml.SyntaxError
			if errors.As(err, &syntax) {
				return nil, &ParseError{Line: syntax.Line, Err: errors.New(syntax.Msg)}
			}
			return nil, &ParseError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := decoder.InputPos()
			el := &Element{Name: t.Name.Local, Attrs: t.Attr, Line: line}
			if len(stack) == 0 {
				if root != nil {
					return nil, &ParseError{Line: line, Err: errors.New("document has more than one root element")}
				}
				el.Path = el.Name
				root = el
			} else {
				parent := stack[len(stack)-1]
				el.Path = parent.Path + "/" + el.Name
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, &ParseError{Err: errors.New("document is empty")}
	}
	return root, nil
}
