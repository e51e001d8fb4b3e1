package capture

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Selector computes a CSS selector for target that is unique within doc at
// the time of the call. An element with a document-unique id gets "#id";
// everything else gets an nth-of-type path walked up to the root, e.g.
// "html > body > div:nth-of-type(2) > button:nth-of-type(1)".
func Selector(doc, target *html.Node) string {
	if target == nil || target.Type != html.ElementNode {
		return ""
	}

	if id := getAttr(target, "id"); id != "" && countByID(doc, id) == 1 {
		return "#" + id
	}

	var parts []string
	for n := target; n != nil && n.Type == html.ElementNode; n = elementParent(n) {
		if id := getAttr(n, "id"); id != "" && n != target && countByID(doc, id) == 1 {
			// Anchor the path at the nearest uniquely-identified ancestor.
			parts = append(parts, "#"+id)
			break
		}
		parts = append(parts, segmentFor(n))
	}

	// parts is target→root; reverse into document order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// segmentFor returns "tag:nth-of-type(k)" for one path step. The root html
// element needs no positional qualifier.
func segmentFor(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	parent := elementParent(n)
	if parent == nil {
		return tag
	}

	pos := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, n.Data) {
			continue
		}
		pos++
		if c == n {
			break
		}
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", tag, pos)
}

// Query resolves a selector produced by Selector (or a simple tag/.class/#id
// selector) back to the first matching node. It supports the child
// combinator ">", descendant combination by space, ":nth-of-type(n)", ids,
// classes and attribute tests — the subset this package emits.
func Query(doc *html.Node, selector string) *html.Node {
	matches := QueryAll(doc, selector)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// QueryAll returns all nodes matching selector, in document order.
func QueryAll(doc *html.Node, selector string) []*html.Node {
	selector = strings.TrimSpace(selector)
	if selector == "" || doc == nil {
		return nil
	}

	steps, childOnly := tokenize(selector)
	if len(steps) == 0 {
		return nil
	}

	matches := matchStep(doc, steps[0], false, true)
	for i := 1; i < len(steps); i++ {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchStep(parent, steps[i], childOnly[i], false)...)
		}
		matches = next
	}
	return matches
}

// tokenize splits "a > b c" into steps plus a parallel child-combinator flag
// per step (childOnly[i] applies between step i-1 and i). Splitting is
// escape-aware: whitespace inside a backslash escape (including the space
// that terminates a hex escape like `\31 `) stays part of its step.
func tokenize(selector string) (steps []string, childOnly []bool) {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(selector); i++ {
		b := selector[i]
		switch {
		case b == '\\':
			j := i + 1
			for j < len(selector) && j-i <= 6 && isHexDigit(selector[j]) {
				j++
			}
			if j > i+1 && j < len(selector) && isCSSSpace(selector[j]) {
				j++ // the whitespace terminating a hex escape
			} else if j == i+1 && j < len(selector) {
				j++ // single escaped character
			}
			cur.WriteString(selector[i:j])
			i = j - 1
		case isCSSSpace(b):
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(b)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}

	child := false
	for _, f := range fields {
		if f == ">" {
			child = true
			continue
		}
		steps = append(steps, f)
		childOnly = append(childOnly, child)
		child = false
	}
	return steps, childOnly
}

func isCSSSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func isHexDigit(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'f' || b >= 'A' && b <= 'F'
}

// matchStep finds nodes under root matching a single compound selector.
// childOnly restricts the search to direct element children; includeRoot
// lets the root itself match (used for the first step).
func matchStep(root *html.Node, sel string, childOnly, includeRoot bool) []*html.Node {
	m := parseCompound(sel)
	var results []*html.Node

	if childOnly {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			if matchesCompound(c, m) {
				results = append(results, c)
			}
		}
		return results
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if (includeRoot || n != root) && matchesCompound(n, m) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

type compound struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
	nth     int // 0 = no :nth-of-type constraint
}

func parseCompound(sel string) compound {
	var c compound

	if idx := strings.Index(sel, ":nth-of-type("); idx >= 0 {
		rest := sel[idx+len(":nth-of-type("):]
		if end := strings.IndexByte(rest, ')'); end >= 0 {
			c.nth, _ = strconv.Atoi(rest[:end])
		}
		sel = sel[:idx]
	}

	if idx := indexUnescaped(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			c.attrKey = cssUnescape(attrPart[:eq])
			c.attrVal = cssUnescape(strings.Trim(attrPart[eq+1:], `"'`))
		} else {
			c.attrKey = cssUnescape(attrPart)
		}
	}

	if idx := indexUnescaped(sel, '#'); idx >= 0 {
		c.id = cssUnescape(sel[idx+1:])
		sel = sel[:idx]
	}

	if idx := indexUnescaped(sel, '.'); idx >= 0 {
		c.class = cssUnescape(sel[idx+1:])
		sel = sel[:idx]
	}

	c.tag = strings.ToLower(cssUnescape(sel))
	return c
}

// indexUnescaped is IndexByte skipping backslash-escaped occurrences.
func indexUnescaped(s string, target byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == target {
			return i
		}
	}
	return -1
}

// cssUnescape resolves CSS identifier escapes, both the single-character
// form (`\:` for ":") and the hex form with its optional terminating space
// (`\31 ` for "1"), as produced by CSS.escape in the page script.
func cssUnescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			break
		}
		if isHexDigit(s[i]) {
			j := i
			for j < len(s) && j-i < 6 && isHexDigit(s[j]) {
				j++
			}
			code, err := strconv.ParseUint(s[i:j], 16, 32)
			if err == nil {
				b.WriteRune(rune(code))
			}
			if j < len(s) && isCSSSpace(s[j]) {
				j++
			}
			i = j - 1
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func matchesCompound(n *html.Node, c compound) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && strings.ToLower(n.Data) != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if c.class != "" && !hasClass(n, c.class) {
		return false
	}
	if c.attrKey != "" {
		val, ok := lookupAttr(n, c.attrKey)
		if !ok {
			return false
		}
		if c.attrVal != "" && val != c.attrVal {
			return false
		}
	}
	if c.nth > 0 && typePosition(n) != c.nth {
		return false
	}
	return true
}

// typePosition is the 1-based position of n among same-tag element siblings.
func typePosition(n *html.Node) int {
	parent := elementParent(n)
	if parent == nil {
		return 1
	}
	pos := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, n.Data) {
			continue
		}
		pos++
		if c == n {
			return pos
		}
	}
	return 0
}

func elementParent(n *html.Node) *html.Node {
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return p
}

func countByID(doc *html.Node, id string) int {
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && getAttr(n, "id") == id {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if doc != nil {
		walk(doc)
	}
	return count
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func isSkippedTag(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}
