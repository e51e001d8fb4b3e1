// Package capture builds structured element snapshots from parsed HTML.
//
// The Builder is pure and synchronous: given a document and a target node it
// computes a stable selector, truncated text/HTML, a capped ancestor chain
// and whitelisted data attributes. It never fails for well-formed nodes —
// exotic structure degrades to partial data.
package capture

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/ewjdev/anyclick/payload"
)

// TruncationMarker is appended wherever text or HTML was cut to a limit.
const TruncationMarker = "…truncated"

// Limits bounds the unbounded parts of a DOM snapshot.
type Limits struct {
	// MaxTextChars caps the captured inner text. Default: 2000.
	MaxTextChars int
	// MaxHTMLChars caps the captured outer HTML. Default: 4000.
	MaxHTMLChars int
	// MaxAncestors caps the ancestor chain length. Default: 5.
	MaxAncestors int
	// StripAttrs are attribute names removed from the serialized HTML for
	// privacy (e.g. "value", "data-user"). Inline event handlers and
	// script/style content are always removed.
	StripAttrs []string
	// DataAttrs whitelists data-* attribute names copied into the snapshot.
	// Empty means none.
	DataAttrs []string
}

func (l *Limits) defaults() {
	if l.MaxTextChars <= 0 {
		l.MaxTextChars = 2000
	}
	if l.MaxHTMLChars <= 0 {
		l.MaxHTMLChars = 4000
	}
	if l.MaxAncestors <= 0 {
		l.MaxAncestors = 5
	}
}

// Builder produces ElementContext snapshots.
type Builder struct {
	limits   Limits
	strip    map[string]bool
	dataKeys map[string]bool
	policy   *bluemonday.Policy
}

// NewBuilder creates a Builder with the given limits.
func NewBuilder(limits Limits) *Builder {
	limits.defaults()

	strip := make(map[string]bool, len(limits.StripAttrs))
	for _, a := range limits.StripAttrs {
		strip[strings.ToLower(a)] = true
	}
	dataKeys := make(map[string]bool, len(limits.DataAttrs))
	for _, a := range limits.DataAttrs {
		dataKeys[strings.ToLower(a)] = true
	}

	// Sanitization policy for the serialized HTML: keep layout-relevant
	// markup and common attributes, drop scripts, styles and handlers.
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("button", "input", "select", "option", "textarea", "label", "form", "dialog", "nav", "main", "svg", "path")
	policy.AllowAttrs("class", "id", "role", "type", "name", "placeholder", "title", "alt", "aria-label").Globally()
	policy.AllowDataAttributes()

	return &Builder{limits: limits, strip: strip, dataKeys: dataKeys, policy: policy}
}

// Build snapshots target within doc. rect is the element's bounding box as
// measured by the host (zero when unknown).
func (b *Builder) Build(doc, target *html.Node, rect payload.Rect) payload.ElementContext {
	if target == nil || target.Type != html.ElementNode {
		return payload.ElementContext{}
	}

	ec := payload.ElementContext{
		Selector: Selector(doc, target),
		Tag:      strings.ToLower(target.Data),
		ID:       getAttr(target, "id"),
		Classes:  classList(target),
		Rect:     rect,
	}

	ec.Text = truncate(InnerText(target), b.limits.MaxTextChars)
	ec.HTML = truncate(b.outerHTML(target), b.limits.MaxHTMLChars)
	ec.DataAttrs = b.dataAttrs(target)
	ec.Ancestors = b.ancestors(doc, target)

	if md, err := htmltomarkdown.ConvertString(ec.HTML); err == nil {
		ec.Markdown = strings.TrimSpace(md)
	}

	return ec
}

// InnerText collects the visible text of a subtree, skipping script/style
// content, with single spaces between text runs.
func InnerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isSkippedTag(n.DataAtom) {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return sb.String()
}

// outerHTML renders the target with stripped attributes, then sanitizes the
// result. Render errors degrade to an empty string, never a failure.
func (b *Builder) outerHTML(target *html.Node) string {
	clone := cloneSubtree(target, b.strip)
	var sb strings.Builder
	if err := html.Render(&sb, clone); err != nil {
		return ""
	}
	return strings.TrimSpace(b.policy.Sanitize(sb.String()))
}

// cloneSubtree deep-copies a node so attribute stripping never touches the
// caller's tree. Attributes in strip, and all on* handlers, are dropped.
func cloneSubtree(n *html.Node, strip map[string]bool) *html.Node {
	clone := &html.Node{
		Type:     n.Type,
		DataAtom: n.DataAtom,
		Data:     n.Data,
	}
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if strip[key] || strings.HasPrefix(key, "on") {
			continue
		}
		clone.Attr = append(clone.Attr, a)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone.AppendChild(cloneSubtree(c, strip))
	}
	return clone
}

func (b *Builder) dataAttrs(n *html.Node) map[string]string {
	if len(b.dataKeys) == 0 {
		return nil
	}
	var out map[string]string
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if !strings.HasPrefix(key, "data-") || !b.dataKeys[key] {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[key] = a.Val
	}
	return out
}

// ancestors walks up from target collecting up to MaxAncestors parents,
// returned in root→target order.
func (b *Builder) ancestors(doc, target *html.Node) []payload.AncestorInfo {
	var chain []payload.AncestorInfo
	for p := elementParent(target); p != nil && len(chain) < b.limits.MaxAncestors; p = elementParent(p) {
		chain = append(chain, payload.AncestorInfo{
			Tag:      strings.ToLower(p.Data),
			ID:       getAttr(p, "id"),
			Classes:  classList(p),
			Selector: Selector(doc, p),
		})
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func classList(n *html.Node) []string {
	fields := strings.Fields(getAttr(n, "class"))
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// truncate cuts s to max runes, appending the truncation marker when it cut.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}
