package capture

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Container-like class name fragments checked against ancestor class lists.
var containerClassHints = []string{"card", "panel", "modal", "container", "widget"}

// semanticContainerTags are tags that are container-like on their own.
var semanticContainerTags = map[atom.Atom]bool{
	atom.Article: true,
	atom.Section: true,
	atom.Aside:   true,
	atom.Main:    true,
	atom.Form:    true,
	atom.Dialog:  true,
	atom.Nav:     true,
	atom.Table:   true,
}

// ResolveContainer walks the ancestors of target looking for the nearest
// semantically-meaningful container: a container-like class, role=dialog, a
// semantic tag, or the first ancestor with at least 3 visually-meaningful
// children. If no strong match exists it falls back to the first ancestor
// with at least 2 such children, and finally to nil.
func ResolveContainer(target *html.Node) *html.Node {
	if target == nil {
		return nil
	}

	var weak *html.Node
	for p := elementParent(target); p != nil; p = elementParent(p) {
		if p.DataAtom == atom.Body || p.DataAtom == atom.Html {
			break
		}
		if isStrongContainer(p) {
			return p
		}
		if meaningfulChildren(p) >= 3 {
			return p
		}
		if weak == nil && meaningfulChildren(p) >= 2 {
			weak = p
		}
	}
	return weak
}

func isStrongContainer(n *html.Node) bool {
	if semanticContainerTags[n.DataAtom] {
		return true
	}
	if getAttr(n, "role") == "dialog" {
		return true
	}
	classes := strings.ToLower(getAttr(n, "class"))
	for _, hint := range containerClassHints {
		if strings.Contains(classes, hint) {
			return true
		}
	}
	return false
}

// meaningfulChildren counts direct element children that would plausibly
// render: not script/style, and either non-empty text or element content.
func meaningfulChildren(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || isSkippedTag(c.DataAtom) {
			continue
		}
		if c.DataAtom == atom.Br {
			continue
		}
		if c.FirstChild != nil || isSelfRenderingTag(c.DataAtom) {
			count++
		}
	}
	return count
}

// isSelfRenderingTag reports tags that render without children.
func isSelfRenderingTag(a atom.Atom) bool {
	switch a {
	case atom.Img, atom.Input, atom.Button, atom.Select, atom.Textarea, atom.Video, atom.Canvas, atom.Svg, atom.Hr:
		return true
	}
	return false
}
