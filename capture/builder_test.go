package capture

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/ewjdev/anyclick/payload"
)

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// findFirst returns the first element matching pred in document order.
func findFirst(doc *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && pred(n) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return getAttr(n, "id") == id }
}

const page = `<!DOCTYPE html>
<html><head><title>t</title></head><body>
<div id="app">
  <div class="toolbar"><button>One</button><button>Two</button></div>
  <div class="card">
    <h2>Title</h2>
    <p>Some description text</p>
    <button class="btn primary" data-testid="save" data-secret="x" onclick="evil()">Save</button>
  </div>
</div>
<div id="app">duplicate id on purpose</div>
</body></html>`

func TestSelectorPrefersUniqueID(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="only"><span>x</span></div></body></html>`)
	div := findFirst(doc, byID("only"))

	sel := Selector(doc, div)
	if sel != "#only" {
		t.Fatalf("got %q, want #only", sel)
	}
	if Query(doc, sel) != div {
		t.Fatal("selector did not resolve back to the element")
	}
}

func TestSelectorDuplicateIDFallsBackToPath(t *testing.T) {
	doc := parseDoc(t, page)
	first := findFirst(doc, byID("app"))

	sel := Selector(doc, first)
	if sel == "#app" {
		t.Fatal("duplicate id must not produce an id selector")
	}
	if Query(doc, sel) != first {
		t.Fatalf("selector %q did not resolve back to the element", sel)
	}
}

func TestSelectorRoundTrip(t *testing.T) {
	doc := parseDoc(t, page)

	var targets []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			targets = append(targets, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, target := range targets {
		sel := Selector(doc, target)
		if sel == "" {
			t.Fatalf("empty selector for <%s>", target.Data)
		}
		if got := Query(doc, sel); got != target {
			t.Fatalf("selector %q resolved to a different node", sel)
		}
	}
}

func TestSelectorAnchorsAtUniqueAncestorID(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="root"><ul><li>a</li><li>b</li></ul></div></body></html>`)
	second := QueryAll(doc, "li")[1]

	sel := Selector(doc, second)
	if !strings.HasPrefix(sel, "#root") {
		t.Fatalf("selector %q should be anchored at #root", sel)
	}
	if Query(doc, sel) != second {
		t.Fatalf("selector %q did not resolve back", sel)
	}
}

func TestBuildSnapshot(t *testing.T) {
	doc := parseDoc(t, page)
	btn := findFirst(doc, func(n *html.Node) bool { return hasClass(n, "btn") })

	b := NewBuilder(Limits{
		StripAttrs: []string{"data-secret"},
		DataAttrs:  []string{"data-testid"},
	})
	ec := b.Build(doc, btn, payload.Rect{X: 1, Y: 2, Width: 3, Height: 4})

	if ec.Tag != "button" {
		t.Fatalf("tag = %q", ec.Tag)
	}
	if ec.Text != "Save" {
		t.Fatalf("text = %q", ec.Text)
	}
	if got := ec.DataAttrs["data-testid"]; got != "save" {
		t.Fatalf("data-testid = %q", got)
	}
	if _, ok := ec.DataAttrs["data-secret"]; ok {
		t.Fatal("data-secret must not be whitelisted")
	}
	if strings.Contains(ec.HTML, "data-secret") {
		t.Fatalf("stripped attribute leaked into HTML: %q", ec.HTML)
	}
	if strings.Contains(ec.HTML, "onclick") || strings.Contains(ec.HTML, "evil") {
		t.Fatalf("event handler leaked into HTML: %q", ec.HTML)
	}
	if ec.Rect.Width != 3 {
		t.Fatalf("rect not carried: %+v", ec.Rect)
	}
	if Query(doc, ec.Selector) != btn {
		t.Fatalf("snapshot selector %q does not resolve to the element", ec.Selector)
	}
}

func TestBuildTruncatesWithMarker(t *testing.T) {
	long := strings.Repeat("word ", 200)
	doc := parseDoc(t, "<html><body><p>"+long+"</p></body></html>")
	p := findFirst(doc, byTag("p"))

	b := NewBuilder(Limits{MaxTextChars: 50, MaxHTMLChars: 60})
	ec := b.Build(doc, p, payload.Rect{})

	if !strings.HasSuffix(ec.Text, TruncationMarker) {
		t.Fatalf("text missing truncation marker: %q", ec.Text)
	}
	if len([]rune(ec.Text)) != 50+len([]rune(TruncationMarker)) {
		t.Fatalf("text length = %d", len([]rune(ec.Text)))
	}
	if !strings.HasSuffix(ec.HTML, TruncationMarker) {
		t.Fatalf("html missing truncation marker: %q", ec.HTML)
	}
}

func TestBuildAncestorChain(t *testing.T) {
	doc := parseDoc(t, `<html><body><div id="l1"><div id="l2"><div id="l3"><div id="l4"><span>x</span></div></div></div></div></body></html>`)
	span := findFirst(doc, byTag("span"))

	b := NewBuilder(Limits{MaxAncestors: 3})
	ec := b.Build(doc, span, payload.Rect{})

	if len(ec.Ancestors) != 3 {
		t.Fatalf("ancestors = %d, want 3", len(ec.Ancestors))
	}
	// Root→target order: the outermost collected ancestor comes first.
	if ec.Ancestors[0].ID != "l2" || ec.Ancestors[2].ID != "l4" {
		t.Fatalf("unexpected chain order: %+v", ec.Ancestors)
	}
}

func TestBuildNeverFailsOnExoticNodes(t *testing.T) {
	b := NewBuilder(Limits{})

	if ec := b.Build(nil, nil, payload.Rect{}); ec.Selector != "" {
		t.Fatal("nil target must degrade to zero value")
	}

	doc := parseDoc(t, "<html><body>text</body></html>")
	text := doc.FirstChild.LastChild.FirstChild // the text node
	if ec := b.Build(doc, text, payload.Rect{}); ec.Tag != "" {
		t.Fatal("text-node target must degrade to zero value")
	}

	// Detached element not part of any document.
	orphan := &html.Node{Type: html.ElementNode, Data: "div"}
	ec := b.Build(doc, orphan, payload.Rect{})
	if ec.Tag != "div" {
		t.Fatalf("orphan should still produce partial data, got %+v", ec)
	}
}

func TestInnerTextSkipsScript(t *testing.T) {
	doc := parseDoc(t, `<html><body><div>hello <script>var x=1;</script>world</div></body></html>`)
	div := findFirst(doc, byTag("div"))
	if got := InnerText(div); got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildMarkdownRendition(t *testing.T) {
	doc := parseDoc(t, `<html><body><div><h2>Head</h2><p>body text</p></div></body></html>`)
	div := findFirst(doc, byTag("div"))

	ec := NewBuilder(Limits{}).Build(doc, div, payload.Rect{})
	if !strings.Contains(ec.Markdown, "Head") || !strings.Contains(ec.Markdown, "body text") {
		t.Fatalf("markdown rendition incomplete: %q", ec.Markdown)
	}
}
