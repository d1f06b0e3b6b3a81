package extractor

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const UntitledDocument = "Untitled Document"

type Result struct {
	URL       string
	Title     string
	Text      string
	WordCount int
}

var removedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Tr: true, atom.Header: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true, atom.Details: true, atom.Summary: true,
}

// markers in class or id attributes that denote sidebars and tables of contents.
var chromeMarkers = []string{"sidebar", "side-bar", "toc", "table-of-contents", "breadcrumb", "navbar", "site-nav", "cookie"}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\r\x{00a0}]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Extract pulls the title and readable main-content text out of rawHTML.
// Unparseable input yields an empty text, never an error.
func Extract(rawHTML, pageURL string) Result {
	res := Result{URL: pageURL, Title: UntitledDocument}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return res
	}
	res.Title = resolveTitle(doc)

	prune(doc)
	scope := findFirst(doc, atom.Article)
	if scope == nil {
		scope = findFirst(doc, atom.Main)
	}
	if scope == nil {
		scope = findFirst(doc, atom.Body)
	}
	if scope == nil {
		scope = doc
	}
	var sb strings.Builder
	render(scope, &sb, false)
	res.Text = normalize(sb.String())
	res.WordCount = len(strings.Fields(res.Text))
	return res
}

func resolveTitle(doc *html.Node) string {
	if h1 := findFirst(doc, atom.H1); h1 != nil {
		if t := collapse(textOf(h1)); t != "" {
			return t
		}
	}
	var ogTitle, docTitle string
	walk(doc, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Meta:
			if ogTitle == "" && strings.EqualFold(attr(n, "property"), "og:title") {
				ogTitle = collapse(attr(n, "content"))
			}
		case atom.Title:
			if docTitle == "" {
				docTitle = collapse(textOf(n))
			}
		}
		return true
	})
	if ogTitle != "" {
		return ogTitle
	}
	if docTitle != "" {
		return docTitle
	}
	return UntitledDocument
}

// prune detaches page chrome in place.
func prune(doc *html.Node) {
	var doomed []*html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.CommentNode {
			doomed = append(doomed, n)
			return false
		}
		if n.Type != html.ElementNode {
			return true
		}
		if removedTags[n.DataAtom] || isChrome(n) {
			doomed = append(doomed, n)
			return false
		}
		return true
	})
	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// scopeTags are the content containers; they are never treated as chrome
// whatever their class or id says.
var scopeTags = map[atom.Atom]bool{atom.Html: true, atom.Body: true, atom.Main: true, atom.Article: true}

// isChrome matches role landmarks and class/id tokens that equal a marker or
// start with one ("sidebar", "toc-nav"), but not modifiers like "has-sidebar".
func isChrome(n *html.Node) bool {
	if scopeTags[n.DataAtom] {
		return false
	}
	switch strings.ToLower(attr(n, "role")) {
	case "navigation", "complementary", "contentinfo":
		return true
	}
	for _, key := range []string{"class", "id"} {
		v := strings.ToLower(attr(n, key))
		if v == "" {
			continue
		}
		for _, token := range strings.FieldsFunc(v, func(r rune) bool { return r == ' ' || r == '_' }) {
			for _, marker := range chromeMarkers {
				if token == marker || strings.HasPrefix(token, marker+"-") {
					return true
				}
			}
		}
	}
	return false
}

// render writes the text under n. Line breaks inside text nodes are only
// kept within preformatted blocks.
func render(n *html.Node, sb *strings.Builder, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			sb.WriteString(n.Data)
		} else {
			sb.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		}
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			sb.WriteString("\n")
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.DataAtom]
	if block {
		sb.WriteString("\n\n")
	}
	pre = pre || n.DataAtom == atom.Pre
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(c, sb, pre)
	}
	if block {
		sb.WriteString("\n\n")
	}
}

// normalize collapses runs of inline whitespace, trims every line and keeps
// at most one blank line between paragraphs.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteString(" ")
		}
		return true
	})
	return sb.String()
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants depth first; fn returning false skips
// the children of the visited node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
