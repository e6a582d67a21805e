// Package markup converts descriptions between the Markdown used locally and
// the HTML rich text stored by Azure DevOps. Conversion is best effort: only
// headings, emphasis, links, code, lists, paragraphs and line breaks are
// translated. Other elements are kept as literal tags around their content.
package markup

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// HTMLToMarkdown converts an HTML fragment to Markdown. Input without any
// markup is returned trimmed.
func HTMLToMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "<") {
		return s
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return s
	}

	c := &converter{}
	for _, n := range nodes {
		c.render(n)
	}
	return c.finish()
}

type list struct {
	ordered bool
	index   int
}

type converter struct {
	b     strings.Builder
	lists []list
}

func (c *converter) render(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		c.text(n)
	case html.ElementNode:
		c.element(n)
	case html.DocumentNode:
		c.children(n)
	}
}

func (c *converter) children(n *html.Node) {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.render(ch)
	}
}

func (c *converter) text(n *html.Node) {
	if strings.TrimSpace(n.Data) == "" {
		if n.Parent != nil && (n.Parent.DataAtom == atom.Ul || n.Parent.DataAtom == atom.Ol) {
			return
		}
		if c.atLineStart() || c.endsWithSpace() {
			return
		}
	}
	t := whitespaceRun.ReplaceAllString(n.Data, " ")
	if c.atLineStart() || c.endsWithSpace() {
		t = strings.TrimLeft(t, " ")
	}
	c.b.WriteString(t)
}

func (c *converter) element(n *html.Node) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level, _ := strconv.Atoi(n.Data[1:])
		c.blankLine()
		c.b.WriteString(strings.Repeat("#", level) + " ")
		c.children(n)
		c.blankLine()

	case atom.P, atom.Div:
		if len(c.lists) > 0 {
			c.children(n)
			return
		}
		c.blankLine()
		c.children(n)
		c.blankLine()

	case atom.Br:
		c.b.WriteString("\n")

	case atom.Strong, atom.B:
		c.wrap(n, "**")

	case atom.Em, atom.I:
		c.wrap(n, "*")

	case atom.Code:
		c.b.WriteString("`" + textContent(n) + "`")

	case atom.Pre:
		c.blankLine()
		c.b.WriteString("```\n")
		c.b.WriteString(strings.TrimRight(textContent(n), "\n"))
		c.b.WriteString("\n```")
		c.blankLine()

	case atom.A:
		href := attr(n, "href")
		if href == "" {
			c.children(n)
			return
		}
		c.b.WriteString("[")
		c.children(n)
		c.b.WriteString("](" + href + ")")

	case atom.Ul, atom.Ol:
		if len(c.lists) == 0 {
			c.blankLine()
		} else {
			c.newline()
		}
		c.lists = append(c.lists, list{ordered: n.DataAtom == atom.Ol})
		c.children(n)
		c.lists = c.lists[:len(c.lists)-1]
		if len(c.lists) == 0 {
			c.blankLine()
		} else {
			c.newline()
		}

	case atom.Li:
		c.listItem(n)

	default:
		c.literal(n)
	}
}

func (c *converter) listItem(n *html.Node) {
	if len(c.lists) == 0 {
		c.newline()
		c.b.WriteString("- ")
		c.children(n)
		c.newline()
		return
	}
	top := &c.lists[len(c.lists)-1]
	top.index++

	c.newline()
	c.b.WriteString(strings.Repeat("  ", len(c.lists)-1))
	if top.ordered {
		c.b.WriteString(strconv.Itoa(top.index) + ". ")
	} else {
		c.b.WriteString("- ")
	}
	c.children(n)
}

func (c *converter) wrap(n *html.Node, marker string) {
	c.b.WriteString(marker)
	c.children(n)
	c.b.WriteString(marker)
}

// literal keeps an unsupported element as its source tags.
func (c *converter) literal(n *html.Node) {
	c.b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		c.b.WriteString(" " + a.Key + `="` + html.EscapeString(a.Val) + `"`)
	}
	c.b.WriteString(">")
	if isVoid(n) {
		return
	}
	c.children(n)
	c.b.WriteString("</" + n.Data + ">")
}

func (c *converter) atLineStart() bool {
	s := c.b.String()
	return s == "" || strings.HasSuffix(s, "\n")
}

func (c *converter) endsWithSpace() bool {
	return strings.HasSuffix(c.b.String(), " ")
}

func (c *converter) newline() {
	if !c.atLineStart() {
		c.b.WriteString("\n")
	}
}

func (c *converter) blankLine() {
	s := c.b.String()
	switch {
	case s == "" || strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		c.b.WriteString("\n")
	default:
		c.b.WriteString("\n\n")
	}
}

func (c *converter) finish() string {
	lines := strings.Split(c.b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isVoid(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Img, atom.Hr, atom.Input, atom.Meta, atom.Link, atom.Col, atom.Wbr, atom.Source, atom.Area, atom.Embed:
		return true
	}
	return false
}
