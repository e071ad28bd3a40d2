package scraper

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// collectMeta gathers <meta> name/property values keyed by their name.
func collectMeta(doc *html.Node) map[string]string {
	meta := make(map[string]string)
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return true
		}
		var key, content string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "name", "property":
				key = attr.Val
			case "content":
				content = attr.Val
			}
		}
		if key != "" && content != "" {
			if _, seen := meta[key]; !seen {
				meta[key] = content
			}
		}
		return true
	})
	return meta
}

// findContentRoot picks the best container for the article body:
// <article>, then <main>, then <body>.
func findContentRoot(doc *html.Node) *html.Node {
	for _, tag := range []string{"article", "main", "body"} {
		if n := find(doc, tag); n != nil {
			return n
		}
	}
	return doc
}

func find(n *html.Node, tag string) *html.Node {
	var found *html.Node
	walk(n, func(node *html.Node) bool {
		if node.Type == html.ElementNode && node.Data == tag {
			found = node
			return false
		}
		return true
	})
	return found
}

func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true, "header": true,
	"footer": true, "aside": true, "form": true, "noscript": true,
	"iframe": true, "svg": true, "button": true,
}

// renderMarkdown converts the content subtree to markdown. Images found in
// the body are collected onto the page for the thumbnail picker.
func renderMarkdown(b *strings.Builder, n *html.Node, baseURL string, page *Page) {
	if n == nil {
		return
	}
	if n.Type == html.ElementNode && skipTags[n.Data] {
		return
	}

	switch {
	case n.Type == html.TextNode:
		b.WriteString(collapseSpace(n.Data))
		return
	case n.Type == html.ElementNode:
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			b.WriteString("\n\n" + strings.Repeat("#", level) + " ")
			b.WriteString(textOf(n))
			b.WriteString("\n\n")
			return
		case "p":
			b.WriteString("\n\n")
			renderChildren(b, n, baseURL, page)
			b.WriteString("\n\n")
			return
		case "br":
			b.WriteString("\n")
			return
		case "strong", "b":
			b.WriteString("**")
			renderChildren(b, n, baseURL, page)
			b.WriteString("**")
			return
		case "em", "i":
			b.WriteString("*")
			renderChildren(b, n, baseURL, page)
			b.WriteString("*")
			return
		case "a":
			href := attr(n, "href")
			text := textOf(n)
			if text == "" {
				return
			}
			if href == "" || strings.HasPrefix(href, "#") {
				b.WriteString(text)
				return
			}
			b.WriteString("[" + text + "](" + resolveURL(baseURL, href) + ")")
			return
		case "img":
			if src := attr(n, "src"); src != "" && !strings.HasPrefix(src, "data:") {
				page.Images = append(page.Images, resolveURL(baseURL, src))
			}
			return
		case "ul", "ol":
			b.WriteString("\n\n")
			i := 0
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "li" {
					i++
					if n.Data == "ol" {
						b.WriteString(strconv.Itoa(i) + ". ")
					} else {
						b.WriteString("- ")
					}
					renderChildren(b, c, baseURL, page)
					b.WriteString("\n")
				}
			}
			b.WriteString("\n")
			return
		case "blockquote":
			text := textOf(n)
			b.WriteString("\n\n")
			for _, line := range strings.Split(text, "\n") {
				b.WriteString("> " + strings.TrimSpace(line) + "\n")
			}
			b.WriteString("\n")
			return
		}
	}

	renderChildren(b, n, baseURL, page)
}

func renderChildren(b *strings.Builder, n *html.Node, baseURL string, page *Page) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderMarkdown(b, c, baseURL, page)
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

var spaceRe = regexp.MustCompile(`[ \t\r\f]+`)

func collapseSpace(s string) string {
	return spaceRe.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
}

var blankRunsRe = regexp.MustCompile(`\n{3,}`)

func tidyMarkdown(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(strings.TrimLeft(line, " "), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankRunsRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
