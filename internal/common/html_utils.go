package common

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// blockTags end a line of text when flattening rich-text descriptions.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "blockquote": true, "pre": true,
}

// ExtractText gets all text content from an HTML node and its children.
// Block-level elements are separated by a single space.
func ExtractText(node *html.Node) string {
	var text strings.Builder

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			text.WriteString(" ")
		}
	}

	traverse(node)
	return strings.Join(strings.Fields(text.String()), " ")
}

// FindNodesByTag finds all nodes with a specific tag name
func FindNodesByTag(root *html.Node, tagName string) []*html.Node {
	var nodes []*html.Node

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tagName {
			nodes = append(nodes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(root)
	return nodes
}

// GetAttribute gets the value of an attribute from a node
func GetAttribute(node *html.Node, attrKey string) string {
	if node.Type != html.ElementNode {
		return ""
	}
	for _, attr := range node.Attr {
		if attr.Key == attrKey {
			return attr.Val
		}
	}
	return ""
}

// PlainText flattens a rich-text description into whitespace-normalized text.
// Input that fails to parse is returned trimmed.
func PlainText(description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(description))
	if err != nil {
		return strings.TrimSpace(description)
	}
	return ExtractText(doc)
}

// Excerpt returns at most maxRunes runes of the description's plain text,
// with an ellipsis when truncated.
func Excerpt(description string, maxRunes int) string {
	text := PlainText(description)
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// DescriptionLinks lists the href of every anchor in a rich-text description,
// in document order.
func DescriptionLinks(description string) []string {
	doc, err := html.Parse(strings.NewReader(description))
	if err != nil {
		return nil
	}
	var links []string
	for _, a := range FindNodesByTag(doc, "a") {
		if href := GetAttribute(a, "href"); href != "" {
			links = append(links, href)
		}
	}
	return links
}
