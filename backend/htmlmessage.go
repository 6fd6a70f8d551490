package backend

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// maxHTMLMessage caps the text taken from an HTML error page.
const maxHTMLMessage = 200

var htmlConverter = func() *md.Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return c
}()

// htmlMessage turns an HTML error page (a proxy page, or the framework's default
// "Cannot POST /api/..." page) into a one-line message.
func htmlMessage(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	// Framework error pages put the message in <pre>
	if pre := findElement(doc, "pre"); pre != nil {
		if text := collapse(textContent(pre)); text != "" {
			return truncate(text, maxHTMLMessage)
		}
	}

	removeElements(doc, "script", "style", "noscript", "head")
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return ""
	}
	text, err := htmlConverter.ConvertString(buf.String())
	if err != nil {
		return ""
	}
	return truncate(collapse(stripMarkdown(text)), maxHTMLMessage)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func removeElements(n *html.Node, tags ...string) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode {
			for _, t := range tags {
				if node.Data == t {
					toRemove = append(toRemove, node)
					return
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

// stripMarkdown drops heading and emphasis markers left by the converter.
func stripMarkdown(s string) string {
	return strings.NewReplacer("#", "", "**", "", "__", "", "`", "").Replace(s)
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
