package classify

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Labels used by the notification emails. Cells are matched by their text,
// never by position or class name, since the markup is minified differently
// from one email to the next.
const (
	LabelSourceID  = "Token Reminder"
	LabelChannel   = "Channel"
	LabelTime      = "Time"
	LabelSourceIP  = "Source IP"
	LabelUserAgent = "User Agent"
	LabelReferer   = "Referer"
	LabelLocation  = "Location"
)

// labeledCells parses an HTML document and maps the text of every <td> to the
// text of the next <td> in the same row. The first occurrence of a label wins.
func labeledCells(doc []byte) (map[string]string, bool) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, false
	}

	cells := make(map[string]string)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if isCell(n) {
			if next := nextCell(n); next != nil {
				label := cellText(n)
				if _, seen := cells[label]; label != "" && !seen {
					cells[label] = cellText(next)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return cells, len(cells) > 0
}

func isCell(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Td
}

func nextCell(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			if isCell(s) {
				return s
			}
			return nil
		}
	}
	return nil
}

// cellText returns the whitespace-normalized text content of n.
func cellText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
