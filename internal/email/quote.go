package email

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// QuoteResult is the outcome of StripQuotes. Original is always the input
// exactly as given.
type QuoteResult struct {
	Content   string `json:"content"`
	IsCleaned bool   `json:"isCleaned"`
	Original  string `json:"original"`
}

// replyHeaders is ordered by priority. Only the first pattern that matches
// anywhere in the text decides where it is cut, even when a later pattern
// would match earlier.
var replyHeaders = []*regexp.Regexp{
	regexp.MustCompile(`(?ms)^[ \t]*Il giorno\s.{1,300}?ha scritto\s?:`),
	regexp.MustCompile(`(?ms)^[ \t]*On\s.{1,300}?wrote\s?:`),
	regexp.MustCompile(`(?mi)^[ \t]*-{2,}\s*Original Message\s*-{2,}`),
	regexp.MustCompile(`(?m)^[ \t]*\*?Da:\*?[^\n]*\n(?:[^\n]*\n){0,3}?[ \t]*\*?Inviato:`),
	regexp.MustCompile(`(?m)^[ \t]*\*?From:\*?[^\n]*\n(?:[^\n]*\n){0,3}?[ \t]*\*?Sent:`),
	regexp.MustCompile(`(?ms)^[ \t]*Le\s.{1,300}?a écrit\s?:`),
	regexp.MustCompile(`(?ms)^[ \t]*Am\s.{1,300}?schrieb[^\n]{0,200}?:`),
	regexp.MustCompile(`(?ms)^[ \t]*El\s.{1,300}?escribió\s?:`),
	regexp.MustCompile(`(?mi)^[ \t]*-{2,}\s*Messaggio originale\s*-{2,}`),
}

// quoteSelectors match the containers mail clients wrap quoted history in.
var quoteSelectors = []string{
	".gmail_quote",
	"blockquote.gmail_quote",
	"blockquote[type=cite]",
	"#appendonsend",
	".moz-cite-prefix",
	"#divRplyFwdMsg",
	".yahoo_quoted",
	"#mail-editor-reference-message-container",
	".protonmail_quote",
	"div[data-marker=__QUOTED_TEXT__]",
}

// StripQuotes removes quoted reply history from body. It is pure and
// idempotent: the returned Content is a fixed point of the stripping step.
func StripQuotes(body string, isHTML bool) QuoteResult {
	result := QuoteResult{Original: body}
	if isHTML {
		result.Content, result.IsCleaned = stripHTMLQuotes(body)
	} else {
		result.Content, result.IsCleaned = stripTextQuotes(body)
	}
	return result
}

func stripTextQuotes(body string) (string, bool) {
	content := strings.TrimSpace(body)
	cleaned := false
	for {
		next, changed := stripTextOnce(content)
		if !changed {
			return content, cleaned
		}
		content, cleaned = next, true
	}
}

// stripTextOnce cuts at the first reply header in priority order, then
// drops every line that starts with a quote marker.
func stripTextOnce(text string) (string, bool) {
	changed := false
	if loc := firstReplyHeader(text); loc != nil {
		text = text[:loc[0]]
		changed = true
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			changed = true
			continue
		}
		kept = append(kept, line)
	}
	text = strings.TrimSpace(strings.Join(kept, "\n"))
	return text, changed
}

func stripHTMLQuotes(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return trimmed, false
	}

	cleaned := false
	for removeQuoteContainers(doc) || removeFromReplyHeader(doc) {
		cleaned = true
	}
	if !cleaned {
		return trimmed, false
	}

	out, err := doc.Find("body").First().Html()
	if err != nil {
		return trimmed, false
	}
	return strings.TrimSpace(out), true
}

func removeQuoteContainers(doc *goquery.Document) bool {
	removed := false
	for _, selector := range quoteSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		sel.Remove()
		removed = true
	}
	return removed
}

// removeFromReplyHeader cuts the document at the first reply header found
// in a text node. The header and everything after it in document order is
// removed; text before it in the same node or element survives. Elements
// left without visible content are removed on the way up to <body>.
func removeFromReplyHeader(doc *goquery.Document) bool {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return false
	}
	root := body.Get(0)

	var target *html.Node
	var cut int
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return false
		}
		if n.Type == html.TextNode {
			if loc := firstReplyHeader(n.Data); loc != nil {
				target, cut = n, loc[0]
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(root) {
		return false
	}

	node := target
	node.Data = node.Data[:cut]
	dropSelf := strings.TrimSpace(node.Data) == ""
	for node != root && node.Parent != nil {
		parent := node.Parent
		for n := node.NextSibling; n != nil; {
			next := n.NextSibling
			parent.RemoveChild(n)
			n = next
		}
		if dropSelf {
			parent.RemoveChild(node)
		}
		trimTrailingBreaks(parent)
		dropSelf = !hasVisibleContent(parent)
		node = parent
	}
	return true
}

// firstReplyHeader returns the location of the first reply header in
// priority order, or nil.
func firstReplyHeader(text string) []int {
	for _, pattern := range replyHeaders {
		if loc := pattern.FindStringIndex(text); loc != nil {
			return loc
		}
	}
	return nil
}

// trimTrailingBreaks drops <br> elements and blank text at the end of n.
func trimTrailingBreaks(n *html.Node) {
	for c := n.LastChild; c != nil; c = n.LastChild {
		switch {
		case c.Type == html.ElementNode && c.Data == "br":
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) == "":
		default:
			return
		}
		n.RemoveChild(c)
	}
}

func hasVisibleContent(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return strings.TrimSpace(n.Data) != ""
	case html.ElementNode:
		switch n.Data {
		case "img", "hr", "table", "video", "svg":
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasVisibleContent(c) {
			return true
		}
	}
	return false
}
