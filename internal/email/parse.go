package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// Message is the decoded form of one RFC 822 payload. It is built once by
// Parse and never mutated afterwards.
type Message struct {
	MessageID   string
	FromName    string
	FromAddress string
	To          []string
	Cc          []string
	Subject     string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []string
}

// ErrMalformed is returned when the payload cannot be read as a message.
var ErrMalformed = errors.New("malformed message")

// Parse decodes raw into a Message. Unknown charsets are tolerated: the
// affected part is kept as raw bytes.
func Parse(raw []byte) (*Message, error) {
	r, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.Close()

	header := r.Header
	msg := &Message{
		MessageID: normalizeMessageID(firstHeaderValue(header, "Message-ID", "Message-Id")),
		To:        parseEmailAddresses(header.Get("To")),
		Cc:        parseEmailAddresses(header.Get("Cc")),
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(header.Get("Subject"))
	}
	if date, err := header.Date(); err == nil {
		msg.Date = date
	}
	msg.FromName, msg.FromAddress = parseFrom(header)

	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !(message.IsUnknownCharset(err) && part != nil) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(contentType, "text/plain") && msg.Text == "":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					return nil, fmt.Errorf("%w: read text part: %v", ErrMalformed, err)
				}
				msg.Text = string(body)
			case strings.HasPrefix(contentType, "text/html") && msg.HTML == "":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					return nil, fmt.Errorf("%w: read html part: %v", ErrMalformed, err)
				}
				msg.HTML = string(body)
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				filename = "unnamed"
			}
			msg.Attachments = append(msg.Attachments, filename)
		}
	}

	// Some senders label an HTML document as text/plain.
	if msg.Text != "" && looksLikeHTML(msg.Text) {
		if msg.HTML == "" {
			msg.HTML = msg.Text
		}
		msg.Text = ""
	}

	return msg, nil
}

// From renders the sender as "Name <address>", or the bare address.
func (m *Message) From() string {
	if m.FromName == "" {
		return m.FromAddress
	}
	if m.FromAddress == "" {
		return m.FromName
	}
	return (&mail.Address{Name: m.FromName, Address: m.FromAddress}).String()
}

// HasText reports whether the plain-text part carries visible content.
func (m *Message) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// HasHTML reports whether the HTML part renders to visible text.
func (m *Message) HasHTML() bool {
	return StripHTMLTags(m.HTML) != ""
}

func parseFrom(header gomail.Header) (string, string) {
	list, err := header.AddressList("From")
	if err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Name), strings.ToLower(list[0].Address)
	}
	raw := strings.TrimSpace(header.Get("From"))
	if raw == "" {
		return "", ""
	}
	if addrs := parseEmailAddressesFallback(raw); len(addrs) > 0 {
		return "", addrs[0]
	}
	return raw, ""
}

// normalizeMessageID strips angle brackets and surrounding whitespace and
// lower-cases the domain part, which is case-insensitive.
func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	id = strings.TrimSpace(id)
	if at := strings.LastIndexByte(id, '@'); at >= 0 {
		id = id[:at] + strings.ToLower(id[at:])
	}
	return id
}

func parseEmailAddresses(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return parseEmailAddressesFallback(header)
	}
	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.Address != "" {
			result = append(result, strings.ToLower(addr.Address))
		}
	}
	return result
}

func parseEmailAddressesFallback(header string) []string {
	parts := strings.Split(header, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if start := strings.LastIndex(p, "<"); start != -1 {
			if end := strings.LastIndex(p, ">"); end > start {
				email := strings.TrimSpace(p[start+1 : end])
				if email != "" {
					result = append(result, strings.ToLower(email))
				}
				continue
			}
		}
		if strings.Contains(p, "@") {
			result = append(result, strings.ToLower(p))
		}
	}
	return result
}

func looksLikeHTML(value string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return false
	}
	return strings.HasPrefix(trimmed, "<!doctype") ||
		strings.HasPrefix(trimmed, "<html") ||
		strings.HasPrefix(trimmed, "<head") ||
		strings.HasPrefix(trimmed, "<body") ||
		strings.HasPrefix(trimmed, "<meta") ||
		strings.Contains(trimmed, "<html")
}

// StripHTMLTags reduces markup to its visible text on one line. Entities
// are decoded by the parser; comments, attributes and the content of
// script and style elements never count as text.
func StripHTMLTags(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()

	var words []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Find("body").Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}

func firstHeaderValue(header gomail.Header, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}
