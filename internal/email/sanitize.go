package email

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// htmlPolicy starts from the UGC policy and keeps the layout attributes mail
// clients rely on. Scripts, event handlers and forms are always dropped.
func htmlPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("div", "span", "font", "center")
		p.AllowAttrs("style", "class").Globally()
		p.AllowAttrs("align", "valign", "bgcolor", "color", "size", "face").Globally()
		p.AllowAttrs("colspan", "rowspan", "border", "cellpadding", "cellspacing").OnElements("table", "td", "th")
		p.AllowDataURIImages()
		p.AllowStyling()
		policy = p
	})
	return policy
}

// SanitizeHTML makes a message body safe to store and render.
func SanitizeHTML(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return strings.TrimSpace(htmlPolicy().Sanitize(value))
}
