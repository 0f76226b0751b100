// Package alert turns fetched posts into Telegram-ready payloads.
// Formatting is pure: no I/O, and the same post always yields the same
// payload.
package alert

import (
	"fmt"
	"html"
	"strings"

	"xrelay/internal/feed"
)

// footerLine is the fixed campaign line appended to every alert.
const footerLine = "Распространите это среди жильцов нашего ЖЭКа."

// Payload is a transport-ready alert. Text is Telegram HTML. PhotoURL, when
// set, is sent as a photo with Text as its caption; ExtraPhotos follow as
// captionless photo messages.
type Payload struct {
	Text        string
	PhotoURL    string
	ExtraPhotos []string
}

// Format renders a post: bold author line, the post text, a permalink, and
// the footer. All user-controlled strings are HTML-escaped.
func Format(p feed.Post) Payload {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>@%s</b> (%s)\n", html.EscapeString(p.AuthorHandle), html.EscapeString(p.AuthorDisplayName))
	b.WriteString("\n")
	b.WriteString(html.EscapeString(p.Text))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, `<a href="%s">Open on X</a>`, html.EscapeString(p.Permalink))
	b.WriteString("\n")
	b.WriteString(footerLine)

	out := Payload{Text: b.String()}
	if len(p.MediaURLs) > 0 {
		out.PhotoURL = p.MediaURLs[0]
	}
	if len(p.MediaURLs) > 1 {
		out.ExtraPhotos = append([]string(nil), p.MediaURLs[1:]...)
	}
	return out
}
