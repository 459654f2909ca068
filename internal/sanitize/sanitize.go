package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// Tags stripped from inbound and outbound message content. Matching is
// case-insensitive and covers both opening and closing forms.
var blockedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"form":     true,
	"input":    true,
	"button":   true,
	"textarea": true,
	"select":   true,
	"option":   true,
}

// Clean removes blocked tags from s, content included, keeping all other
// text exactly as written, and trims surrounding whitespace.
// Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	// Inside a blocked element everything is dropped until its end tag.
	skipUntil := ""
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			lower := strings.ToLower(string(name))
			if blockedTags[lower] {
				if skipUntil == "" {
					skipUntil = lower
				}
				continue
			}
			if skipUntil == "" {
				b.Write(z.Raw())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			lower := strings.ToLower(string(name))
			if blockedTags[lower] {
				if skipUntil == lower {
					skipUntil = ""
				}
				continue
			}
			if skipUntil == "" {
				b.Write(z.Raw())
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockedTags[strings.ToLower(string(name))] {
				continue
			}
			if skipUntil == "" {
				b.Write(z.Raw())
			}
		default:
			if skipUntil == "" {
				b.Write(z.Raw())
			}
		}
	}
}
