package patterns

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TitleCase capitalizes each word of s and lowercases the rest
func TitleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// SenderName derives a company name from the sender's email domain, e.g.
// billing@acme-widgets.io becomes "Acme Widgets". Webmail domains yield "".
func (t *Tables) SenderName(from string) string {
	if t.SenderDomain == nil {
		return ""
	}
	m := t.SenderDomain.FindStringSubmatch(from)
	if m == nil || m[1] == "" || t.IsGenericDomain(m[1]) {
		return ""
	}
	return TitleCase(strings.ReplaceAll(m[1], "-", " "))
}
