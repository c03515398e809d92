package mail

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var linkPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// HTMLBody renders a plain-text body for the text/html alternative: blank
// lines separate paragraphs, single newlines become <br> and http(s) URLs
// become links. The text is escaped before any markup is added, and the
// result is passed through policy so only paragraphs, breaks and safe links
// survive.
func HTMLBody(policy *bluemonday.Policy, plain string) string {
	var b strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(plain), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.WriteString("<br>")
			}
			b.WriteString(linkify(strings.TrimSpace(line)))
		}
		b.WriteString("</p>")
	}
	return policy.Sanitize(b.String())
}

func linkify(line string) string {
	var b strings.Builder
	last := 0
	for _, loc := range linkPattern.FindAllStringIndex(line, -1) {
		start, end := loc[0], loc[1]
		// Sentence punctuation after a URL is not part of it.
		for end > start && strings.ContainsRune(".,;:!?)", rune(line[end-1])) {
			end--
		}
		if end <= last {
			continue
		}
		b.WriteString(html.EscapeString(line[last:start]))
		u := html.EscapeString(line[start:end])
		b.WriteString(`<a href="` + u + `">` + u + `</a>`)
		last = end
	}
	b.WriteString(html.EscapeString(line[last:]))
	return b.String()
}
