package retrieval

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ragcore/engine/internal/document"
)

const maxSnippetLen = 500

// Citation is the shaped, user-facing reference to a retrieved document.
type Citation struct {
	URL         string
	Title       string
	MetadataJSON string
	Snippet     string
}

// javadocAnchorPattern finds a leading "ClassName.memberName" or
// "Outer.Inner" shape at the start of a Javadoc-sourced chunk, used to
// refine the citation URL with a nested-type/member anchor.
var javadocAnchorPattern = regexp.MustCompile(`^([A-Z][A-Za-z0-9]*(?:\.[A-Z][A-Za-z0-9]*)*)\.([a-zA-Z_][A-Za-z0-9_]*)\b`)

// ToCitation shapes a retrieved document record into a Citation: the URL is
// canonicalized to http(s) only, refined with a Javadoc nested-type/member
// anchor when the chunk looks like Javadoc, and the snippet is trimmed to
// 500 chars with an ellipsis.
func ToCitation(rec document.Record) Citation {
	url := canonicalizeURL(rec.SourceURL)
	if rec.SourceKind == "javadoc" || strings.Contains(strings.ToLower(rec.DocType), "javadoc") {
		if anchor := javadocAnchor(rec.Text); anchor != "" {
			url = url + "#" + anchor
		}
	}

	meta, _ := json.Marshal(map[string]string{
		"docSet":     rec.DocSet,
		"docVersion": rec.DocVersion,
		"sourceKind": rec.SourceKind,
		"docType":    rec.DocType,
	})

	return Citation{
		URL:          url,
		Title:        rec.Title,
		MetadataJSON: string(meta),
		Snippet:      snippet(rec.Text),
	}
}

// canonicalizeURL keeps only http(s) URLs; anything else is returned
// unchanged rather than inventing a scheme for non-web sources.
func canonicalizeURL(u string) string {
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return strings.TrimRight(u, "/")
	}
	return u
}

// javadocAnchor derives a "ClassName-memberName" fragment anchor from a
// "ClassName.memberName" shape at the start of chunk text, or "" if none is
// found.
func javadocAnchor(text string) string {
	trimmed := strings.TrimSpace(text)
	m := javadocAnchorPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return ""
	}
	return m[1] + "-" + m[2]
}

// snippet trims s to at most 500 chars (runes), appending an ellipsis when
// truncated; the ellipsis counts as one of the 500.
func snippet(s string) string {
	runes := []rune(s)
	if len(runes) <= maxSnippetLen {
		return s
	}
	return string(runes[:maxSnippetLen-1]) + "…"
}
