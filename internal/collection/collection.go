// Package collection implements the pure, deterministic bucket-routing
// function that decides which named vector collection a document belongs
// to, based purely on its provenance metadata.
package collection

import "strings"

// Name identifies a logical bucket of points routed by document provenance.
type Name string

const (
	// Books holds book-sourced documentation.
	Books Name = "books"
	// Articles holds blog posts and article-sourced documentation.
	Articles Name = "articles"
	// PDFs holds PDF-sourced documentation.
	PDFs Name = "pdfs"
	// Docs is the default bucket for everything else (including
	// dynamically discovered repository buckets, which are plain strings
	// rather than Name constants).
	Docs Name = "docs"
)

// articleDocSetPrefixes are docSet prefixes that route to Articles even when
// docType is not "blog".
var articleDocSetPrefixes = []string{
	"ibm/articles",
	"jetbrains/",
}

// Route is the total, deterministic routing function of (docSet, docPath,
// docType, url) to a collection bucket. Inputs are ASCII-lowercased and
// trimmed before matching, so casing and stray whitespace never change
// where a document lands.
func Route(docSet, docPath, docType, url string) Name {
	docSet = normalize(docSet)
	docPath = normalize(docPath)
	docType = normalize(docType)
	url = normalize(url)

	if docSet == "books" || strings.HasPrefix(docSet, "books/") {
		return Books
	}
	if docType == "blog" || hasArticleDocSetPrefix(docSet) {
		return Articles
	}
	if docType == "pdf" || strings.HasSuffix(docPath, ".pdf") || strings.HasSuffix(url, ".pdf") || strings.Contains(docPath, "/pdfs/") || strings.Contains(url, "/pdfs/") {
		return PDFs
	}
	return Docs
}

func hasArticleDocSetPrefix(docSet string) bool {
	for _, prefix := range articleDocSetPrefixes {
		if strings.HasPrefix(docSet, prefix) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
