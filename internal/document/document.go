// Package document defines the uniform chunk and store-bound document record
// types shared by the ingest pipeline, hybrid search, and retrieval facade.
package document

import "strings"

// Chunk is a contiguous, token-bounded substring of a source document.
type Chunk struct {
	SourceURL  string
	Title      string
	Package    string
	ChunkIndex int
	Text       string
	// PageStart/PageEnd are set only for PDF-mode chunks (one page each).
	PageStart *int
	PageEnd   *int
	Hash      string
}

// Metadata carries the document-provenance fields used by the collection
// router and written into the payload.
type Metadata struct {
	DocSet           string
	DocPath          string
	SourceName       string
	SourceKind       string
	DocVersion       string
	DocType          string
	FilePath         string
	Language         string
	RepoURL          string
	RepoOwner        string
	RepoName         string
	RepoKey          string
	RepoBranch       string
	CommitHash       string
	License          string
	RepoDescription  string
}

// Record is a document ready to be embedded and upserted: a chunk plus the
// provenance metadata that determines its collection and payload.
type Record struct {
	Chunk
	Metadata
}

// payloadStringFields lists the string payload keys written for a Record,
// closed-schema order. A field is only written when non-blank.
var payloadStringFields = []struct {
	key   string
	value func(Record) string
}{
	{"doc_content", func(r Record) string { return r.Text }},
	{"url", func(r Record) string { return r.SourceURL }},
	{"title", func(r Record) string { return r.Title }},
	{"package", func(r Record) string { return r.Package }},
	{"hash", func(r Record) string { return r.Hash }},
	{"docSet", func(r Record) string { return r.DocSet }},
	{"docPath", func(r Record) string { return r.DocPath }},
	{"sourceName", func(r Record) string { return r.SourceName }},
	{"sourceKind", func(r Record) string { return r.SourceKind }},
	{"docVersion", func(r Record) string { return r.DocVersion }},
	{"docType", func(r Record) string { return r.DocType }},
	{"filePath", func(r Record) string { return r.FilePath }},
	{"language", func(r Record) string { return r.Language }},
	{"repoUrl", func(r Record) string { return r.RepoURL }},
	{"repoOwner", func(r Record) string { return r.RepoOwner }},
	{"repoName", func(r Record) string { return r.RepoName }},
	{"repoKey", func(r Record) string { return r.RepoKey }},
	{"repoBranch", func(r Record) string { return r.RepoBranch }},
	{"commitHash", func(r Record) string { return r.CommitHash }},
	{"license", func(r Record) string { return r.License }},
	{"repoDescription", func(r Record) string { return r.RepoDescription }},
}

// Payload projects a Record into the closed payload schema: string
// fields are written only when non-blank, and chunkIndex/pageStart/pageEnd
// are written as integers. Unknown fields never appear because the schema is
// closed by construction — there is no passthrough map.
func (r Record) Payload() map[string]any {
	payload := make(map[string]any, len(payloadStringFields)+3)
	for _, f := range payloadStringFields {
		if v := f.value(r); strings.TrimSpace(v) != "" {
			payload[f.key] = v
		}
	}
	payload["chunkIndex"] = r.ChunkIndex
	if r.PageStart != nil {
		payload["pageStart"] = *r.PageStart
	}
	if r.PageEnd != nil {
		payload["pageEnd"] = *r.PageEnd
	}
	return payload
}

// ClampInt32 clamps v to the 32-bit signed integer range; integer payload
// fields are clamped rather than rejected on read.
func ClampInt32(v int64) int32 {
	const (
		maxInt32 = 1<<31 - 1
		minInt32 = -1 << 31
	)
	if v > maxInt32 {
		return maxInt32
	}
	if v < minInt32 {
		return minInt32
	}
	return int32(v)
}
