package note

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"
)

const (
	mimePDF         = "application/pdf"
	mimePNG         = "image/png"
	mimeJPEG        = "image/jpeg"
	mimeTextPlain   = "text/plain"
	mimeOctetStream = "application/octet-stream"
)

// sniffLen is how much of an upload is inspected for magic bytes.
const sniffLen = 16

var magic = []struct {
	prefix []byte
	mime   string
}{
	{[]byte("%PDF-"), mimePDF},
	{[]byte("\x89PNG\r\n\x1a\n"), mimePNG},
	{[]byte("\xff\xd8\xff"), mimeJPEG},
}

// sniffMIME identifies the upload from its leading bytes, falling back to the
// filename extension. It returns "" when neither says anything.
func sniffMIME(head []byte, filename string) string {
	for _, m := range magic {
		if bytes.HasPrefix(head, m.prefix) {
			return m.mime
		}
	}
	if ext := filepath.Ext(filename); ext != "" {
		return normalizeMIME(mime.TypeByExtension(ext))
	}
	return ""
}

func isBinaryMagic(t string) bool {
	return t == mimePDF || t == mimePNG || t == mimeJPEG
}

// normalizeMIME lower-cases a media type and drops its parameters.
func normalizeMIME(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if t, _, err := mime.ParseMediaType(raw); err == nil {
		return t
	}
	return raw
}

// mimeCandidates are the normalised client-declared and sniffed types of an
// upload, with the configured allowlist.
type mimeCandidates struct {
	provided string
	sniffed  string
	allowed  map[string]bool
}

// mimeRule picks a type when its condition holds.
type mimeRule struct {
	name string
	when func(mimeCandidates) bool
	pick func(mimeCandidates) string
}

func pickProvided(m mimeCandidates) string { return m.provided }
func pickSniffed(m mimeCandidates) string  { return m.sniffed }

// mimeRules are evaluated in order; the first match decides. The last rule
// always matches, and its result is rejected later when not allowed.
var mimeRules = []mimeRule{
	{
		name: "binary signature overrides client type",
		when: func(m mimeCandidates) bool {
			return m.allowed[m.sniffed] && isBinaryMagic(m.sniffed) && m.provided != m.sniffed
		},
		pick: pickSniffed,
	},
	{
		name: "allowed client type",
		when: func(m mimeCandidates) bool { return m.allowed[m.provided] },
		pick: pickProvided,
	},
	{
		name: "allowed sniffed type",
		when: func(m mimeCandidates) bool { return m.allowed[m.sniffed] },
		pick: pickSniffed,
	},
	{
		name: "client type",
		when: func(m mimeCandidates) bool { return m.provided != "" },
		pick: pickProvided,
	},
	{
		name: "sniffed type",
		when: func(m mimeCandidates) bool { return m.sniffed != "" },
		pick: pickSniffed,
	},
	{
		name: "octet stream",
		when: func(mimeCandidates) bool { return true },
		pick: func(mimeCandidates) string { return mimeOctetStream },
	},
}

// resolveMIME picks the stored type of an upload by walking mimeRules.
func resolveMIME(provided, sniffed string, allowed map[string]bool) string {
	m := mimeCandidates{provided: normalizeMIME(provided), sniffed: normalizeMIME(sniffed), allowed: allowed}
	for _, r := range mimeRules {
		if r.when(m) {
			return r.pick(m)
		}
	}
	return mimeOctetStream
}
