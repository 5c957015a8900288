// Package soap extracts Subjective/Objective/Assessment/Plan sections from
// free-text clinical notes. Only explicit line-start markers ("S:", "o :",
// ...) are recognised; nothing is inferred.
package soap

import (
	"regexp"
	"strings"
)

const (
	Schema        = "soap_v1"
	ParsedFrom    = "text"
	ParserVersion = "v1"

	ConfidenceHigh    = "high"
	ConfidencePartial = "partial"
)

var markerRE = regexp.MustCompile(`(?m)^\s*([SOAPsoap])\s*:\s*`)

// Sections holds the raw text of each section. Sections without a marker are
// nil and serialize as null; a marked but empty section is "".
type Sections struct {
	Subjective *string `json:"subjective"`
	Objective  *string `json:"objective"`
	Assessment *string `json:"assessment"`
	Plan       *string `json:"plan"`
}

// Result is the structured form of a note.
type Result struct {
	Schema        string   `json:"schema"`
	ParsedFrom    string   `json:"parsed_from"`
	ParserVersion string   `json:"parser_version"`
	Confidence    string   `json:"confidence"`
	Sections      Sections `json:"sections"`
}

// Parse scans text for section markers. ok is false when the text has no
// markers or every marked section is empty.
//
// Section content is everything between the end of one marker and the start
// of the next, kept verbatim. A section marked more than once is joined with
// a newline in document order.
func Parse(text string) (res Result, ok bool) {
	matches := markerRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Result{}, false
	}

	chunks := make(map[byte][]string, 4)
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		key := lower(text[m[2]])
		chunks[key] = append(chunks[key], text[m[1]:end])
	}

	var s Sections
	present := 0
	for _, sec := range []struct {
		key byte
		dst **string
	}{
		{'s', &s.Subjective},
		{'o', &s.Objective},
		{'a', &s.Assessment},
		{'p', &s.Plan},
	} {
		parts, found := chunks[sec.key]
		if !found {
			continue
		}
		joined := strings.Join(parts, "\n")
		*sec.dst = &joined
		if joined != "" {
			present++
		}
	}

	if present == 0 {
		return Result{}, false
	}

	confidence := ConfidencePartial
	if present == 4 {
		confidence = ConfidenceHigh
	}
	return Result{
		Schema:        Schema,
		ParsedFrom:    ParsedFrom,
		ParserVersion: ParserVersion,
		Confidence:    confidence,
		Sections:      s,
	}, true
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
