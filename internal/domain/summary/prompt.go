package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const truncatedMarker = "\n[TRUNCATED]"

var systemPrompt = strings.Join([]string{
	"You are a careful clinical documentation assistant.",
	"You must follow these rules:",
	"- Do NOT invent facts, diagnoses, medications, lab values, or timelines.",
	"- Do NOT guess missing information; if unknown, omit it.",
	"- Do NOT speculate about causes or future outcomes.",
	"- Base the summary ONLY on the provided input data.",
	"- Use neutral clinical language. Avoid alarmist or judgmental phrasing.",
	"- If there are contradictions, present them as 'conflicting documentation' without resolving.",
	"- Do not include any content not present in the input.",
	"",
	"Output requirements:",
	"- Output MUST be valid JSON (and nothing else).",
	"- The JSON MUST be an object with exactly one key: 'text'.",
	"- 'text' MUST be a single human-readable narrative paragraph or short set of paragraphs.",
}, "\n")

var audienceGuidance = map[Audience]string{
	AudienceClinician:  "Use clinical vocabulary and focus on actionable clinical details.",
	AudienceFamily:     "Use plain language; avoid jargon; explain abbreviations if present in notes.",
	AudiencePatient:    "Use respectful, supportive plain language; avoid blame; avoid heavy jargon.",
	AudienceThirdParty: "Use neutral, formal tone; focus on documented facts only; avoid sensitive details beyond what is present.",
}

var verbosityGuidance = map[Verbosity]string{
	VerbosityShort:  "Be brief; prioritize the most important conditions/meds/plans.",
	VerbosityMedium: "Be concise but cover key diagnoses, medications, observations, and plans.",
	VerbosityLong:   "Include more detail and chronology, while staying coherent and avoiding repetition.",
}

// patientContext is the only patient data sent to the model. The full date
// of birth and the name stay out of the prompt.
type patientContext struct {
	AgeYears int     `json:"age_years"`
	MRN      *string `json:"mrn"`
}

// promptNote carries the fields the notes API already exposes.
type promptNote struct {
	ID               string          `json:"id"`
	TakenAt          string          `json:"taken_at"`
	NoteType         *string         `json:"note_type"`
	HasFile          bool            `json:"has_file"`
	ContentText      *string         `json:"content_text"`
	ContentTruncated bool            `json:"content_truncated,omitempty"`
	ContentMIMEType  *string         `json:"content_mime_type"`
	FileSizeBytes    *int64          `json:"file_size_bytes"`
	ChecksumSHA256   *string         `json:"checksum_sha256"`
	StructuredData   json.RawMessage `json:"structured_data"`
}

type promptInstructions struct {
	AudienceStyle string `json:"audience_style"`
	DetailLevel   string `json:"detail_level"`
}

type userPayload struct {
	Audience           Audience           `json:"audience"`
	Verbosity          Verbosity          `json:"verbosity"`
	Instructions       promptInstructions `json:"instructions"`
	PatientContext     patientContext     `json:"patient_context"`
	NotesChronological []promptNote       `json:"notes_chronological"`
	Reminders          []string           `json:"reminders"`
}

var reminders = []string{
	"Do not add facts that are not explicitly present above.",
	"If a note is file-backed and content_text is null, you cannot infer its content.",
	"Structured SOAP sections are derived and non-authoritative; treat them as helpful hints only.",
}

// buildPrompts returns the system and user prompts. The system prompt never
// changes; audience and verbosity steer the model from the user prompt.
func buildPrompts(aud Audience, verb Verbosity, pc patientContext, notes []promptNote) (string, string, error) {
	if notes == nil {
		notes = []promptNote{}
	}
	payload := userPayload{
		Audience:  aud,
		Verbosity: verb,
		Instructions: promptInstructions{
			AudienceStyle: audienceGuidance[aud],
			DetailLevel:   verbosityGuidance[verb],
		},
		PatientContext:     pc,
		NotesChronological: notes,
		Reminders:          reminders,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", "", fmt.Errorf("encode prompt payload: %w", err)
	}

	user := "Create a patient summary from the following JSON input.\n" +
		"Return ONLY JSON: {\"text\": \"...\"}\n\n" +
		strings.TrimRight(buf.String(), "\n")
	return systemPrompt, user, nil
}

// truncateNotes caps the total inline text at maxChars characters. Notes are
// walked oldest first, so the newest bodies are the ones cut or dropped.
// Every cut note is marked so the model does not read the gap as absence.
// It reports whether anything was cut.
func truncateNotes(notes []promptNote, maxChars int) bool {
	remaining := maxChars
	truncated := false
	for i := range notes {
		text := notes[i].ContentText
		if text == nil || *text == "" {
			continue
		}
		n := utf8.RuneCountInString(*text)
		switch {
		case remaining <= 0:
			notes[i].ContentText = nil
			notes[i].ContentTruncated = true
			truncated = true
		case n > remaining:
			cut := string([]rune(*text)[:remaining]) + truncatedMarker
			notes[i].ContentText = &cut
			notes[i].ContentTruncated = true
			truncated = true
			remaining = 0
		default:
			remaining -= n
		}
	}
	return truncated
}
