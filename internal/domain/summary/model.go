package summary

import (
	"errors"
	"time"
)

type Audience string

const (
	AudienceClinician  Audience = "clinician"
	AudienceFamily     Audience = "family"
	AudiencePatient    Audience = "patient"
	AudienceThirdParty Audience = "third_party"
)

type Verbosity string

const (
	VerbosityShort  Verbosity = "short"
	VerbosityMedium Verbosity = "medium"
	VerbosityLong   Verbosity = "long"
)

const (
	DefaultAudience  = AudienceClinician
	DefaultVerbosity = VerbosityMedium
)

const disclaimer = "Generated from documented notes only. Not authoritative; verify against the source record."

func ParseAudience(s string) (Audience, bool) {
	switch a := Audience(s); a {
	case AudienceClinician, AudienceFamily, AudiencePatient, AudienceThirdParty:
		return a, true
	}
	return "", false
}

func ParseVerbosity(s string) (Verbosity, bool) {
	switch v := Verbosity(s); v {
	case VerbosityShort, VerbosityMedium, VerbosityLong:
		return v, true
	}
	return "", false
}

var (
	ErrPatientNotFound = errors.New("patient not found")
	// ErrLLMUnavailable means summaries are disabled in this deployment.
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrLLMFailed covers upstream errors and unusable completions.
	ErrLLMFailed = errors.New("llm failed")
)

// Heading identifies the patient the summary is about. It comes from the
// record, never from the model.
type Heading struct {
	Name string  `json:"name"`
	Age  int     `json:"age"`
	MRN  *string `json:"mrn"`
}

type Summary struct {
	Heading          Heading   `json:"heading"`
	SummaryText      string    `json:"summary_text"`
	Audience         Audience  `json:"audience"`
	Verbosity        Verbosity `json:"verbosity"`
	NoteCount        int       `json:"note_count"`
	ContentTruncated bool      `json:"content_truncated"`
	GeneratedAt      time.Time `json:"generated_at"`
	Model            string    `json:"model"`
	Disclaimer       string    `json:"disclaimer"`
}
