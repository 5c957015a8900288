package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brunoniconeves/ascertain-task/internal/domain/note"
	"github.com/brunoniconeves/ascertain-task/internal/domain/patient"
	"github.com/brunoniconeves/ascertain-task/internal/platform/llm"
)

const defaultMaxPromptChars = 60000

type PatientSource interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type NoteSource interface {
	ListAll(ctx context.Context, patientID uuid.UUID) ([]*note.Note, error)
}

type Options struct {
	// Model is reported in responses; the generator decides what it calls.
	Model          string
	MaxPromptChars int
}

// Service builds summaries. A nil generator disables the feature.
type Service struct {
	patients PatientSource
	notes    NoteSource
	gen      llm.Generator
	opts     Options
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(patients PatientSource, notes NoteSource, gen llm.Generator, opts Options, logger zerolog.Logger) *Service {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = defaultMaxPromptChars
	}
	return &Service{patients: patients, notes: notes, gen: gen, opts: opts, now: time.Now, logger: logger}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool { return s.gen != nil }

// Generate summarizes all active notes of a patient. Nothing is stored.
func (s *Service) Generate(ctx context.Context, patientID uuid.UUID, aud Audience, verb Verbosity) (*Summary, error) {
	log := s.log(ctx).With().
		Str("patient_id", patientID.String()).
		Str("audience", string(aud)).
		Str("verbosity", string(verb)).
		Logger()

	sum, err := s.generate(ctx, patientID, aud, verb)
	if err != nil {
		log.Info().Bool("success", false).Str("error", errKind(err)).Msg("patient summary failed")
		return nil, err
	}
	log.Info().
		Bool("success", true).
		Int("note_count", sum.NoteCount).
		Bool("content_truncated", sum.ContentTruncated).
		Msg("patient summary generated")
	return sum, nil
}

func (s *Service) generate(ctx context.Context, patientID uuid.UUID, aud Audience, verb Verbosity) (*Summary, error) {
	if s.gen == nil {
		return nil, ErrLLMUnavailable
	}

	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	notes, err := s.notes.ListAll(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}

	now := s.now().UTC()
	age := p.AgeOn(now)

	pn := make([]promptNote, len(notes))
	for i, n := range notes {
		pn[i] = toPromptNote(n)
	}
	truncated := truncateNotes(pn, s.opts.MaxPromptChars)

	system, user, err := buildPrompts(aud, verb, patientContext{AgeYears: age, MRN: p.MRN}, pn)
	if err != nil {
		return nil, err
	}

	out, err := s.gen.GenerateJSON(ctx, system, user)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return nil, ErrLLMUnavailable
		}
		return nil, fmt.Errorf("%w: %w", ErrLLMFailed, err)
	}
	text, ok := out["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: completion has no text", ErrLLMFailed)
	}

	return &Summary{
		Heading:          Heading{Name: p.Name, Age: age, MRN: p.MRN},
		SummaryText:      strings.TrimSpace(text),
		Audience:         aud,
		Verbosity:        verb,
		NoteCount:        len(notes),
		ContentTruncated: truncated,
		GeneratedAt:      now,
		Model:            s.opts.Model,
		Disclaimer:       disclaimer,
	}, nil
}

func toPromptNote(n *note.Note) promptNote {
	pn := promptNote{
		ID:              n.ID.String(),
		TakenAt:         n.TakenAt.UTC().Format(time.RFC3339Nano),
		NoteType:        n.NoteType,
		HasFile:         n.HasFile(),
		ContentMIMEType: n.ContentMIMEType,
		FileSizeBytes:   n.FileSizeBytes,
		ChecksumSHA256:  n.ChecksumSHA256,
		StructuredData:  n.Structured,
	}
	if n.ContentText != nil {
		text := *n.ContentText
		pn.ContentText = &text
	}
	return pn
}

// errKind keeps upstream detail out of the logs.
func errKind(err error) string {
	switch {
	case errors.Is(err, ErrLLMUnavailable):
		return "llm_unavailable"
	case errors.Is(err, ErrLLMFailed):
		return "llm_failed"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	default:
		return "internal"
	}
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
