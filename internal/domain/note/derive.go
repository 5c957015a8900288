package note

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brunoniconeves/ascertain-task/internal/domain/note/soap"
)

// Outcome tags one run of structured-data derivation.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeNoMarkers Outcome = "no_markers"
	OutcomePersisted Outcome = "persisted"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
)

var structuredOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notes_structured_outcomes_total",
		Help: "SOAP derivation runs by outcome.",
	},
	[]string{"outcome"},
)

// deriveStructured parses a committed SOAP note and stores the sections. It
// never fails the caller: every error is logged by class and counted. Logs
// carry the note id and outcome only, never note content.
func (s *Service) deriveStructured(ctx context.Context, n *Note, raw *string) (outcome Outcome) {
	log := s.log(ctx).With().Str("note_id", n.ID.String()).Logger()
	defer func() {
		structuredOutcomes.WithLabelValues(string(outcome)).Inc()
	}()

	if !n.IsSOAP() {
		return OutcomeSkipped
	}
	if raw == nil || *raw == "" {
		log.Warn().Str("outcome", string(OutcomeSkipped)).Msg("SOAP parse skipped: missing raw text")
		return OutcomeSkipped
	}

	res, ok, err := parseSOAP(*raw)
	if err != nil {
		log.Warn().Str("outcome", string(OutcomeFailed)).Str("error", errClass(err)).Msg("SOAP parse failed: parser raised")
		return OutcomeFailed
	}
	if !ok {
		log.Warn().Str("outcome", string(OutcomeNoMarkers)).Msg("SOAP parse failed: no SOAP markers found")
		return OutcomeNoMarkers
	}
	if res.Confidence != soap.ConfidenceHigh {
		log.Warn().Str("confidence", res.Confidence).Msg("SOAP parse incomplete")
	}

	data, err := json.Marshal(res)
	if err != nil {
		log.Warn().Str("outcome", string(OutcomeFailed)).Str("error", errClass(err)).Msg("SOAP payload encoding failed")
		return OutcomeFailed
	}

	row := &Structured{
		NoteID:        n.ID,
		Schema:        res.Schema,
		ParsedFrom:    res.ParsedFrom,
		ParserVersion: res.ParserVersion,
		Confidence:    res.Confidence,
		Data:          data,
	}
	switch err := s.repo.InsertStructured(ctx, row); {
	case errors.Is(err, ErrStructuredExists):
		return OutcomeConflict
	case err != nil:
		log.Warn().Str("outcome", string(OutcomeFailed)).Str("error", errClass(err)).Msg("SOAP parse persistence failed")
		return OutcomeFailed
	}

	n.Structured = data
	n.HasStructured = true
	return OutcomePersisted
}

// parseSOAP turns a parser panic into an error.
func parseSOAP(text string) (res soap.Result, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("soap parser panic: %v", r)
		}
	}()
	res, ok = soap.Parse(text)
	return res, ok, nil
}

// errClass names an error without its message, which may echo input.
func errClass(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
