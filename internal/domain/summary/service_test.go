package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoniconeves/ascertain-task/internal/domain/note"
	"github.com/brunoniconeves/ascertain-task/internal/domain/patient"
	"github.com/brunoniconeves/ascertain-task/internal/platform/llm"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// -- Test doubles --

type fakePatients map[uuid.UUID]*patient.Patient

func (f fakePatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type fakeNotes struct {
	byPatient map[uuid.UUID][]*note.Note
	err       error
}

func (f *fakeNotes) ListAll(_ context.Context, patientID uuid.UUID) ([]*note.Note, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byPatient[patientID], nil
}

// fakeGenerator records the prompts it receives.
type fakeGenerator struct {
	out    map[string]any
	err    error
	system string
	user   string
	calls  int
}

func (g *fakeGenerator) GenerateJSON(_ context.Context, system, user string) (map[string]any, error) {
	g.calls++
	g.system, g.user = system, user
	return g.out, g.err
}

// -- Helpers --

type testEnv struct {
	patients fakePatients
	notes    *fakeNotes
	gen      *fakeGenerator
	svc      *Service
	pid      uuid.UUID
}

func newTestEnv(t *testing.T, maxChars int) *testEnv {
	t.Helper()
	mrn := "MRN-ABC"
	pid := uuid.New()
	env := &testEnv{
		patients: fakePatients{pid: {
			ID:          pid,
			Name:        "Ada Lovelace",
			DateOfBirth: time.Date(1980, 6, 1, 0, 0, 0, 0, time.UTC),
			MRN:         &mrn,
		}},
		notes: &fakeNotes{byPatient: map[uuid.UUID][]*note.Note{}},
		gen:   &fakeGenerator{out: map[string]any{"text": "  Stable on current plan.  "}},
		pid:   pid,
	}
	env.svc = NewService(env.patients, env.notes, env.gen, Options{Model: "gpt-4o-mini", MaxPromptChars: maxChars}, zerolog.Nop())
	env.svc.now = func() time.Time { return testNow }
	return env
}

func (e *testEnv) addText(takenAt time.Time, text string) *note.Note {
	n := &note.Note{ID: uuid.New(), PatientID: e.pid, TakenAt: takenAt, ContentText: &text}
	e.notes.byPatient[e.pid] = append(e.notes.byPatient[e.pid], n)
	return n
}

// payloadNotes decodes the notes section of the last user prompt.
func (e *testEnv) payloadNotes(t *testing.T) []map[string]any {
	t.Helper()
	_, body, ok := strings.Cut(e.gen.user, "\n\n")
	require.True(t, ok)
	var payload struct {
		Notes []map[string]any `json:"notes_chronological"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	return payload.Notes
}

// -- Tests --

func TestGenerate_Success(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.addText(testNow.Add(-48*time.Hour), "first visit")
	env.addText(testNow.Add(-24*time.Hour), "follow up")

	sum, err := env.svc.Generate(context.Background(), env.pid, AudienceClinician, VerbosityMedium)
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", sum.Heading.Name)
	assert.Equal(t, 45, sum.Heading.Age)
	require.NotNil(t, sum.Heading.MRN)
	assert.Equal(t, "MRN-ABC", *sum.Heading.MRN)
	assert.Equal(t, "Stable on current plan.", sum.SummaryText)
	assert.Equal(t, AudienceClinician, sum.Audience)
	assert.Equal(t, VerbosityMedium, sum.Verbosity)
	assert.Equal(t, 2, sum.NoteCount)
	assert.False(t, sum.ContentTruncated)
	assert.Equal(t, testNow, sum.GeneratedAt)
	assert.Equal(t, "gpt-4o-mini", sum.Model)
	assert.NotEmpty(t, sum.Disclaimer)

	assert.Equal(t, 1, env.gen.calls)
	assert.NotContains(t, env.gen.user, "Ada Lovelace", "name must not reach the model")
	assert.NotContains(t, env.gen.user, "1980-06-01", "date of birth must not reach the model")

	notes := env.payloadNotes(t)
	require.Len(t, notes, 2)
	assert.Equal(t, "first visit", notes[0]["content_text"])
	assert.Equal(t, "follow up", notes[1]["content_text"])
}

func TestGenerate_FileAndStructuredNotes(t *testing.T) {
	env := newTestEnv(t, 1000)
	size := int64(2048)
	sum := "deadbeef"
	mime := "application/pdf"
	env.notes.byPatient[env.pid] = []*note.Note{{
		ID: uuid.New(), PatientID: env.pid, TakenAt: testNow.Add(-time.Hour),
		FilePath: strPtr("k"), FileSizeBytes: &size, ChecksumSHA256: &sum, ContentMIMEType: &mime,
	}}
	soap := env.addText(testNow.Add(-time.Minute), "S: cough")
	soap.NoteType = strPtr("soap")
	soap.Structured = json.RawMessage(`{"subjective":"cough"}`)

	_, err := env.svc.Generate(context.Background(), env.pid, AudiencePatient, VerbosityLong)
	require.NoError(t, err)

	notes := env.payloadNotes(t)
	require.Len(t, notes, 2)
	assert.Equal(t, true, notes[0]["has_file"])
	assert.Nil(t, notes[0]["content_text"])
	assert.Equal(t, float64(2048), notes[0]["file_size_bytes"])
	assert.NotContains(t, notes[0], "file_path")
	assert.Equal(t, map[string]any{"subjective": "cough"}, notes[1]["structured_data"])
}

func TestGenerate_TruncatesPrompt(t *testing.T) {
	env := newTestEnv(t, 10)
	env.addText(testNow.Add(-2*time.Hour), "0123456")
	env.addText(testNow.Add(-time.Hour), "abcdefgh")
	env.addText(testNow, "dropped")

	sum, err := env.svc.Generate(context.Background(), env.pid, AudienceClinician, VerbosityShort)
	require.NoError(t, err)
	assert.True(t, sum.ContentTruncated)
	assert.Equal(t, 3, sum.NoteCount)

	notes := env.payloadNotes(t)
	assert.Equal(t, "0123456", notes[0]["content_text"])
	assert.Equal(t, "abc\n[TRUNCATED]", notes[1]["content_text"])
	assert.Equal(t, true, notes[1]["content_truncated"])
	assert.Nil(t, notes[2]["content_text"])

	// the source notes are not modified
	assert.Equal(t, "abcdefgh", *env.notes.byPatient[env.pid][1].ContentText)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testEnv)
		pid   func(*testEnv) uuid.UUID
		want  error
	}{
		{
			name:  "disabled",
			setup: func(e *testEnv) { e.svc.gen = nil },
			want:  ErrLLMUnavailable,
		},
		{
			name: "unknown patient",
			pid:  func(*testEnv) uuid.UUID { return uuid.New() },
			want: ErrPatientNotFound,
		},
		{
			name:  "upstream failure",
			setup: func(e *testEnv) { e.gen.err = fmt.Errorf("%w: status 500", llm.ErrUpstream) },
			want:  ErrLLMFailed,
		},
		{
			name:  "client reports unavailable",
			setup: func(e *testEnv) { e.gen.err = llm.ErrUnavailable },
			want:  ErrLLMUnavailable,
		},
		{
			name: "openai client without key",
			setup: func(e *testEnv) {
				e.svc.gen = llm.NewOpenAIClient(llm.Config{BaseURL: "http://127.0.0.1:1", Model: "gpt-4o-mini", Timeout: time.Second})
			},
			want: ErrLLMUnavailable,
		},
		{
			name:  "missing text",
			setup: func(e *testEnv) { e.gen.out = map[string]any{"summary": "x"} },
			want:  ErrLLMFailed,
		},
		{
			name:  "blank text",
			setup: func(e *testEnv) { e.gen.out = map[string]any{"text": "   "} },
			want:  ErrLLMFailed,
		},
		{
			name:  "text not a string",
			setup: func(e *testEnv) { e.gen.out = map[string]any{"text": 42.0} },
			want:  ErrLLMFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 100)
			if tt.setup != nil {
				tt.setup(env)
			}
			pid := env.pid
			if tt.pid != nil {
				pid = tt.pid(env)
			}
			_, err := env.svc.Generate(context.Background(), pid, AudienceClinician, VerbosityMedium)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_DisabledSkipsLookups(t *testing.T) {
	env := newTestEnv(t, 100)
	env.svc.gen = nil
	env.notes.err = errors.New("should not be called")
	_, err := env.svc.Generate(context.Background(), uuid.New(), AudienceClinician, VerbosityMedium)
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.False(t, env.svc.Enabled())
}

func TestGenerate_NoteLoadFailure(t *testing.T) {
	env := newTestEnv(t, 100)
	env.notes.err = errors.New("db down")
	_, err := env.svc.Generate(context.Background(), env.pid, AudienceClinician, VerbosityMedium)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLLMFailed))
	assert.Equal(t, 0, env.gen.calls)
}

func TestParseAudienceAndVerbosity(t *testing.T) {
	for _, s := range []string{"clinician", "family", "patient", "third_party"} {
		_, ok := ParseAudience(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseAudience("Clinician")
	assert.False(t, ok)

	for _, s := range []string{"short", "medium", "long"} {
		_, ok := ParseVerbosity(s)
		assert.True(t, ok, s)
	}
	_, ok = ParseVerbosity("tiny")
	assert.False(t, ok)
}

func strPtr(s string) *string { return &s }
