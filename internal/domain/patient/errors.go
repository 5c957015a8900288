package patient

import "errors"

var (
	ErrNotFound      = errors.New("patient not found")
	ErrMRNConflict   = errors.New("MRN is already in use")
	ErrHasNotes      = errors.New("patient has notes")
	ErrMRNGeneration = errors.New("unable to generate MRN")
)

// ValidationError is a business-rule failure. Msg is returned to the client
// as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }
