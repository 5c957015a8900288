package note

import "errors"

var (
	ErrNotFound        = errors.New("note not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrPayloadTooLarge = errors.New("uploaded file is too large")
	ErrStorage         = errors.New("file storage failed")
	ErrFileDeletion    = errors.New("file deletion failed")
	ErrFileMissing     = errors.New("note has no file")

	// ErrStructuredExists is returned by InsertStructured when a row for the
	// same (note_id, schema) is already stored.
	ErrStructuredExists = errors.New("structured data already exists")
)

// ValidationError is a business-rule failure. Msg is returned to the client
// as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// UnsupportedMediaTypeError names the resolved MIME type that is not on the
// allowlist.
type UnsupportedMediaTypeError struct {
	MIMEType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return "Unsupported media type: " + e.MIMEType
}
