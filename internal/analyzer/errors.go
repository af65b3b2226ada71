package analyzer

import "codeberg.org/gec/sensord/internal/errors"

const (
	// Framing Errors
	ErrInvalidLength = errors.ErrorCode("analyzer_invalid_frame_length")
	ErrInvalidHeader = errors.ErrorCode("analyzer_invalid_frame_header")

	// Decoding Errors
	ErrInvalidField = errors.ErrorCode("analyzer_invalid_field")

	// Encoding Errors
	ErrFieldOverflow = errors.ErrorCode("analyzer_field_overflow")
	ErrInvalidDashed = errors.ErrorCode("analyzer_invalid_dashed_bytes")
)

// FieldError describes which field of a frame failed to parse.
type FieldError struct {
	Field string
	Text  string
}
