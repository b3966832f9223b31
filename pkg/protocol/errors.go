package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidIdentifier = errors.New("invalid message identifier")
	ErrTruncated         = errors.New("message truncated")
	ErrMalformed         = errors.New("malformed message")
	ErrExtraData         = errors.New("unexpected trailing data")
	ErrOverlappingHubs   = errors.New("hub listed as both visited and candidate")
)

// TypeIdentifierError is returned when a message carries a different
// identifier than the decoder expects.
type TypeIdentifierError struct {
	Expected Identifier
	Actual   Identifier
}

func (e *TypeIdentifierError) Error() string {
	return fmt.Sprintf("unexpected message identifier: expected %q, got %q", e.Expected, e.Actual)
}

// DecodeError describes which field of which message failed to decode.
type DecodeError struct {
	Message Identifier
	Field   string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s.%s: %v", e.Message, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// OverlapError reports a hub present in both visited and candidate lists.
type OverlapError struct {
	Identity GUID
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%v: %s", ErrOverlappingHubs, e.Identity)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingHubs
}

func fieldError(id Identifier, field string, err error) error {
	return &DecodeError{Message: id, Field: field, Err: err}
}
