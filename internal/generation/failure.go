package generation

import (
	"errors"
	"fmt"
)

// Kind separates failures worth retrying from those that end a run.
type Kind string

const (
	// KindTransport covers an unreachable backend, a broken stream or a
	// consumer that went away mid-stream.
	KindTransport Kind = "transport"
	// KindMalformed means the backend answered but the text did not parse
	// as the requested shape.
	KindMalformed Kind = "malformed"
)

// Failure is the single error type returned by Client.
type Failure struct {
	Kind  Kind
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation %s (%s): %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsMalformed reports whether err carries a Failure of KindMalformed.
func IsMalformed(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == KindMalformed
}

// IsTransport reports whether err carries a Failure of KindTransport.
func IsTransport(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == KindTransport
}
