package pipeline

import (
	"errors"
	"fmt"
)

// ErrIntentParse marks a run whose question could not be interpreted.
var ErrIntentParse = errors.New("could not parse intent")

// StageError is a failure that ends a run, tagged with the stage it
// happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
