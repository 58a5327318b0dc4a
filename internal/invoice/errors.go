// Package invoice runs the invoice pipeline (stage, parse, index, extract, normalize, persist,
// clean up) and answers follow-up questions about processed invoices.
package invoice

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every pipeline failure matches exactly one of them with
// errors.Is.
var (
	ErrInvalidUserType            = errors.New("invalid user type: must be 'vendor' or 'buyer'")
	ErrEmptyOrUnsupportedDocument = errors.New("the uploaded document is empty, unsupported or could not be parsed")
	ErrExtractionUnavailable      = errors.New("invoice extraction is unavailable")
	ErrMalformedLLMResponse       = errors.New("response from the model is not in the expected JSON format")
	ErrPersistence                = errors.New("failed to store the invoice")
	ErrDocumentNotFound           = errors.New("document not found")
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages, in order.
const (
	StageValidate  Stage = "validate"
	StageStage     Stage = "stage"
	StageParse     Stage = "parse"
	StageIndex     Stage = "index"
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
	StageChat      Stage = "chat"
)

// StageError is a failure of one pipeline stage. It matches both its Kind and the underlying cause
// with errors.Is.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func fail(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// StageOf returns the stage err failed in, or "" when err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
