package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Only TRANSIENT_BACKEND is ever
// retried, and only a bounded number of times.
type ErrorKind string

const (
	KindNotConfigured    ErrorKind = "NOT_CONFIGURED"
	KindTransientBackend ErrorKind = "TRANSIENT_BACKEND"
	KindPermanentBackend ErrorKind = "PERMANENT_BACKEND"
	KindInvalidState     ErrorKind = "INVALID_STATE"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindAlreadyPublished ErrorKind = "ALREADY_PUBLISHED"
	KindNotReady         ErrorKind = "NOT_READY"
)

// PipelineError carries the failure kind plus document/stage context so no
// failure surfaces without saying where it happened.
type PipelineError struct {
	Kind       ErrorKind
	DocumentID string
	StageID    StageID
	Message    string
	Err        error
}

func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	ctx := ""
	if e.DocumentID != "" {
		ctx = " document=" + e.DocumentID
	}
	if e.StageID != "" {
		ctx += " stage=" + string(e.StageID)
	}
	return fmt.Sprintf("%s: %s%s", e.Kind, msg, ctx)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError builds a PipelineError with context.
func NewError(kind ErrorKind, documentID string, stageID StageID, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Kind:       kind,
		DocumentID: documentID,
		StageID:    stageID,
		Message:    fmt.Sprintf(format, args...),
	}
}

// WrapError attaches kind and context to an underlying error.
func WrapError(kind ErrorKind, documentID string, stageID StageID, err error) *PipelineError {
	return &PipelineError{
		Kind:       kind,
		DocumentID: documentID,
		StageID:    stageID,
		Err:        err,
	}
}

// KindOf extracts the error kind, or "" for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
