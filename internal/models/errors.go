package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the anonymize/send pipeline
type ErrorKind string

const (
	KindMetadataMissing      ErrorKind = "ParseOrMetadataMissing"
	KindAnonymization        ErrorKind = "AnonymizationFailure"
	KindConfigurationInvalid ErrorKind = "ConfigurationInvalid"
	KindStorage              ErrorKind = "StorageFailure"
	KindNetwork              ErrorKind = "NetworkFailure"
	KindValidation           ErrorKind = "ValidationFailure"
	KindCancelled            ErrorKind = "Cancelled"
)

// Error is a typed pipeline error
type Error struct {
	Kind     ErrorKind
	FileName string
	URL      string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.FileName != "" {
		fmt.Fprintf(&b, " [%s]", e.FileName)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a typed error
func NewError(kind ErrorKind, fileName string, err error) *Error {
	return &Error{Kind: kind, FileName: fileName, Err: err}
}

// ConfigError creates a ConfigurationInvalid error with a formatted message
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfigurationInvalid, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in err's chain is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == kind {
		return true
	}
	var batch *BatchError
	if errors.As(err, &batch) {
		for _, f := range batch.Failures {
			if IsKind(f, kind) {
				return true
			}
		}
	}
	return false
}

// BatchError aggregates per-file failures of a batch run
type BatchError struct {
	Operation string
	Attempted int
	Succeeded int
	Failures  []error
}

func (b *BatchError) Error() string {
	msg := fmt.Sprintf("%s: %d of %d files failed", b.Operation, len(b.Failures), b.Attempted)
	if len(b.Failures) > 0 {
		msg += ": " + b.Failures[0].Error()
		if len(b.Failures) > 1 {
			msg += fmt.Sprintf(" (and %d more)", len(b.Failures)-1)
		}
	}
	return msg
}

func (b *BatchError) Unwrap() []error {
	return b.Failures
}
