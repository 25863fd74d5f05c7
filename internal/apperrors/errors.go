// Package apperrors holds the error types shared by ingestion and training.
// Fatal errors abort a batch or a training run; RowError values are soft and
// are collected into the batch result.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnrecognizedSchema = errors.New("unrecognized schema")
	ErrDuplicate          = errors.New("duplicate external identifier")
	ErrNotFound           = errors.New("not found")
	ErrConcurrentTraining = errors.New("training already in progress")
	ErrUntrained          = errors.New("classifier is untrained")
)

type SchemaError struct {
	Source  string
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error in %s: missing required columns %s", e.Source, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema error in %s: %s", e.Source, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	if len(e.Missing) == 0 {
		return ErrUnrecognizedSchema
	}
	return nil
}

type RowErrorKind string

const (
	RowValidation    RowErrorKind = "validation"
	UnknownReference RowErrorKind = "unknown_reference"
	UnknownRoute     RowErrorKind = "unknown_route"
	DuplicateRow     RowErrorKind = "duplicate"
)

type RowError struct {
	Source  string       `json:"source"`
	Row     int          `json:"row"`
	Kind    RowErrorKind `json:"kind"`
	Field   string       `json:"field,omitempty"`
	Message string       `json:"message"`
}

func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s row %d: %s: %s", e.Source, e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("%s row %d: %s", e.Source, e.Row, e.Message)
}

type FitError struct {
	Step string
	Err  error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.Step, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("import failed at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
