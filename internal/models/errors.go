package models

import "fmt"

// InputError reports a malformed source descriptor. It is returned before a
// job is created.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// ScannerError records a single file that a scanner could not process.
type ScannerError struct {
	Scanner string `json:"scanner"`
	File    string `json:"file"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

func NewScannerError(scanner, file string, err error) *ScannerError {
	return &ScannerError{Scanner: scanner, File: file, Err: err, Message: err.Error()}
}

func (e *ScannerError) Error() string {
	return fmt.Sprintf("scanner %s: %s: %s", e.Scanner, e.File, e.Message)
}

func (e *ScannerError) Unwrap() error { return e.Err }

// FilterError records a judge failure for one file group.
type FilterError struct {
	File string
	Err  error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.File, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// ScoringError is raised for a malformed control catalog or scoring
// configuration. It is fatal at startup.
type ScoringError struct {
	Err error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring configuration: %v", e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// SinkError wraps a report write or read failure.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("report %s: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
