package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidDrop     = errors.New("invalid drop")
	ErrWrongMode       = errors.New("operation not supported in this dispatch mode")
	ErrNotTracked      = errors.New("file is not tracked")
	ErrIndexOutOfRange = errors.New("staging index out of range")
	ErrClosed          = errors.New("queue is closed")
)

// FieldError is one rejected parameter of one staged file.
type FieldError struct {
	Path    string `json:"path"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found while committing staged files.
// Nothing is committed when it is returned.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s: %s", DisplayName(f.Path), f.Field, f.Message))
	}
	sort.Strings(parts)
	return "invalid trim parameters: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(path, field, msg string) {
	e.Fields = append(e.Fields, FieldError{Path: path, Field: field, Message: msg})
}
