package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedAction = errors.New("malformed action")
	ErrUnknownAction   = errors.New("unknown action")
	ErrDenied          = errors.New("permission denied")
	ErrNotFound        = errors.New("content not found")
	ErrSlugExists      = errors.New("slug already exists")
)

// ValidationError carries the per-field messages from schema validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Fields, "; "))
}
