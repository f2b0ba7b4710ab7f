package validate

import (
	"errors"
	"strings"
)

// FieldError is one rule violation at a field path such as "address.zip"
// or "tags[2]".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Message
}

// Errors collects every violation found in a row, in path order.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.String()
	}
	return strings.Join(parts, "; ")
}

// ByPath groups the messages by field path.
func (e Errors) ByPath() map[string][]string {
	out := make(map[string][]string, len(e))
	for _, fe := range e {
		out[fe.Path] = append(out[fe.Path], fe.Message)
	}
	return out
}

func (e *Errors) add(path, msg string) {
	*e = append(*e, FieldError{Path: path, Message: msg})
}

// FieldErrors extracts the violations carried by err, if any.
func FieldErrors(err error) (Errors, bool) {
	var fe Errors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
