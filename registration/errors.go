package registration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalid matches every ValidationError through errors.Is.
	ErrInvalid = errors.New("registration: invalid draft")

	// ErrInvalidOption is returned by setters given a value outside the offered options.
	ErrInvalidOption = errors.New("registration: value is not one of the offered options")

	// ErrNotFinalStep is returned by ProviderWizard.Submit before step 4.
	ErrNotFinalStep = errors.New("registration: submit is only available on the last step")
)

// ValidationError carries the field errors and form-level message that blocked a submission.
type ValidationError struct {
	Fields map[Field]string
	Form   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields)+1)
	if e.Form != "" {
		parts = append(parts, e.Form)
	}
	keys := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[Field(k)]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is reports ErrInvalid as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// FieldErrors extracts the field map from a ValidationError anywhere in err's chain.
func FieldErrors(err error) map[Field]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
