package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength       = 255
	maxGroupsPerCall  = 64
	maxVariables      = 256
	maxVariableLength = 255
)

var (
	ErrIDEmpty           = errors.New("id is required")
	ErrIDTooLong         = errors.New("id exceeds maximum length")
	ErrIDInvalid         = errors.New("id contains invalid characters")
	ErrGroupsEmpty       = errors.New("at least one group is required")
	ErrTooManyGroups     = errors.New("too many groups")
	ErrVariablesEmpty    = errors.New("at least one variable is required")
	ErrTooManyVariables  = errors.New("too many variables")
	ErrVariableNameEmpty = errors.New("variable name is required")
	ErrVariableNameLong  = errors.New("variable name exceeds maximum length")
)

// Commas are the identity separator, so they never appear inside an id.
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\./:@+]+$`)

// ValidateID checks an instance, task, actor or group id. field names the
// offending parameter in the returned error.
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s: %w", field, ErrIDEmpty)
	}

	if utf8.RuneCountInString(id) > maxIDLength {
		return fmt.Errorf("%s: %w", field, ErrIDTooLong)
	}

	if !validIDPattern.MatchString(id) {
		return fmt.Errorf("%s: %w", field, ErrIDInvalid)
	}

	return nil
}

// ValidateGroups checks a candidate-group append request. Blank entries are
// allowed and dropped later, but at least one must be non-blank.
func ValidateGroups(groups []string) error {
	if len(groups) > maxGroupsPerCall {
		return ErrTooManyGroups
	}

	nonBlank := 0
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if err := ValidateID("groups", g); err != nil {
			return err
		}
		nonBlank++
	}
	if nonBlank == 0 {
		return ErrGroupsEmpty
	}
	return nil
}

func ValidateVariables(vars map[string]any) error {
	if len(vars) == 0 {
		return ErrVariablesEmpty
	}

	if len(vars) > maxVariables {
		return ErrTooManyVariables
	}

	for name := range vars {
		if strings.TrimSpace(name) == "" {
			return ErrVariableNameEmpty
		}
		if utf8.RuneCountInString(name) > maxVariableLength {
			return fmt.Errorf("%w: %.32s", ErrVariableNameLong, name)
		}
	}

	return nil
}
