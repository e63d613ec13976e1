package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateAlias = errors.New("alias already registered")
	ErrNoAliases      = errors.New("command has no aliases")
)

// PermissionError means the caller lacks rights or the guild context the
// command needs.
type PermissionError struct {
	Reason  string
	Missing []string
}

func (e *PermissionError) Error() string {
	if len(e.Missing) > 0 {
		return "missing permissions: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

// ValidationError reports malformed or missing arguments.
type ValidationError struct {
	Message string
	Usage   string
}

func (e *ValidationError) Error() string {
	if e.Usage != "" {
		return e.Message + " (usage: " + e.Usage + ")"
	}
	return e.Message
}

func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func Usage(cmd *Command, message string) error {
	return &ValidationError{Message: message, Usage: cmd.Usage}
}

func IsPermission(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}

func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
