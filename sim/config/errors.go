package config

import (
	"fmt"
	"strings"
)

// Error is a configuration error: a missing or mistyped option, an unknown
// name, or a value that cannot be used. It is fatal during run setup.
type Error struct {
	Option string // offending option or name, may be empty
	Object string // object path for per-object settings, may be empty
	Msg    string
	Err    error // underlying cause, e.g. a *FormatError
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Option != "" {
		fmt.Fprintf(&b, " in option %s=", e.Option)
	}
	if e.Object != "" {
		fmt.Fprintf(&b, " for %s", e.Object)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted message.
func Errorf(option, object, format string, args ...any) *Error {
	return &Error{Option: option, Object: object, Msg: fmt.Sprintf(format, args...)}
}

// FormatError reports raw text that does not match the expected format.
type FormatError struct {
	Text     string
	Expected string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%q is not a valid value, expected %s", e.Text, e.Expected)
}
