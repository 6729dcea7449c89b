// Package errs holds the failure kinds every component converts its
// transport and decode errors into before they reach the gateway.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Other           Kind = "other"
	Auth            Kind = "auth"
	Connection      Kind = "connection"
	Quote           Kind = "quote"
	CommandRejected Kind = "command_rejected"
	Validation      Kind = "validation"
)

// FieldError describes one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err produces a message-only error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Msg(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Fields(op string, fields []FieldError) error {
	return &Error{Kind: Validation, Op: op, Msg: "validation failed", Fields: fields}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage is the text a view may show for err. Auth failures stay
// generic so credentials are never echoed back.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "something went wrong"
	}
	switch e.Kind {
	case Auth:
		return "authentication failed"
	case Connection:
		return "not connected"
	case CommandRejected:
		if e.Msg != "" {
			return e.Msg
		}
		return "not connected"
	case Quote:
		return "could not compute route"
	case Validation:
		return e.Msg
	}
	return "something went wrong"
}
