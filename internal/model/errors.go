package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the command boundary needs to render it.
// UserVisible and BadInput carry messages that are safe to show verbatim;
// the rest collapse to a generic category sentence and are logged in full
// internally.
type Kind int

const (
	KindUserVisible Kind = iota
	KindBadInput
	KindDatabase
	KindVcs
	KindHTTP
	KindIO
	KindJSON
	KindCredential
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindUserVisible:
		return "UserVisible"
	case KindBadInput:
		return "BadInput"
	case KindDatabase:
		return "Database"
	case KindVcs:
		return "Vcs"
	case KindHTTP:
		return "Http"
	case KindIO:
		return "Io"
	case KindJSON:
		return "Json"
	case KindCredential:
		return "Credential"
	default:
		return "Custom"
	}
}

// AppError is the error type carried across every component boundary.
// Only UserVisible and BadInput messages may be shown to a caller as-is;
// everything else renders to a generic sentence at the command layer.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func UserVisible(format string, args ...any) *AppError {
	return &AppError{Kind: KindUserVisible, Message: fmt.Sprintf(format, args...)}
}

func BadInput(format string, args ...any) *AppError {
	return &AppError{Kind: KindBadInput, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Database(err error, format string, args ...any) *AppError { return Wrap(KindDatabase, err, format, args...) }
func Vcs(err error, format string, args ...any) *AppError       { return Wrap(KindVcs, err, format, args...) }
func HTTP(err error, format string, args ...any) *AppError      { return Wrap(KindHTTP, err, format, args...) }
func IO(err error, format string, args ...any) *AppError        { return Wrap(KindIO, err, format, args...) }
func JSON(err error, format string, args ...any) *AppError      { return Wrap(KindJSON, err, format, args...) }
func Credential(err error, format string, args ...any) *AppError {
	return Wrap(KindCredential, err, format, args...)
}
func Custom(format string, args ...any) *AppError { return &AppError{Kind: KindCustom, Message: fmt.Sprintf(format, args...)} }

// Render produces the safe, user-facing rendering of an error: the message
// verbatim for UserVisible/BadInput, a generic category sentence otherwise.
func Render(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case KindUserVisible, KindBadInput:
			return ae.Message
		case KindDatabase:
			return "A database error occurred."
		case KindVcs:
			return "A version control error occurred."
		case KindHTTP:
			return "A network error occurred."
		case KindIO:
			return "A filesystem error occurred."
		case KindJSON:
			return "A data format error occurred."
		case KindCredential:
			return "A credential store error occurred."
		default:
			return "An unexpected error occurred."
		}
	}
	return "An unexpected error occurred."
}
