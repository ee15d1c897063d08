package collector

import (
	"encoding/json"
	"errors"
	"time"

	"marketplacer/internal/schema"
)

var (
	ErrUnknownEndpoint    = errors.New("unknown endpoint")
	ErrNoCollector        = errors.New("no collector for credential")
	ErrPollBudgetExceeded = errors.New("poll budget exceeded")
	ErrReportFailed       = errors.New("report generation failed")
	ErrPanic              = errors.New("collector panic")
)

// Class is how a failed attempt should be handled.
type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// StatusError is implemented by marketplace API errors.
type StatusError interface {
	error
	StatusCode() int
}

// RetryAfterError carries a server requested pause.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Classify decides whether retrying err can help.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	switch {
	case errors.Is(err, ErrUnknownEndpoint),
		errors.Is(err, ErrNoCollector),
		errors.Is(err, ErrPollBudgetExceeded),
		errors.Is(err, ErrReportFailed),
		errors.Is(err, ErrPanic):
		return Permanent
	}

	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return Permanent
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Permanent
	}

	var se StatusError
	if errors.As(err, &se) {
		code := se.StatusCode()
		switch {
		case code == 429, code == 408, code >= 500:
			return Transient
		case code >= 400:
			return Permanent
		}
	}

	// Timeouts, connection resets, rate limit waits and anything not
	// recognized above are worth another attempt.
	return Transient
}

// RetryAfter returns the pause requested by the server, or zero.
func RetryAfter(err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

// IsStatus reports whether err carries one of the HTTP status codes.
func IsStatus(err error, codes ...int) bool {
	var se StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.StatusCode() == c {
			return true
		}
	}
	return false
}

type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }
func (e *loggedError) Unwrap() error { return e.err }

// IsLogged reports whether a CollectionLog row was already written for err.
func IsLogged(err error) bool {
	var le *loggedError
	return errors.As(err, &le)
}
