package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how a deployment reacts to empty input and upstream failures.
type Mode string

const (
	// ModeLenient always answers in character.
	ModeLenient Mode = "lenient"
	// ModeStrict surfaces validation and upstream errors to the caller.
	ModeStrict Mode = "strict"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeLenient:
		return ModeLenient, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown chat mode %q (want strict or lenient)", raw)
	}
}

type ValidationKind string

const (
	EmptyMessage  ValidationKind = "empty_message"
	MalformedBody ValidationKind = "malformed_body"
)

// ValidationError rejects a request before any work is done. Its message is
// safe to return to clients.
type ValidationError struct {
	Kind ValidationKind
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case EmptyMessage:
		return "Message is required and cannot be empty"
	case MalformedBody:
		return "Invalid JSON data"
	default:
		return "invalid request"
	}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
