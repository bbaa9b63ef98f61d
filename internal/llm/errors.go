// File: internal/llm/errors.go
package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies provider failures for the loop's error handling.
type Kind string

const (
	KindConfigMissing Kind = "configuration_missing"
	KindAuth          Kind = "provider_auth"
	KindModelMissing  Kind = "provider_model_missing"
	KindTransport     Kind = "provider_transport"
	KindJSONValidate  Kind = "provider_json_validate"
	KindMalformedJSON Kind = "malformed_json"
	KindNoContent     Kind = "no_content"
)

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification, defaulting to transport.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransport
}

// FriendlyMessage remaps classified errors into the guidance shown to the
// user. Model-not-found in particular should point at Settings rather than
// echo a provider blob.
func FriendlyMessage(err error) string {
	switch KindOf(err) {
	case KindConfigMissing:
		return "No provider configured. Open Settings and add an API key and model."
	case KindAuth:
		return "The provider rejected the API key. Check it in Settings."
	case KindModelMissing:
		return "The selected model was not found. Pick another model in Settings."
	case KindJSONValidate, KindMalformedJSON:
		return "The model returned malformed output."
	case KindNoContent:
		return "The model returned an empty reply."
	default:
		return "The provider request failed. Check connectivity and try again."
	}
}

// isJSONValidateBody reports whether a provider error body carries the
// structured json_validate_failed code that warrants one history-clearing
// retry.
func isJSONValidateBody(body string) bool {
	return strings.Contains(body, "json_validate_failed")
}
