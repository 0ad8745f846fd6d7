// ABOUTME: Normalizes transport failures and backend error payloads into one user-facing message
// ABOUTME: Extractors run in order and the first one that recognizes the failure wins

package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// User-facing messages produced by the normalizer.
const (
	MsgNetwork      = "Network error. Please, check your internet connection."
	MsgUnauthorized = "You are either not authorized to access this resource or your session has expired. Please login again."
	MsgValidation   = "Validation failed."
	MsgGeneric      = "Something went wrong. Please, try again."
)

// Kind classifies a normalized error.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation"
	KindServer       Kind = "server"
)

// Error is the single error type returned by Client.Do for failed requests.
type Error struct {
	Message    string
	StatusCode int // zero when no response was received
	Kind       Kind
	Payload    map[string]any
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a normalized 401/403.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindUnauthorized
}

// IsNetwork reports whether err is a normalized transport failure.
func IsNetwork(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindNetwork
}

// Failure is the raw input to normalization.
type Failure struct {
	StatusCode int // zero when no response was received
	StatusText string
	Payload    map[string]any
	Err        error
}

// Extractor turns a failure it recognizes into a normalized error.
type Extractor struct {
	Name    string
	Extract func(f Failure) (*Error, bool)
}

// Extractors is the ordered normalization chain.
var Extractors = []Extractor{
	{Name: "network", Extract: extractNetwork},
	{Name: "unauthorized", Extract: extractUnauthorized},
	{Name: "validation", Extract: extractValidation},
	{Name: "errorArray", Extract: extractErrorArray},
	{Name: "fallback", Extract: extractFallback},
}

// Normalize runs the extractor chain over f.
func Normalize(f Failure) *Error {
	for _, ex := range Extractors {
		if e, ok := ex.Extract(f); ok {
			return e
		}
	}
	return &Error{Message: MsgGeneric, StatusCode: f.StatusCode, Kind: KindServer, Payload: f.Payload, Err: f.Err}
}

func extractNetwork(f Failure) (*Error, bool) {
	if f.StatusCode != 0 {
		return nil, false
	}
	return &Error{Message: MsgNetwork, Kind: KindNetwork, Err: f.Err}, true
}

func extractUnauthorized(f Failure) (*Error, bool) {
	if f.StatusCode != http.StatusUnauthorized && f.StatusCode != http.StatusForbidden {
		return nil, false
	}
	msg := firstNonEmpty(stringAt(f.Payload, "detail"), stringAt(f.Payload, "title"), MsgUnauthorized)
	return f.normalized(msg, KindUnauthorized), true
}

func extractValidation(f Failure) (*Error, bool) {
	if f.StatusCode != http.StatusUnprocessableEntity {
		return nil, false
	}
	msg := MsgValidation
	if errs, ok := f.Payload["errors"].(map[string]any); ok {
		if list, ok := errs[""].([]any); ok && len(list) > 0 {
			if first := stringify(list[0]); first != "" {
				msg = first
			}
		}
	}
	return f.normalized(msg, KindValidation), true
}

func extractErrorArray(f Failure) (*Error, bool) {
	for _, key := range []string{"errors", "Errors"} {
		list, ok := f.Payload[key].([]any)
		if !ok {
			continue
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, stringify(item))
		}
		return f.normalized(strings.Join(parts, ", "), KindServer), true
	}
	return nil, false
}

func extractFallback(f Failure) (*Error, bool) {
	var nested string
	if inner, ok := f.Payload["error"].(map[string]any); ok {
		nested = stringAt(inner, "message")
	}
	msg := firstNonEmpty(
		stringAt(f.Payload, "detail"),
		nested,
		stringAt(f.Payload, "message"),
		f.StatusText,
		MsgGeneric,
	)
	return f.normalized(msg, KindServer), true
}

func (f Failure) normalized(msg string, kind Kind) *Error {
	return &Error{Message: msg, StatusCode: f.StatusCode, Kind: kind, Payload: f.Payload, Err: f.Err}
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	return stringify(m[key])
}

// stringify renders a JSON value; null and empty strings are empty. Objects and
// arrays keep their JSON form.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
