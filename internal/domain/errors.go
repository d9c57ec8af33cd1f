package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrParse signals a message body that is not a decodable JSON object.
	ErrParse = errors.New("parse error")
	// ErrMalformedKey signals a location key with fewer than two path segments.
	ErrMalformedKey = errors.New("malformed key")
	// ErrMissingField signals an absent embedding or caption.
	ErrMissingField = errors.New("missing field")
	// ErrStoreWrite signals a per-document rejection by the index.
	ErrStoreWrite = errors.New("store write error")
	// ErrStoreUnavailable signals that the bulk write could not be performed at all.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ErrorKind names a failure class as it appears in logs, reports and dead letters.
type ErrorKind string

// Failure classes.
const (
	KindParse            ErrorKind = "ParseError"
	KindMalformedKey     ErrorKind = "MalformedKeyError"
	KindMissingField     ErrorKind = "MissingFieldError"
	KindStoreWrite       ErrorKind = "StoreWriteError"
	KindStoreUnavailable ErrorKind = "StoreUnavailableError"
	KindUnknown          ErrorKind = "UnknownError"
)

var kindSentinels = []struct {
	sentinel error
	kind     ErrorKind
}{
	{ErrParse, KindParse},
	{ErrMalformedKey, KindMalformedKey},
	{ErrMissingField, KindMissingField},
	{ErrStoreWrite, KindStoreWrite},
	{ErrStoreUnavailable, KindStoreUnavailable},
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.sentinel) {
			return ks.kind
		}
	}
	return KindUnknown
}

// RecordError carries the detail of a single record failure and unwraps to its sentinel.
type RecordError struct {
	Kind   error
	Detail string
}

func (e *RecordError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *RecordError) Unwrap() error { return e.Kind }

// NewParseError creates a ParseError with detail.
func NewParseError(format string, args ...any) error {
	return &RecordError{Kind: ErrParse, Detail: fmt.Sprintf(format, args...)}
}

// NewMalformedKeyError creates a MalformedKeyError for key.
func NewMalformedKeyError(key string) error {
	return &RecordError{Kind: ErrMalformedKey, Detail: fmt.Sprintf("key %q needs <category>/<id>", key)}
}

// NewMissingFieldError creates a MissingFieldError naming the absent field.
func NewMissingFieldError(field string) error {
	return &RecordError{Kind: ErrMissingField, Detail: field}
}

// NewStoreWriteError creates a StoreWriteError with the store's reason.
func NewStoreWriteError(reason string) error {
	return &RecordError{Kind: ErrStoreWrite, Detail: reason}
}
