package media

import (
	"errors"
	"fmt"
	"os"
)

// ErrorKind is the closed taxonomy every pipeline stage reports through.
// No stage introduces kinds outside this set; stage-specific detail goes
// in the message.
type ErrorKind int

const (
	KindIO ErrorKind = iota + 1
	KindCodec
	KindInvalidData
	KindUnsupportedFormat
	KindEOF
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCodec:
		return "codec"
	case KindInvalidData:
		return "invalid data"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindEOF:
		return "eof"
	default:
		return "unknown"
	}
}

// Error is the pipeline error type. Kind is always set; Err wraps an
// underlying cause when one exists.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIO:
		if e.Err != nil && e.Message == "" {
			return fmt.Sprintf("I/O error: %v", e.Err)
		}
		return fmt.Sprintf("I/O error: %s", e.Message)
	case KindCodec:
		return fmt.Sprintf("codec error: %s", e.Message)
	case KindInvalidData:
		return fmt.Sprintf("invalid data: %s", e.Message)
	case KindUnsupportedFormat:
		return fmt.Sprintf("unsupported format: %s", e.Message)
	case KindEOF:
		return "end of stream"
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every KindEOF error match EOF under errors.Is, so callers can
// test for end of stream without caring which stage produced it.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// EOF is the sentinel for end of stream. It is control flow, not failure:
// a Source returns it from NextPacket when the container is exhausted, and
// the orchestrator responds by flushing downstream stages.
var EOF = &Error{Kind: KindEOF}

// ErrOutOfRange is wrapped by seek errors for positions past the end of
// stream, so callers can distinguish them with errors.Is.
var ErrOutOfRange = errors.New("position out of range")

// IOErr wraps an underlying I/O failure.
func IOErr(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Err: err}
}

// Codecf builds a codec (decode/encode) failure.
func Codecf(format string, args ...any) error {
	return &Error{Kind: KindCodec, Message: fmt.Sprintf(format, args...)}
}

// InvalidDataf builds a malformed-input failure.
func InvalidDataf(format string, args ...any) error {
	return &Error{Kind: KindInvalidData, Message: fmt.Sprintf(format, args...)}
}

// Unsupportedf builds a valid-but-not-handled failure.
func Unsupportedf(format string, args ...any) error {
	return &Error{Kind: KindUnsupportedFormat, Message: fmt.Sprintf(format, args...)}
}

// Closed builds the closed-resource error returned by operations on a
// finished sink or closed source. It wraps os.ErrClosed.
func Closed(resource string) error {
	return &Error{Kind: KindIO, Message: resource + " is closed", Err: os.ErrClosed}
}

// OutOfRange builds the error for seeks past the end of stream. It wraps
// ErrOutOfRange inside an invalid-data kind; the taxonomy stays closed.
func OutOfRange(format string, args ...any) error {
	return &Error{Kind: KindInvalidData, Message: fmt.Sprintf(format, args...), Err: ErrOutOfRange}
}

// KindOf extracts the taxonomy kind from an error chain, or 0 if the error
// did not originate in the pipeline.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsEOF reports whether err is the end-of-stream sentinel.
func IsEOF(err error) bool {
	return errors.Is(err, EOF)
}
