package codec

import (
	"errors"
	"strings"
)

var (
	ErrUnsupported = errors.New("unsupported value")
	ErrTooDeep     = errors.New("value nested too deeply")
	ErrTooLong     = errors.New("value too long")
	ErrTruncated   = errors.New("truncated input")
	ErrUnknownTag  = errors.New("unknown tag")
	ErrUnknownID   = errors.New("unknown string id")
	ErrTrailing    = errors.New("trailing bytes")
)

// Error reports where in a value encoding or decoding failed.
type Error struct {
	Op     string // "encode" or "decode"
	Path   []string
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying sentinel
func (e *Error) Unwrap() error {
	return e.Err
}

func pathError(op string, path []string, err error, detail string) *Error {
	return &Error{
		Op:     op,
		Path:   append([]string(nil), path...),
		Detail: detail,
		Err:    err,
	}
}
