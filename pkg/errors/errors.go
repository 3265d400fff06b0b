package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode Phase = "encode" // Go value to wire bytes
	PhaseDecode Phase = "decode" // wire bytes to Go value
	PhaseLower  Phase = "lower"  // Go value to FFI value
	PhaseLift   Phase = "lift"   // FFI value to Go value
	PhaseAlloc  Phase = "alloc"  // buffer lifecycle
	PhaseLayout Phase = "layout" // C struct marshalling
	PhaseCall   Phase = "call"   // call status protocol
	PhaseParse  Phase = "parse"  // type expression parsing
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds   Kind = "out_of_bounds"
	KindInvalidTag    Kind = "invalid_tag"
	KindInvalidBool   Kind = "invalid_bool"
	KindInvalidUTF8   Kind = "invalid_utf8"
	KindInvalidLength Kind = "invalid_length"
	KindInvalidEnum   Kind = "invalid_enum"
	KindInvalidData   Kind = "invalid_data"
	KindOverflow      Kind = "overflow"
	KindTrailingBytes Kind = "trailing_bytes"
	KindDuplicateKey  Kind = "duplicate_key"
	KindAllocation    Kind = "allocation"
	KindUnknownBuffer Kind = "unknown_buffer"
	KindTypeMismatch  Kind = "type_mismatch"
	KindStatusCode    Kind = "status_code"
	KindSyntax        Kind = "syntax"
)

// Error is the structured error type used by the codec and buffer layers.
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WireType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WireType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.WireType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wire type ")
			b.WriteString(e.WireType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("wire type ")
			b.WriteString(e.WireType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WireType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WireType sets the wire type name
func (b *Builder) WireType(t string) *Builder {
	b.err.WireType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfBounds reports a read of want bytes at offset when only have remain.
func OutOfBounds(phase Phase, offset, want, have int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("need %d bytes at offset %d, %d remaining", want, offset, have),
		Value:  offset,
	}
}

// InvalidTag reports a presence tag that is neither 0 nor 1.
func InvalidTag(phase Phase, wireType string, tag uint8) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidTag,
		WireType: wireType,
		Detail:   fmt.Sprintf("unexpected tag byte %d; should be 0 or 1", tag),
		Value:    tag,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// InvalidLength reports a negative length or count prefix.
func InvalidLength(phase Phase, wireType string, length int32) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidLength,
		WireType: wireType,
		Detail:   fmt.Sprintf("negative length prefix %d", length),
		Value:    length,
	}
}

// InvalidEnum creates an invalid enum value error
func InvalidEnum(phase Phase, value any, enumType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidEnum,
		WireType: enumType,
		Detail:   fmt.Sprintf("invalid enum value %v for %s", value, enumType),
		Value:    value,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, value any, target string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindOverflow,
		WireType: target,
		Detail:   fmt.Sprintf("value %v overflows %s", value, target),
		Value:    value,
	}
}

// TrailingBytes reports unread bytes after a value was fully decoded.
func TrailingBytes(phase Phase, remaining int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTrailingBytes,
		Detail: fmt.Sprintf("%d unread bytes after lifting the containing value", remaining),
		Value:  remaining,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(capacity int64, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", capacity),
		Value:  capacity,
		Cause:  cause,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, wireType string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Path:     path,
		GoType:   goType,
		WireType: wireType,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// WithPath returns a copy of err with elem prepended to its path. Errors that
// are not *Error are returned unchanged.
func WithPath(err error, elem string) error {
	e, ok := err.(*Error)
	if !ok {
		return err
	}
	cp := *e
	cp.Path = append([]string{elem}, e.Path...)
	return &cp
}
