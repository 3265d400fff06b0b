package wire

import ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"

// Option is a value that may be absent.
type Option[T any] struct {
	value T
	some  bool
}

// Some wraps a present value.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, some: true}
}

// None returns an absent value.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.some
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool {
	return o.some
}

// OrElse returns the value, or def when absent.
func (o Option[T]) OrElse(def T) T {
	if o.some {
		return o.value
	}
	return def
}

// Nullable is a nullable value from a host with a native null, such as a
// boxed primitive. It shares Option's wire image but is a separate type so the
// two cannot be confused at a field boundary.
type Nullable[T any] struct {
	Value T
	Valid bool
}

// Null returns the null value.
func Null[T any]() Nullable[T] {
	return Nullable[T]{}
}

// NullableValue wraps a non-null value.
func NullableValue[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true}
}

// Optional encodes Option[T] as a tag byte followed by the value when present.
func Optional[T any](c Codec[T]) Codec[Option[T]] {
	name := "optional<" + c.name + ">"
	return NewCodec(name,
		func(r *Reader) (Option[T], error) {
			v, ok, err := readTagged(r, c, name)
			if err != nil || !ok {
				return None[T](), err
			}
			return Some(v), nil
		},
		func(w *Writer, o Option[T]) {
			writeTagged(w, c, o.value, o.some)
		},
		func(o Option[T]) int {
			return sizeTagged(c, o.value, o.some)
		},
	)
}

// NullableOf encodes Nullable[T] with the same tag protocol as Optional.
func NullableOf[T any](c Codec[T]) Codec[Nullable[T]] {
	name := "nullable<" + c.name + ">"
	return NewCodec(name,
		func(r *Reader) (Nullable[T], error) {
			v, ok, err := readTagged(r, c, name)
			if err != nil || !ok {
				return Null[T](), err
			}
			return NullableValue(v), nil
		},
		func(w *Writer, n Nullable[T]) {
			writeTagged(w, c, n.Value, n.Valid)
		},
		func(n Nullable[T]) int {
			return sizeTagged(c, n.Value, n.Valid)
		},
	)
}

func readTagged[T any](r *Reader, c Codec[T], name string) (T, bool, error) {
	var zero T
	present, err := r.ReadTag(name)
	if err != nil || !present {
		return zero, false, err
	}
	v, err := c.read(r)
	if err != nil {
		return zero, false, ffierrors.WithPath(err, "some")
	}
	return v, true, nil
}

func writeTagged[T any](w *Writer, c Codec[T], v T, present bool) {
	w.WriteTag(present)
	if present {
		c.write(w, v)
	}
}

func sizeTagged[T any](c Codec[T], v T, present bool) int {
	if present {
		return 1 + c.size(v)
	}
	return 1
}
