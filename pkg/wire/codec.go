package wire

import (
	"math"
	"strconv"
	"time"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// Codec reads, writes and sizes values of one Go type in the wire format.
// Codecs are stateless and safe to share between goroutines.
type Codec[T any] struct {
	name  string
	read  func(*Reader) (T, error)
	write func(*Writer, T)
	size  func(T) int
}

// NewCodec assembles a codec from its three operations. size must return the
// exact number of bytes write produces.
func NewCodec[T any](name string, read func(*Reader) (T, error), write func(*Writer, T), size func(T) int) Codec[T] {
	return Codec[T]{name: name, read: read, write: write, size: size}
}

// Name returns the wire type name used in error messages.
func (c Codec[T]) Name() string { return c.name }

// Read decodes one value.
func (c Codec[T]) Read(r *Reader) (T, error) { return c.read(r) }

// Write encodes one value.
func (c Codec[T]) Write(w *Writer, v T) { c.write(w, v) }

// Size returns the encoded size of v in bytes.
func (c Codec[T]) Size(v T) int { return c.size(v) }

func fixed[T any](n int) func(T) int {
	return func(T) int { return n }
}

var (
	U8  = NewCodec("u8", (*Reader).ReadU8, (*Writer).WriteU8, fixed[uint8](1))
	I8  = NewCodec("i8", (*Reader).ReadI8, (*Writer).WriteI8, fixed[int8](1))
	U16 = NewCodec("u16", (*Reader).ReadU16, (*Writer).WriteU16, fixed[uint16](2))
	I16 = NewCodec("i16", (*Reader).ReadI16, (*Writer).WriteI16, fixed[int16](2))
	U32 = NewCodec("u32", (*Reader).ReadU32, (*Writer).WriteU32, fixed[uint32](4))
	I32 = NewCodec("i32", (*Reader).ReadI32, (*Writer).WriteI32, fixed[int32](4))
	U64 = NewCodec("u64", (*Reader).ReadU64, (*Writer).WriteU64, fixed[uint64](8))
	I64 = NewCodec("i64", (*Reader).ReadI64, (*Writer).WriteI64, fixed[int64](8))
	F32 = NewCodec("f32", (*Reader).ReadF32, (*Writer).WriteF32, fixed[float32](4))
	F64 = NewCodec("f64", (*Reader).ReadF64, (*Writer).WriteF64, fixed[float64](8))

	Bool = NewCodec("bool", (*Reader).ReadBool, (*Writer).WriteBool, fixed[bool](1))

	String = NewCodec("string", (*Reader).ReadString, (*Writer).WriteString,
		func(s string) int { return 4 + len(s) })

	Bytes = NewCodec("bytes", (*Reader).ReadBytes, (*Writer).WriteBytes,
		func(b []byte) int { return 4 + len(b) })

	Timestamp = NewCodec("timestamp", readTimestamp, writeTimestamp, fixed[time.Time](12))

	Duration = NewCodec("duration", readDuration, writeDuration, fixed[time.Duration](12))
)

const maxNanos = 999_999_999

func readNanos(r *Reader, wireType string) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > maxNanos {
		return 0, ffierrors.New(ffierrors.PhaseDecode, ffierrors.KindInvalidData).
			WireType(wireType).
			Value(n).
			Detail("nanoseconds %d exceed %d", n, maxNanos).
			Build()
	}
	return n, nil
}

// Timestamps are the magnitude of the offset from the Unix epoch; the sign of
// the seconds field gives the direction.
func writeTimestamp(w *Writer, t time.Time) {
	secs := t.Unix()
	nanos := t.Nanosecond()
	if secs < 0 && nanos > 0 {
		// time.Time floors toward negative infinity; the wire carries the magnitude.
		secs++
		nanos = 1_000_000_000 - nanos
	}
	w.WriteI64(secs)
	w.WriteU32(uint32(nanos))
}

func readTimestamp(r *Reader) (time.Time, error) {
	secs, err := r.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := readNanos(r, "timestamp")
	if err != nil {
		return time.Time{}, err
	}
	if secs >= 0 {
		return time.Unix(secs, int64(nanos)), nil
	}
	if secs == math.MinInt64 {
		return time.Time{}, ffierrors.Overflow(ffierrors.PhaseDecode, secs, "timestamp")
	}
	return time.Unix(secs, -int64(nanos)), nil
}

// Negative durations have no wire representation and panic.
func writeDuration(w *Writer, d time.Duration) {
	if d < 0 {
		panic(ffierrors.Overflow(ffierrors.PhaseEncode, d, "duration"))
	}
	w.WriteU64(uint64(d / time.Second))
	w.WriteU32(uint32(d % time.Second))
}

func readDuration(r *Reader) (time.Duration, error) {
	secs, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	nanos, err := readNanos(r, "duration")
	if err != nil {
		return 0, err
	}
	if secs > uint64(math.MaxInt64/int64(time.Second)) {
		return 0, ffierrors.Overflow(ffierrors.PhaseDecode, secs, "time.Duration")
	}
	d := time.Duration(secs) * time.Second
	if d > math.MaxInt64-time.Duration(nanos) {
		return 0, ffierrors.Overflow(ffierrors.PhaseDecode, secs, "time.Duration")
	}
	return d + time.Duration(nanos), nil
}

// Enum encodes a Go integer enum as its 1-based i32 variant index. Variants
// are numbered from first; count is the number of variants.
func Enum[E ~int | ~int32 | ~uint8 | ~uint16 | ~uint32](name string, first E, count int) Codec[E] {
	return NewCodec(name,
		func(r *Reader) (E, error) {
			idx, err := r.ReadI32()
			if err != nil {
				var zero E
				return zero, err
			}
			if idx < 1 || int(idx) > count {
				var zero E
				return zero, ffierrors.InvalidEnum(ffierrors.PhaseDecode, idx, name)
			}
			return first + E(idx-1), nil
		},
		func(w *Writer, v E) {
			idx := int(v-first) + 1
			if idx < 1 || idx > count {
				panic(ffierrors.InvalidEnum(ffierrors.PhaseEncode, v, name))
			}
			w.WriteI32(int32(idx))
		},
		fixed[E](4),
	)
}

// Sequence encodes a slice as an i32 element count followed by the elements.
func Sequence[T any](elem Codec[T]) Codec[[]T] {
	name := "sequence<" + elem.name + ">"
	return NewCodec(name,
		func(r *Reader) ([]T, error) {
			n, err := r.ReadLength(name)
			if err != nil {
				return nil, err
			}
			// Each element occupies at least one byte, except for zero-size codecs,
			// so cap the preallocation by what the reader can hold.
			out := make([]T, 0, min(n, r.Remaining()))
			for i := 0; i < n; i++ {
				v, err := elem.read(r)
				if err != nil {
					return nil, ffierrors.WithPath(err, indexPath(i))
				}
				out = append(out, v)
			}
			return out, nil
		},
		func(w *Writer, vs []T) {
			w.WriteLength(len(vs))
			for _, v := range vs {
				elem.write(w, v)
			}
		},
		func(vs []T) int {
			n := 4
			for _, v := range vs {
				n += elem.size(v)
			}
			return n
		},
	)
}

// Entry is one key/value pair of an ordered map.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Map encodes a Go map as an i32 entry count followed by key/value pairs.
// Go map iteration order is unspecified, so the byte image of a map with more
// than one entry is not deterministic; use OrderedMap when it must be.
func Map[K comparable, V any](key Codec[K], value Codec[V]) Codec[map[K]V] {
	name := "map<" + key.name + ", " + value.name + ">"
	return NewCodec(name,
		func(r *Reader) (map[K]V, error) {
			n, err := r.ReadLength(name)
			if err != nil {
				return nil, err
			}
			out := make(map[K]V, min(n, r.Remaining()))
			for i := 0; i < n; i++ {
				k, v, err := readEntry(r, key, value, i)
				if err != nil {
					return nil, err
				}
				if _, dup := out[k]; dup {
					return nil, duplicateKey(name, k)
				}
				out[k] = v
			}
			return out, nil
		},
		func(w *Writer, m map[K]V) {
			w.WriteLength(len(m))
			for k, v := range m {
				key.write(w, k)
				value.write(w, v)
			}
		},
		func(m map[K]V) int {
			n := 4
			for k, v := range m {
				n += key.size(k) + value.size(v)
			}
			return n
		},
	)
}

// OrderedMap is Map with the entry order preserved in both directions.
func OrderedMap[K comparable, V any](key Codec[K], value Codec[V]) Codec[[]Entry[K, V]] {
	name := "map<" + key.name + ", " + value.name + ">"
	return NewCodec(name,
		func(r *Reader) ([]Entry[K, V], error) {
			n, err := r.ReadLength(name)
			if err != nil {
				return nil, err
			}
			seen := make(map[K]struct{}, min(n, r.Remaining()))
			out := make([]Entry[K, V], 0, min(n, r.Remaining()))
			for i := 0; i < n; i++ {
				k, v, err := readEntry(r, key, value, i)
				if err != nil {
					return nil, err
				}
				if _, dup := seen[k]; dup {
					return nil, duplicateKey(name, k)
				}
				seen[k] = struct{}{}
				out = append(out, Entry[K, V]{Key: k, Value: v})
			}
			return out, nil
		},
		func(w *Writer, es []Entry[K, V]) {
			w.WriteLength(len(es))
			for _, e := range es {
				key.write(w, e.Key)
				value.write(w, e.Value)
			}
		},
		func(es []Entry[K, V]) int {
			n := 4
			for _, e := range es {
				n += key.size(e.Key) + value.size(e.Value)
			}
			return n
		},
	)
}

func readEntry[K comparable, V any](r *Reader, key Codec[K], value Codec[V], i int) (K, V, error) {
	var (
		zk K
		zv V
	)
	k, err := key.read(r)
	if err != nil {
		return zk, zv, ffierrors.WithPath(ffierrors.WithPath(err, "key"), indexPath(i))
	}
	v, err := value.read(r)
	if err != nil {
		return zk, zv, ffierrors.WithPath(ffierrors.WithPath(err, "value"), indexPath(i))
	}
	return k, v, nil
}

func duplicateKey(name string, k any) error {
	return ffierrors.New(ffierrors.PhaseDecode, ffierrors.KindDuplicateKey).
		WireType(name).
		Value(k).
		Detail("duplicate key %v", k).
		Build()
}

func indexPath(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

// Encode serializes v into a new slice sized exactly by c.Size.
func Encode[T any](c Codec[T], v T) []byte {
	w := NewWriter(c.Size(v))
	c.Write(w, v)
	return w.Bytes()
}

// Decode deserializes one value from b and requires every byte to be consumed.
func Decode[T any](c Codec[T], b []byte) (T, error) {
	r := NewReader(b)
	v, err := c.Read(r)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.Finish(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
