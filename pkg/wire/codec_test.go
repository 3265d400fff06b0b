package wire

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

func TestKnownEncodings(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"string hello", Encode(String, "hello"), []byte{0x00, 0x00, 0x00, 0x05, 0x68, 0x65, 0x6C, 0x6C, 0x6F}},
		{"u8 sequence", Encode(Sequence(U8), []uint8{1, 2, 3}), []byte{0x00, 0x00, 0x00, 0x03, 0x01, 0x02, 0x03}},
		{"optional none", Encode(Optional(I32), None[int32]()), []byte{0x00}},
		{"optional some", Encode(Optional(I32), Some[int32](7)), []byte{0x01, 0x00, 0x00, 0x00, 0x07}},
		{"nullable some", Encode(NullableOf(I32), NullableValue[int32](7)), []byte{0x01, 0x00, 0x00, 0x00, 0x07}},
		{"empty string", Encode(String, ""), []byte{0x00, 0x00, 0x00, 0x00}},
		{"bool true", Encode(Bool, true), []byte{0x01}},
		{"i16 negative", Encode(I16, -2), []byte{0xFF, 0xFE}},
		{"u64", Encode(U64, 0x0102030405060708), []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"f32 one", Encode(F32, 1.0), []byte{0x3F, 0x80, 0x00, 0x00}},
		{"duration", Encode(Duration, 3*time.Second+5), []byte{0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func roundTrip[T any](t *testing.T, c Codec[T], v T, opts ...cmp.Option) {
	t.Helper()
	b := Encode(c, v)
	require.Equal(t, c.Size(v), len(b), "Size disagrees with Write for %s", c.Name())
	got, err := Decode(c, b)
	require.NoError(t, err)
	if diff := cmp.Diff(v, got, opts...); diff != "" {
		t.Errorf("%s round trip mismatch (-want +got):\n%s", c.Name(), diff)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Run("primitives", func(t *testing.T) {
		roundTrip(t, U8, math.MaxUint8)
		roundTrip(t, I8, math.MinInt8)
		roundTrip(t, U16, math.MaxUint16)
		roundTrip(t, I16, math.MinInt16)
		roundTrip(t, U32, math.MaxUint32)
		roundTrip(t, I32, math.MinInt32)
		roundTrip(t, U64, math.MaxUint64)
		roundTrip(t, I64, math.MinInt64)
		roundTrip(t, F32, float32(-1.5))
		roundTrip(t, F64, math.Inf(-1))
		roundTrip(t, Bool, false)
		roundTrip(t, Bool, true)
	})

	t.Run("strings", func(t *testing.T) {
		roundTrip(t, String, "")
		roundTrip(t, String, "héllo, 世界 🌍")
		roundTrip(t, Bytes, []byte{})
		roundTrip(t, Bytes, []byte{0, 0xFF, 0x10})
	})

	t.Run("compound", func(t *testing.T) {
		roundTrip(t, Sequence(String), []string{})
		roundTrip(t, Sequence(Sequence(U16)), [][]uint16{{1}, {}, {2, 3}})
		roundTrip(t, Map(String, I64), map[string]int64{})
		roundTrip(t, Map(String, I64), map[string]int64{"a": 1, "b": -2, "c": 3})
		roundTrip(t, OrderedMap(U8, String), []Entry[uint8, string]{{Key: 3, Value: "c"}, {Key: 1, Value: "a"}})
		roundTrip(t, Optional(String), None[string](), cmp.AllowUnexported(Option[string]{}))
		roundTrip(t, Optional(String), Some(""), cmp.AllowUnexported(Option[string]{}))
		roundTrip(t, Optional(Optional(U8)), Some(None[uint8]()),
			cmp.AllowUnexported(Option[Option[uint8]]{}, Option[uint8]{}))
		roundTrip(t, NullableOf(F64), Null[float64]())
		roundTrip(t, Sequence(NullableOf(Bool)), []Nullable[bool]{NullableValue(true), Null[bool]()})
	})

	t.Run("time", func(t *testing.T) {
		roundTrip(t, Timestamp, time.Unix(100, 100).UTC())
		roundTrip(t, Timestamp, time.Unix(-100, -100).UTC())
		roundTrip(t, Timestamp, time.Unix(0, 0).UTC())
		roundTrip(t, Duration, 0)
		roundTrip(t, Duration, 90*time.Minute+123)
	})
}

func TestTimestampPreEpochWire(t *testing.T) {
	b := Encode(Timestamp, time.Unix(-100, -100))
	r := NewReader(b)
	secs, err := r.ReadI64()
	require.NoError(t, err)
	nanos, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, int64(-100), secs)
	assert.Equal(t, uint32(100), nanos)
}

type color int

const (
	red color = iota
	green
	blue
)

func TestEnum(t *testing.T) {
	c := Enum("color", red, 3)

	assert.Equal(t, []byte{0, 0, 0, 1}, Encode(c, red))
	assert.Equal(t, []byte{0, 0, 0, 3}, Encode(c, blue))
	roundTrip(t, c, green)

	for _, idx := range []int32{0, 4, -1} {
		w := NewWriter(4)
		w.WriteI32(idx)
		_, err := Decode(c, w.Bytes())
		assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseDecode, Kind: ffierrors.KindInvalidEnum})
	}

	assert.Panics(t, func() { Encode(c, color(7)) })
}

func TestTruncationFailsAtEveryPrefix(t *testing.T) {
	check := func(name string, full []byte, decode func([]byte) error) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, decode(full))
			for i := 0; i < len(full); i++ {
				err := decode(full[:i])
				require.Error(t, err, "prefix of %d bytes", i)
				assert.ErrorIs(t, err, &ffierrors.Error{Phase: ffierrors.PhaseDecode, Kind: ffierrors.KindOutOfBounds})
			}
		})
	}

	check("string", Encode(String, "hello"), func(b []byte) error {
		_, err := Decode(String, b)
		return err
	})
	check("sequence", Encode(Sequence(I32), []int32{1, 2}), func(b []byte) error {
		_, err := Decode(Sequence(I32), b)
		return err
	})
	check("map", Encode(Map(String, U8), map[string]uint8{"k": 1}), func(b []byte) error {
		_, err := Decode(Map(String, U8), b)
		return err
	})
	check("optional", Encode(Optional(U64), Some[uint64](9)), func(b []byte) error {
		_, err := Decode(Optional(U64), b)
		return err
	})
	check("timestamp", Encode(Timestamp, time.Unix(5, 6)), func(b []byte) error {
		_, err := Decode(Timestamp, b)
		return err
	})
}

func TestDecodeErrors(t *testing.T) {
	kindOf := func(err error) ffierrors.Kind {
		var e *ffierrors.Error
		if errors.As(err, &e) {
			return e.Kind
		}
		return ""
	}

	tests := []struct {
		name   string
		decode func() error
		kind   ffierrors.Kind
	}{
		{"invalid optional tag", func() error {
			_, err := Decode(Optional(I32), []byte{0x02})
			return err
		}, ffierrors.KindInvalidTag},
		{"invalid nullable tag", func() error {
			_, err := Decode(NullableOf(I32), []byte{0xFF})
			return err
		}, ffierrors.KindInvalidTag},
		{"invalid bool", func() error {
			_, err := Decode(Bool, []byte{0x02})
			return err
		}, ffierrors.KindInvalidBool},
		{"negative string length", func() error {
			_, err := Decode(String, []byte{0xFF, 0xFF, 0xFF, 0xFF})
			return err
		}, ffierrors.KindInvalidLength},
		{"negative sequence count", func() error {
			_, err := Decode(Sequence(U8), []byte{0x80, 0, 0, 0})
			return err
		}, ffierrors.KindInvalidLength},
		{"invalid utf8", func() error {
			_, err := Decode(String, []byte{0, 0, 0, 2, 0xC3, 0x28})
			return err
		}, ffierrors.KindInvalidUTF8},
		{"trailing bytes", func() error {
			_, err := Decode(U8, []byte{1, 2})
			return err
		}, ffierrors.KindTrailingBytes},
		{"duplicate map key", func() error {
			_, err := Decode(Map(U8, U8), []byte{0, 0, 0, 2, 1, 10, 1, 11})
			return err
		}, ffierrors.KindDuplicateKey},
		{"duplicate ordered map key", func() error {
			_, err := Decode(OrderedMap(U8, U8), []byte{0, 0, 0, 2, 1, 10, 1, 11})
			return err
		}, ffierrors.KindDuplicateKey},
		{"nanos out of range", func() error {
			_, err := Decode(Duration, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x3B, 0x9A, 0xCA, 0x00})
			return err
		}, ffierrors.KindInvalidData},
		{"duration overflow", func() error {
			_, err := Decode(Duration, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0})
			return err
		}, ffierrors.KindOverflow},
		{"huge count with no data", func() error {
			_, err := Decode(Sequence(U8), []byte{0x7F, 0xFF, 0xFF, 0xFF})
			return err
		}, ffierrors.KindOutOfBounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			require.Error(t, err)
			assert.Equal(t, tt.kind, kindOf(err), "error: %v", err)
		})
	}
}

func TestErrorPathIsRecorded(t *testing.T) {
	c := Sequence(Map(String, Optional(U8)))
	b := []byte{
		0, 0, 0, 1, // one map
		0, 0, 0, 1, // one entry
		0, 0, 0, 1, 'k', // key
		0x05, // bad tag
	}
	_, err := Decode(c, b)

	var e *ffierrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"[0]", "[0]", "value"}, e.Path)
}

func TestNegativeDurationPanics(t *testing.T) {
	assert.Panics(t, func() { Encode(Duration, -time.Second) })
}

func TestInvalidUTF8StringPanics(t *testing.T) {
	defer func() {
		e, ok := recover().(*ffierrors.Error)
		require.True(t, ok)
		assert.Equal(t, ffierrors.PhaseEncode, e.Phase)
		assert.Equal(t, ffierrors.KindInvalidUTF8, e.Kind)
	}()
	Encode(String, "ok\xff")
}

func TestUTF16Text(t *testing.T) {
	u, err := ToUTF16("hé🌍")
	require.NoError(t, err)
	// h, é, surrogate pair
	assert.Len(t, u, 8)

	b := Encode(UTF16Text, u)
	assert.Equal(t, Encode(String, "hé🌍"), b, "prefix must be the UTF-8 length")

	got, err := Decode(UTF16Text, b)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.Equal(t, "hé🌍", got.String())
}

type point struct {
	X, Y int32
	Tag  string
}

var pointCodec = NewCodec("point",
	func(r *Reader) (point, error) {
		x, err := ReadField(r, I32, "x")
		if err != nil {
			return point{}, err
		}
		y, err := ReadField(r, I32, "y")
		if err != nil {
			return point{}, err
		}
		tag, err := ReadField(r, String, "tag")
		if err != nil {
			return point{}, err
		}
		return point{X: x, Y: y, Tag: tag}, nil
	},
	func(w *Writer, p point) {
		I32.Write(w, p.X)
		I32.Write(w, p.Y)
		String.Write(w, p.Tag)
	},
	func(p point) int { return 8 + String.Size(p.Tag) },
)

func TestRecordCodec(t *testing.T) {
	roundTrip(t, Sequence(pointCodec), []point{{1, -2, "a"}, {X: 3}})

	b := Encode(pointCodec, point{X: 1, Y: 2, Tag: "abc"})
	_, err := Decode(pointCodec, b[:10])
	var e *ffierrors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"tag"}, e.Path)
}

func FuzzStringSequence(f *testing.F) {
	f.Add("hello", "", uint8(3))
	f.Fuzz(func(t *testing.T, a, b string, n uint8) {
		c := Sequence(Optional(String))
		v := []Option[string]{Some(a), None[string](), Some(b)}
		for i := 0; i < int(n%4); i++ {
			v = append(v, Some(a))
		}
		got, err := Decode(c, Encode(c, v))
		if err != nil {
			// Go strings may carry invalid UTF-8; the decoder rejects them.
			return
		}
		require.Equal(t, v, got)
	})
}
