package typedesc

import (
	"fmt"
	"time"
	"unicode/utf8"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
	"github.com/woxQAQ/unified-ffi/pkg/wire"
)

// Entry is one pair of a dynamic map value. Maps are held as ordered entry
// slices so that encoding is deterministic.
type Entry = wire.Entry[any, any]

// Dynamic values by kind:
//
//	u8..f64, bool  uint8..float64, bool
//	string         string
//	bytes          []byte
//	timestamp      time.Time
//	duration       time.Duration
//	optional       nil or the element value; never directly nested
//	sequence       []any
//	map            []Entry
//	record         map[string]any keyed by field name
//	enum           string variant name

// ops is the per-kind dispatch entry. size validates the value; write may
// assume size succeeded on the same value.
type ops struct {
	read  func(t *Type, r *wire.Reader) (any, error)
	write func(t *Type, w *wire.Writer, v any)
	size  func(t *Type, v any) (int, error)
}

var table [numKinds]ops

func init() {
	table[KindU8] = codecOps(wire.U8)
	table[KindI8] = codecOps(wire.I8)
	table[KindU16] = codecOps(wire.U16)
	table[KindI16] = codecOps(wire.I16)
	table[KindU32] = codecOps(wire.U32)
	table[KindI32] = codecOps(wire.I32)
	table[KindU64] = codecOps(wire.U64)
	table[KindI64] = codecOps(wire.I64)
	table[KindF32] = codecOps(wire.F32)
	table[KindF64] = codecOps(wire.F64)
	table[KindBool] = codecOps(wire.Bool)
	table[KindString] = codecOps(wire.String)
	table[KindBytes] = codecOps(wire.Bytes)
	table[KindTimestamp] = codecOps(wire.Timestamp)
	table[KindDuration] = codecOps(wire.Duration)
	table[KindOptional] = ops{readOptional, writeOptional, sizeOptional}
	table[KindSequence] = ops{readSequence, writeSequence, sizeSequence}
	table[KindMap] = ops{readMap, writeMap, sizeMap}
	table[KindRecord] = ops{readRecord, writeRecord, sizeRecord}
	table[KindEnum] = ops{readEnum, writeEnum, sizeEnum}
}

// Read decodes one value of type t.
func (t *Type) Read(r *wire.Reader) (any, error) {
	return table[t.Kind].read(t, r)
}

// Size validates v against t and returns its encoded size.
func (t *Type) Size(v any) (int, error) {
	return table[t.Kind].size(t, v)
}

// Write validates v against t and encodes it. Nothing is written when v does
// not match.
func (t *Type) Write(w *wire.Writer, v any) error {
	if _, err := t.Size(v); err != nil {
		return err
	}
	table[t.Kind].write(t, w, v)
	return nil
}

// Encode serializes v into a new slice.
func (t *Type) Encode(v any) ([]byte, error) {
	n, err := t.Size(v)
	if err != nil {
		return nil, err
	}
	w := wire.NewWriter(n)
	table[t.Kind].write(t, w, v)
	return w.Bytes(), nil
}

// Decode deserializes one value and requires every byte to be consumed.
func (t *Type) Decode(b []byte) (any, error) {
	r := wire.NewReader(b)
	v, err := t.Read(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}

func mismatch(t *Type, v any) error {
	return ffierrors.TypeMismatch(ffierrors.PhaseEncode, nil, fmt.Sprintf("%T", v), t.String())
}

func codecOps[T any](c wire.Codec[T]) ops {
	return ops{
		read: func(_ *Type, r *wire.Reader) (any, error) {
			return c.Read(r)
		},
		write: func(_ *Type, w *wire.Writer, v any) {
			c.Write(w, v.(T))
		},
		size: func(t *Type, v any) (int, error) {
			tv, ok := v.(T)
			if !ok {
				return 0, mismatch(t, v)
			}
			if d, ok := v.(time.Duration); ok && d < 0 {
				return 0, ffierrors.Overflow(ffierrors.PhaseEncode, d, "duration")
			}
			if s, ok := v.(string); ok && !utf8.ValidString(s) {
				return 0, ffierrors.InvalidUTF8(ffierrors.PhaseEncode, []byte(s))
			}
			return c.Size(tv), nil
		},
	}
}

// nestedOptional rejects optional<optional<T>> built by hand: nil cannot
// tell Some(None) from None.
func nestedOptional(phase ffierrors.Phase, t *Type) error {
	if t.Elem.Kind != KindOptional {
		return nil
	}
	return ffierrors.New(phase, ffierrors.KindTypeMismatch).
		WireType(t.String()).
		Detail("optional directly inside optional is not representable").
		Build()
}

func readOptional(t *Type, r *wire.Reader) (any, error) {
	if err := nestedOptional(ffierrors.PhaseDecode, t); err != nil {
		return nil, err
	}
	present, err := r.ReadTag(t.String())
	if err != nil || !present {
		return nil, err
	}
	v, err := t.Elem.Read(r)
	if err != nil {
		return nil, ffierrors.WithPath(err, "some")
	}
	return v, nil
}

func writeOptional(t *Type, w *wire.Writer, v any) {
	w.WriteTag(v != nil)
	if v != nil {
		table[t.Elem.Kind].write(t.Elem, w, v)
	}
}

func sizeOptional(t *Type, v any) (int, error) {
	if err := nestedOptional(ffierrors.PhaseEncode, t); err != nil {
		return 0, err
	}
	if v == nil {
		return 1, nil
	}
	n, err := t.Elem.Size(v)
	if err != nil {
		return 0, ffierrors.WithPath(err, "some")
	}
	return 1 + n, nil
}

func readSequence(t *Type, r *wire.Reader) (any, error) {
	n, err := r.ReadLength(t.String())
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		v, err := t.Elem.Read(r)
		if err != nil {
			return nil, ffierrors.WithPath(err, fmt.Sprintf("[%d]", i))
		}
		out = append(out, v)
	}
	return out, nil
}

func writeSequence(t *Type, w *wire.Writer, v any) {
	vs := v.([]any)
	w.WriteLength(len(vs))
	for _, e := range vs {
		table[t.Elem.Kind].write(t.Elem, w, e)
	}
}

func sizeSequence(t *Type, v any) (int, error) {
	vs, ok := v.([]any)
	if !ok {
		return 0, mismatch(t, v)
	}
	n := 4
	for i, e := range vs {
		s, err := t.Elem.Size(e)
		if err != nil {
			return 0, ffierrors.WithPath(err, fmt.Sprintf("[%d]", i))
		}
		n += s
	}
	return n, nil
}

func readMap(t *Type, r *wire.Reader) (any, error) {
	n, err := r.ReadLength(t.String())
	if err != nil {
		return nil, err
	}
	seen := make(map[any]struct{}, min(n, r.Remaining()))
	out := make([]Entry, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		k, err := t.Key.Read(r)
		if err != nil {
			return nil, ffierrors.WithPath(ffierrors.WithPath(err, "key"), fmt.Sprintf("[%d]", i))
		}
		v, err := t.Elem.Read(r)
		if err != nil {
			return nil, ffierrors.WithPath(ffierrors.WithPath(err, "value"), fmt.Sprintf("[%d]", i))
		}
		if _, dup := seen[k]; dup {
			return nil, duplicateKey(ffierrors.PhaseDecode, t, k)
		}
		seen[k] = struct{}{}
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

func writeMap(t *Type, w *wire.Writer, v any) {
	es := v.([]Entry)
	w.WriteLength(len(es))
	for _, e := range es {
		table[t.Key.Kind].write(t.Key, w, e.Key)
		table[t.Elem.Kind].write(t.Elem, w, e.Value)
	}
}

func sizeMap(t *Type, v any) (int, error) {
	es, ok := v.([]Entry)
	if !ok {
		return 0, mismatch(t, v)
	}
	seen := make(map[any]struct{}, len(es))
	n := 4
	for i, e := range es {
		ks, err := t.Key.Size(e.Key)
		if err != nil {
			return 0, ffierrors.WithPath(ffierrors.WithPath(err, "key"), fmt.Sprintf("[%d]", i))
		}
		vs, err := t.Elem.Size(e.Value)
		if err != nil {
			return 0, ffierrors.WithPath(ffierrors.WithPath(err, "value"), fmt.Sprintf("[%d]", i))
		}
		if _, dup := seen[e.Key]; dup {
			return 0, duplicateKey(ffierrors.PhaseEncode, t, e.Key)
		}
		seen[e.Key] = struct{}{}
		n += ks + vs
	}
	return n, nil
}

func duplicateKey(phase ffierrors.Phase, t *Type, k any) error {
	return ffierrors.New(phase, ffierrors.KindDuplicateKey).
		WireType(t.String()).
		Value(k).
		Detail("duplicate key %v", k).
		Build()
}

func readRecord(t *Type, r *wire.Reader) (any, error) {
	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		v, err := f.Type.Read(r)
		if err != nil {
			return nil, ffierrors.WithPath(err, f.Name)
		}
		out[f.Name] = v
	}
	return out, nil
}

func writeRecord(t *Type, w *wire.Writer, v any) {
	m := v.(map[string]any)
	for _, f := range t.Fields {
		table[f.Type.Kind].write(f.Type, w, m[f.Name])
	}
}

func sizeRecord(t *Type, v any) (int, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, mismatch(t, v)
	}
	n := 0
	for _, f := range t.Fields {
		fv, present := m[f.Name]
		if !present && f.Type.Kind != KindOptional {
			return 0, ffierrors.New(ffierrors.PhaseEncode, ffierrors.KindInvalidData).
				Path(f.Name).
				WireType(t.String()).
				Detail("missing field %q", f.Name).
				Build()
		}
		s, err := f.Type.Size(fv)
		if err != nil {
			return 0, ffierrors.WithPath(err, f.Name)
		}
		n += s
	}
	if len(m) > len(t.Fields) {
		for name := range m {
			if t.field(name) == nil {
				return 0, ffierrors.New(ffierrors.PhaseEncode, ffierrors.KindInvalidData).
					WireType(t.String()).
					Detail("unknown field %q", name).
					Build()
			}
		}
	}
	return n, nil
}

func (t *Type) field(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

func readEnum(t *Type, r *wire.Reader) (any, error) {
	idx, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if idx < 1 || int(idx) > len(t.Variants) {
		return nil, ffierrors.InvalidEnum(ffierrors.PhaseDecode, idx, t.String())
	}
	return t.Variants[idx-1], nil
}

func writeEnum(t *Type, w *wire.Writer, v any) {
	w.WriteI32(int32(t.variantIndex(v.(string))))
}

func sizeEnum(t *Type, v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, mismatch(t, v)
	}
	if t.variantIndex(s) == 0 {
		return 0, ffierrors.InvalidEnum(ffierrors.PhaseEncode, s, t.String())
	}
	return 4, nil
}

// variantIndex returns the 1-based index of name, or 0.
func (t *Type) variantIndex(name string) int {
	for i, v := range t.Variants {
		if v == name {
			return i + 1
		}
	}
	return 0
}
