package typedesc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// FromJSON converts a JSON document into a dynamic value of type t.
//
// Integers and floats are JSON numbers, bytes are base64 strings, timestamps
// are RFC 3339 strings, durations use time.ParseDuration syntax, enums are
// variant names and optionals are null when absent. Maps are either an array
// of {"key": K, "value": V} objects or, for string keys, a JSON object.
func (t *Type) FromJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, ffierrors.Wrap(ffierrors.PhaseParse, ffierrors.KindSyntax, err, "invalid JSON")
	}
	if dec.More() {
		return nil, ffierrors.InvalidData(ffierrors.PhaseParse, "trailing data after JSON value")
	}
	return t.fromJSON(raw)
}

func (t *Type) jsonMismatch(raw any) error {
	return ffierrors.TypeMismatch(ffierrors.PhaseParse, nil, fmt.Sprintf("JSON %T", raw), t.String())
}

func (t *Type) fromJSON(raw any) (any, error) {
	switch t.Kind {
	case KindU8, KindU16, KindU32, KindU64:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		bits := map[Kind]int{KindU8: 8, KindU16: 16, KindU32: 32, KindU64: 64}[t.Kind]
		u, err := strconv.ParseUint(n.String(), 10, bits)
		if err != nil {
			return nil, ffierrors.New(ffierrors.PhaseParse, ffierrors.KindOverflow).
				WireType(t.String()).Value(n.String()).Cause(err).Build()
		}
		switch t.Kind {
		case KindU8:
			return uint8(u), nil
		case KindU16:
			return uint16(u), nil
		case KindU32:
			return uint32(u), nil
		}
		return u, nil

	case KindI8, KindI16, KindI32, KindI64:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		bits := map[Kind]int{KindI8: 8, KindI16: 16, KindI32: 32, KindI64: 64}[t.Kind]
		i, err := strconv.ParseInt(n.String(), 10, bits)
		if err != nil {
			return nil, ffierrors.New(ffierrors.PhaseParse, ffierrors.KindOverflow).
				WireType(t.String()).Value(n.String()).Cause(err).Build()
		}
		switch t.Kind {
		case KindI8:
			return int8(i), nil
		case KindI16:
			return int16(i), nil
		case KindI32:
			return int32(i), nil
		}
		return i, nil

	case KindF32, KindF64:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, ffierrors.Wrap(ffierrors.PhaseParse, ffierrors.KindInvalidData, err, "invalid float")
		}
		if t.Kind == KindF32 {
			if math.Abs(f) > math.MaxFloat32 {
				return nil, ffierrors.Overflow(ffierrors.PhaseParse, f, "f32")
			}
			return float32(f), nil
		}
		return f, nil

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		return b, nil

	case KindString, KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		if t.Kind == KindEnum && t.variantIndex(s) == 0 {
			return nil, ffierrors.InvalidEnum(ffierrors.PhaseParse, s, t.String())
		}
		return s, nil

	case KindBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, ffierrors.Wrap(ffierrors.PhaseParse, ffierrors.KindInvalidData, err, "invalid base64")
		}
		return b, nil

	case KindTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, ffierrors.Wrap(ffierrors.PhaseParse, ffierrors.KindInvalidData, err, "invalid timestamp")
		}
		return ts, nil

	case KindDuration:
		s, ok := raw.(string)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, ffierrors.Wrap(ffierrors.PhaseParse, ffierrors.KindInvalidData, err, "invalid duration")
		}
		return d, nil

	case KindOptional:
		if raw == nil {
			return nil, nil
		}
		v, err := t.Elem.fromJSON(raw)
		return v, ffierrors.WithPath(err, "some")

	case KindSequence:
		arr, ok := raw.([]any)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		out := make([]any, len(arr))
		for i, e := range arr {
			v, err := t.Elem.fromJSON(e)
			if err != nil {
				return nil, ffierrors.WithPath(err, fmt.Sprintf("[%d]", i))
			}
			out[i] = v
		}
		return out, nil

	case KindMap:
		return t.mapFromJSON(raw)

	case KindRecord:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, t.jsonMismatch(raw)
		}
		out := make(map[string]any, len(obj))
		for name, e := range obj {
			f := t.field(name)
			if f == nil {
				return nil, ffierrors.New(ffierrors.PhaseParse, ffierrors.KindInvalidData).
					WireType(t.String()).
					Detail("unknown field %q", name).
					Build()
			}
			v, err := f.Type.fromJSON(e)
			if err != nil {
				return nil, ffierrors.WithPath(err, name)
			}
			out[name] = v
		}
		return out, nil
	}
	return nil, t.jsonMismatch(raw)
}

func (t *Type) mapFromJSON(raw any) (any, error) {
	switch m := raw.(type) {
	case map[string]any:
		if t.Key.Kind != KindString {
			return nil, t.jsonMismatch(raw)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Entry, 0, len(m))
		for _, k := range keys {
			v, err := t.Elem.fromJSON(m[k])
			if err != nil {
				return nil, ffierrors.WithPath(err, k)
			}
			out = append(out, Entry{Key: k, Value: v})
		}
		return out, nil

	case []any:
		out := make([]Entry, 0, len(m))
		for i, e := range m {
			pair, ok := e.(map[string]any)
			if !ok {
				return nil, ffierrors.WithPath(t.jsonMismatch(e), fmt.Sprintf("[%d]", i))
			}
			k, err := t.Key.fromJSON(pair["key"])
			if err != nil {
				return nil, ffierrors.WithPath(ffierrors.WithPath(err, "key"), fmt.Sprintf("[%d]", i))
			}
			v, err := t.Elem.fromJSON(pair["value"])
			if err != nil {
				return nil, ffierrors.WithPath(ffierrors.WithPath(err, "value"), fmt.Sprintf("[%d]", i))
			}
			out = append(out, Entry{Key: k, Value: v})
		}
		return out, nil
	}
	return nil, t.jsonMismatch(raw)
}

// ToJSON renders a dynamic value of type t in the format FromJSON accepts.
// Maps are rendered as arrays of key/value objects and records keep their
// field order.
func (t *Type) ToJSON(v any) ([]byte, error) {
	if _, err := t.Size(v); err != nil {
		return nil, err
	}
	return json.Marshal(t.toJSON(v))
}

type jsonField struct {
	name  string
	value any
}

// orderedObject marshals as a JSON object with its fields in slice order.
type orderedObject []jsonField

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// toJSON assumes v has been validated by Size.
func (t *Type) toJSON(v any) any {
	switch t.Kind {
	case KindTimestamp:
		return v.(time.Time).UTC().Format(time.RFC3339Nano)
	case KindDuration:
		return v.(time.Duration).String()
	case KindOptional:
		if v == nil {
			return nil
		}
		return t.Elem.toJSON(v)
	case KindSequence:
		vs := v.([]any)
		out := make([]any, len(vs))
		for i, e := range vs {
			out[i] = t.Elem.toJSON(e)
		}
		return out
	case KindMap:
		es := v.([]Entry)
		out := make([]any, len(es))
		for i, e := range es {
			out[i] = orderedObject{
				{name: "key", value: t.Key.toJSON(e.Key)},
				{name: "value", value: t.Elem.toJSON(e.Value)},
			}
		}
		return out
	case KindRecord:
		m := v.(map[string]any)
		out := make(orderedObject, 0, len(t.Fields))
		for _, f := range t.Fields {
			out = append(out, jsonField{name: f.Name, value: f.Type.toJSON(m[f.Name])})
		}
		return out
	}
	return v
}
