package typedesc

import (
	"unicode"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// Parse parses a type expression.
//
//	u8 i8 u16 i16 u32 i32 u64 i64 f32 f64 bool string bytes timestamp duration
//	optional<T>  sequence<T>  map<K, V>
//	record{name: T, ...}  enum{A, B, ...}
func Parse(expr string) (*Type, error) {
	p := &parser{src: expr}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q after type", p.src[p.pos:])
	}
	return t, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(expr string) *Type {
	t, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return ffierrors.New(ffierrors.PhaseParse, ffierrors.KindSyntax).
		WireType(p.src).
		Value(p.pos).
		Detail("offset %d: "+format, append([]any{p.pos}, args...)...).
		Build()
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return p.errorf("expected %q, got end of input", c)
	}
	if p.src[p.pos] != c {
		return p.errorf("expected %q, got %q", c, p.src[p.pos])
	}
	p.pos++
	return nil
}

func (p *parser) peek(c byte) bool {
	p.skipSpace()
	return p.pos < len(p.src) && p.src[p.pos] == c
}

func (p *parser) parseType() (*Type, error) {
	name := p.ident()
	if name == "" {
		if p.pos >= len(p.src) {
			return nil, p.errorf("expected type, got end of input")
		}
		return nil, p.errorf("expected type, got %q", p.src[p.pos])
	}

	switch name {
	case "optional", "sequence":
		elem, err := p.parseArgs(1)
		if err != nil {
			return nil, err
		}
		kind := KindOptional
		if name == "sequence" {
			kind = KindSequence
		}
		if kind == KindOptional && elem[0].Kind == KindOptional {
			return nil, p.errorf("optional<%s>: an absent inner value would decode as absent; wrap it in a record", elem[0])
		}
		return &Type{Kind: kind, Elem: elem[0]}, nil

	case "map":
		args, err := p.parseArgs(2)
		if err != nil {
			return nil, err
		}
		if !args[0].isComparableKey() {
			return nil, p.errorf("%s cannot be a map key", args[0])
		}
		return &Type{Kind: KindMap, Key: args[0], Elem: args[1]}, nil

	case "record":
		return p.parseRecord()

	case "enum":
		return p.parseEnum()
	}

	if t, ok := Primitive(name); ok {
		return t, nil
	}
	return nil, p.errorf("unknown type %q", name)
}

func (p *parser) parseArgs(n int) ([]*Type, error) {
	if err := p.expect('<'); err != nil {
		return nil, err
	}
	args := make([]*Type, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		args = append(args, t)
	}
	if err := p.expect('>'); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parseRecord() (*Type, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	t := &Type{Kind: KindRecord}
	seen := make(map[string]bool)
	for !p.peek('}') {
		if len(t.Fields) > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		name := p.ident()
		if name == "" {
			return nil, p.errorf("expected field name")
		}
		if seen[name] {
			return nil, p.errorf("duplicate field %q", name)
		}
		seen[name] = true
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		ft, err := p.parseType()
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, Field{Name: name, Type: ft})
	}
	p.pos++
	return t, nil
}

func (p *parser) parseEnum() (*Type, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	t := &Type{Kind: KindEnum}
	seen := make(map[string]bool)
	for !p.peek('}') {
		if len(t.Variants) > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		name := p.ident()
		if name == "" {
			return nil, p.errorf("expected variant name")
		}
		if seen[name] {
			return nil, p.errorf("duplicate variant %q", name)
		}
		seen[name] = true
		t.Variants = append(t.Variants, name)
	}
	p.pos++
	if len(t.Variants) == 0 {
		return nil, p.errorf("enum needs at least one variant")
	}
	return t, nil
}
