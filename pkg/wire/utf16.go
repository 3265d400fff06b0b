package wire

import (
	"golang.org/x/text/encoding/unicode"

	ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"
)

// UTF16 is text held as UTF-16 little-endian code units, as produced by hosts
// whose native string type is UTF-16.
type UTF16 []byte

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ToUTF16 transcodes a Go string to UTF-16LE.
func ToUTF16(s string) (UTF16, error) {
	b, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, ffierrors.Wrap(ffierrors.PhaseEncode, ffierrors.KindInvalidUTF8, err, "transcode to UTF-16")
	}
	return UTF16(b), nil
}

// String transcodes back to UTF-8. Unpaired surrogates become U+FFFD.
func (u UTF16) String() string {
	b, _ := utf16LE.NewDecoder().Bytes(u)
	return string(b)
}

// UTF16Text transcodes UTF-16 text to UTF-8 before writing and back after
// reading. The length prefix is the UTF-8 byte length.
var UTF16Text = NewCodec("string",
	func(r *Reader) (UTF16, error) {
		s, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		u, err := ToUTF16(s)
		if err != nil {
			return nil, ffierrors.WithPath(err, "utf16")
		}
		return u, nil
	},
	func(w *Writer, u UTF16) {
		w.WriteString(u.String())
	},
	func(u UTF16) int {
		return 4 + len(u.String())
	},
)
