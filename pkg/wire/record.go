package wire

import ffierrors "github.com/woxQAQ/unified-ffi/pkg/errors"

// ReadField reads one record field and tags any error with the field name.
// Record codecs read their fields in declaration order with it:
//
//	func readPoint(r *wire.Reader) (Point, error) {
//		x, err := wire.ReadField(r, wire.I32, "x")
//		if err != nil {
//			return Point{}, err
//		}
//		...
//	}
func ReadField[T any](r *Reader, c Codec[T], field string) (T, error) {
	v, err := c.read(r)
	if err != nil {
		var zero T
		return zero, ffierrors.WithPath(err, field)
	}
	return v, nil
}
