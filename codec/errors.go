package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when cell text cannot be parsed as the
	// column's type.
	ErrMalformed = errors.New("codec: malformed cell")

	// ErrReadOnly is returned when a read-only cell has no prior value to keep.
	ErrReadOnly = errors.New("codec: cell is read-only")
)

// CodecError attributes a decode failure to one cell so the grid can flag
// it while the rest of the edit proceeds.
type CodecError struct {
	// Row identifies the row by its key text. Rows whose key could not be
	// read are "?", or "#<index>" when decoded as part of a grid.
	Row string

	Attribute string
	Text      string
	Err       error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: row %s attribute %q: %v", e.Row, e.Attribute, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Errors flattens err (possibly joined) into its cell errors.
func Errors(err error) []*CodecError {
	if err == nil {
		return nil
	}
	var out []*CodecError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		out = append(out, ce)
	}
	return out
}
