// Package location maps byte offsets in JSON input to line and column positions, so
// decoding failures can point at the offending spot in a source file.
package location

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Location is a 1-based position in a source document.
type Location struct {
	Line   int
	Column int
}

// String returns "line:column".
func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// OfError returns the position a JSON decoding error refers to. Errors that carry no
// offset report false.
func OfError(data []byte, err error) (Location, bool) {
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		// Offset counts the offending byte.
		return At(data, max(syntax.Offset-1, 0)), true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return At(data, typeErr.Offset), true
	}
	return Location{}, false
}

// At converts a byte offset to a line and column. Offsets past the end resolve to the
// position after the last byte.
func At(data []byte, offset int64) Location {
	loc := Location{Line: 1, Column: 1}
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			loc.Line++
			loc.Column = 1
		} else {
			loc.Column++
		}
	}
	return loc
}
