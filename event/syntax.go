// Package event implements the compact single-line text format that
// carries instrumentation events through an ordinary log pipeline.
//
// An encoded event is an envelope holding a sequence of named
// properties:
//
//	[M{s=4a5b6c;p=12;t=7302198;ctx=[stage:resolve,dryrun]}]
//
// The envelope is an open mark, a one-character event-type tag, a
// brace-delimited property block, and a close mark. Property values
// are scalars, |-separated tuples, or ordered maps. Reserved
// characters inside values are escaped with a backslash so an event
// never spans lines and user text never collides with structure.
//
// Writer and Reader implement the two directions of the format.
// Encode and Decode drive them through the Message contract, which
// lets event types compose their fields with the shared identity
// block (Data) while remaining symmetric: anything written by
// WriteProperties is readable by ReadProperty.
package event

// Structural characters of the wire format. Any of these occurring
// inside a value is escaped on output.
const (
	BlockOpen   = '{'
	BlockClose  = '}'
	PropertySep = ';'
	ValueAssign = '='
	ValueSep    = '|'
	MapOpen     = '['
	MapClose    = ']'
	MapSep      = ','
	MapAssign   = ':'
	Escape      = '\\'
)

// DefaultOpen and DefaultClose are the envelope marks used by the
// meter and watch packages. Producers may choose a different pair as
// long as both sides of the pipeline agree.
const (
	DefaultOpen  = '['
	DefaultClose = ']'
)

// terminator sets for scanning escaped tokens
const (
	scalarStops   = string(PropertySep) + string(ValueSep) + string(BlockClose)
	mapKeyStops   = string(MapAssign) + string(MapSep) + string(MapClose)
	mapValueStops = string(MapSep) + string(MapClose)
)

func reserved(b byte) bool {
	switch b {
	case BlockOpen, BlockClose, PropertySep, ValueAssign, ValueSep, MapOpen, MapClose, MapSep, MapAssign, Escape:
		return true
	default:
		return false
	}
}

// Property names are identifiers: a letter, underscore, or the
// reserved # prefix, followed by letters, digits, or underscores.
func identStart(b byte) bool {
	return b == '_' || b == '#' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func identPart(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
