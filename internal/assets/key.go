package assets

import "fmt"

// TypeTag declares what kind of payload the caller expects behind a key.
// A request declaring the wrong type for a path is an error, never a
// silent reuse of another entry.
type TypeTag string

const (
	TypeText   TypeTag = "text"
	TypeJSON   TypeTag = "json"
	TypeImage  TypeTag = "image"
	TypeBinary TypeTag = "binary"
)

func ParseTypeTag(raw string) (TypeTag, error) {
	switch TypeTag(raw) {
	case TypeText, TypeJSON, TypeImage, TypeBinary:
		return TypeTag(raw), nil
	}
	return "", fmt.Errorf("unknown asset type %q", raw)
}

func (t TypeTag) ContentType() string {
	switch t {
	case TypeText:
		return "text/plain; charset=utf-8"
	case TypeJSON:
		return "application/json"
	case TypeImage:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// Key identifies a loadable unit. Comparable, so it can be used directly
// as a map key. The same path requested with two different types yields
// two distinct entries.
type Key struct {
	Path string
	Type TypeTag
}

func NewKey(path string, typeTag TypeTag) Key {
	return Key{Path: path, Type: typeTag}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.Path)
}
