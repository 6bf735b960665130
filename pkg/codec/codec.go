// Package codec defines the element codec contract mavibot uses for keys
// and values: serialize/deserialize to an opaque byte string, plus a total
// order comparator. The comparator zoo for richer element shapes is out of
// scope (see spec.md §1) — this package ships only the two codecs the
// engine itself needs internally and that the test suite exercises.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/mavibot/pkg/mverr"
)

// Ordering mirrors the three-way result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Codec is the plug-in contract a caller supplies for one element type
// (either the key or the value of a tree). serialize is injective;
// deserialize(serialize(v)) == v; Compare is a total order consistent with
// Deserialize. nil is a legal element (encoded with length -1 in the page
// wire format, see pkg/btree) and is defined to sort before every non-nil
// value.
type Codec interface {
	// Serialize encodes v as an opaque byte string. v may be nil.
	Serialize(v any) ([]byte, error)
	// Deserialize decodes bytes produced by Serialize. data may be nil,
	// representing the encoded nil element.
	Deserialize(data []byte) (any, error)
	// Compare orders two already-serialized elements. Implementations must
	// not need to deserialize to compare (the byte-string codecs below are
	// order-preserving), but may if there is no cheaper path.
	Compare(a, b []byte) Ordering
	// Tag is a short stable name persisted in the tree header so a reopened
	// database can confirm which codec a tree expects.
	Tag() string
}

// CompareBytes implements the null-least, byte-lexicographic order every
// codec in this package uses. nil < any non-nil; nil == nil. This fixes, per spec.md §9, the
// inconsistency across comparator variants that throw or sort null
// differently: null is always least here.
func CompareBytes(a, b []byte) Ordering {
	if a == nil && b == nil {
		return Equal
	}
	if a == nil {
		return Less
	}
	if b == nil {
		return Greater
	}
	switch {
	case len(a) < len(b):
		for i := range a {
			if a[i] != b[i] {
				return ordOf(int(a[i]) - int(b[i]))
			}
		}
		return Less
	case len(a) > len(b):
		for i := range b {
			if a[i] != b[i] {
				return ordOf(int(a[i]) - int(b[i]))
			}
		}
		return Greater
	default:
		for i := range a {
			if a[i] != b[i] {
				return ordOf(int(a[i]) - int(b[i]))
			}
		}
		return Equal
	}
}

func ordOf(d int) Ordering {
	switch {
	case d < 0:
		return Less
	case d > 0:
		return Greater
	default:
		return Equal
	}
}

// Bytes is the identity codec: elements are raw byte strings, compared
// lexicographically with nil-least semantics. pkg/record registers it under
// its tag as a built-in; the free list and the tree directory are encoded
// directly and do not go through any codec.
type Bytes struct{}

func (Bytes) Tag() string { return "bytes" }

func (Bytes) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: codec.Bytes expects []byte, got %T", mverr.ErrSerializerCreation, v)
	}
	return b, nil
}

func (Bytes) Deserialize(data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	return data, nil
}

func (Bytes) Compare(a, b []byte) Ordering { return CompareBytes(a, b) }

// Int64 encodes a signed 64-bit integer as 8 big-endian bytes with the sign
// bit flipped, so unsigned lexicographic comparison of the wire bytes
// matches signed integer order — the same trick
// NayanaChandrika99-DocReasoner/tree_db/pkg/storage/encoding.go uses for its
// TYPE_INT64 composite-key columns.
type Int64 struct{}

func (Int64) Tag() string { return "int64" }

func (Int64) Serialize(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	i, ok := v.(int64)
	if !ok {
		return nil, fmt.Errorf("%w: codec.Int64 expects int64, got %T", mverr.ErrSerializerCreation, v)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return buf[:], nil
}

func (Int64) Deserialize(data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("%w: int64 payload must be 8 bytes, got %d", mverr.ErrSerializerCreation, len(data))
	}
	u := binary.BigEndian.Uint64(data)
	return int64(u - (1 << 63)), nil
}

func (Int64) Compare(a, b []byte) Ordering { return CompareBytes(a, b) }
