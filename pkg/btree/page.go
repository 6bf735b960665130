// Package btree implements mavibot's in-memory copy-on-write B+tree pages
// and the tree-wide operations built on top of them (spec.md §4.3, §4.4,
// §4.6). A page is immutable once handed to an Allocator's New: any
// logical modification builds a brand new Page at the writer's revision,
// per spec.md §3 "Invariant (immutability)".
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
)

// RefSentinel marks "no child"/"no page" where a ref slot is unused.
const RefSentinel = ^uint64(0)

// dirtyRefBit marks a Ref as a transaction-local, not-yet-persisted page
// identity. Persistent offsets returned by pkg/pageio are always well
// below 1<<63 in any realistic deployment, so the two address spaces never
// collide (mirrors how the teacher's `storage.KV` distinguishes pages in
// `page.temp` from pages already flushed by comparing against
// `page.flushed`, just encoded in the ref itself instead of a side table).
const dirtyRefBit = uint64(1) << 63

// IsDirtyRef reports whether ref names an in-memory page not yet resolved
// to a file offset.
func IsDirtyRef(ref uint64) bool { return ref&dirtyRefBit != 0 }

// NewDirtyRef tags a write transaction's monotonic page counter as a dirty
// ref (pkg/txn is the sole caller, inside its Allocator.New).
func NewDirtyRef(id uint64) uint64 { return id | dirtyRefBit }

// Config carries the per-tree parameters every node/leaf operation needs:
// the comparator, fanout, and (for leaves) duplicate-value thresholds.
type Config struct {
	KeyCodec   codec.Codec
	ValueCodec codec.Codec
	Fanout     int // max elements per page
	AllowDups  bool
	UpThresh   int // value-holder Inline -> Subtree when count would exceed this
	DownThresh int // value-holder Subtree -> Inline when count drops below this
}

func (c Config) minOccupancy() int {
	return (c.Fanout + 1) / 2 // ceil(fanout/2)
}

// Page is the tagged Leaf|Node variant spec.md §9 calls for, collapsed from
// the teacher's would-be class hierarchy into one struct dispatched on
// IsLeaf.
type Page struct {
	ID       uint64 // monotonic within the owning transaction; bookkeeping only
	Revision uint64
	IsLeaf   bool

	Keys [][]byte

	// Leaf-only.
	Values []*ValueHolder

	// Node-only: len(Children) == len(Keys)+1.
	Children []uint64
}

// Reader resolves a page reference to its in-memory Page. Read
// transactions, write transactions, and value-holder sub-trees all satisfy
// this through pkg/txn.
type Reader interface {
	Get(ref uint64) (*Page, error)
}

// Allocator additionally lets a write transaction mint new dirty pages and
// mark persistent ones as superseded.
type Allocator interface {
	Reader
	New(p *Page) uint64
	Free(ref uint64)
}

func (p *Page) numKeys() int { return len(p.Keys) }

// roAllocator adapts a plain Reader to the Allocator interface for
// read-only callers (pkg/mvcc cursors, read transactions) that need to
// pass an Allocator into ValueHolder/Tree helpers which never actually
// call New or Free on a read path.
type roAllocator struct{ Reader }

func (roAllocator) New(*Page) uint64 { panic("btree: write attempted through a read-only allocator") }
func (roAllocator) Free(uint64)      {}

// ReadOnly wraps r as an Allocator whose New/Free must never be invoked.
func ReadOnly(r Reader) Allocator { return roAllocator{r} }

// FindPos performs the binary search contract from spec.md §4.3/§4.4:
// negative -(i+1) when key matches at i, otherwise the non-negative
// insertion index. An empty page returns 0.
func (p *Page) FindPos(cmp codec.Codec, key []byte) int {
	lo, hi := 0, len(p.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		switch cmp.Compare(p.Keys[mid], key) {
		case codec.Equal:
			return -(mid + 1)
		case codec.Less:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo
}

// cloneKeys copies a key's bytes, and insertAt/removeAt build fresh backing
// arrays, so two Page versions never alias mutable slices, preserving the
// copy-on-write invariant even when only a handful of elements changed.
func cloneKeys(src []byte) []byte {
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

func insertAt[T any](s []T, idx int, v T) []T {
	out := make([]T, 0, len(s)+1)
	out = append(out, s[:idx]...)
	out = append(out, v)
	out = append(out, s[idx:]...)
	return out
}

func removeAt[T any](s []T, idx int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:idx]...)
	out = append(out, s[idx+1:]...)
	return out
}

// --- Serialization (spec.md §6 "Node payload layout") ---
//
// 8 bytes page id; 8 bytes revision; 4 bytes element count (negative means
// internal node, positive means leaf, magnitude is N); 4 bytes total data
// size; then alternating child-offset/key pairs with one trailing child
// offset (nodes), or alternating value-holder/key pairs (leaves). Each key
// and value-holder is itself a 4-byte length prefix (length -1 == null)
// followed by its bytes.

func putLenPrefixed(buf []byte, b []byte) []byte {
	if b == nil {
		return binary.BigEndian.AppendUint32(buf, 0xFFFFFFFF)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readLenPrefixed(buf []byte) (val []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", mverr.ErrEndOfFile)
	}
	l := int32(binary.BigEndian.Uint32(buf))
	buf = buf[4:]
	if l < 0 {
		return nil, buf, nil
	}
	if len(buf) < int(l) {
		return nil, nil, fmt.Errorf("%w: truncated element", mverr.ErrEndOfFile)
	}
	out := make([]byte, l)
	copy(out, buf[:l])
	return out, buf[l:], nil
}

// Serialize encodes the page in the on-disk format above. Deserialize is
// its exact inverse (spec.md §8 property 7: round trip is idempotent).
func (p *Page) Serialize() []byte {
	buf := make([]byte, 0, 256)
	buf = binary.BigEndian.AppendUint64(buf, p.ID)
	buf = binary.BigEndian.AppendUint64(buf, p.Revision)

	n := int32(len(p.Keys))
	if !p.IsLeaf {
		n = -n
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(n))

	sizeOffset := len(buf)
	buf = binary.BigEndian.AppendUint32(buf, 0) // patched below

	body := buf[:0:0]
	_ = body
	start := len(buf)

	if p.IsLeaf {
		for i, k := range p.Keys {
			buf = putLenPrefixed(buf, p.Values[i].serialize())
			buf = putLenPrefixed(buf, k)
		}
	} else {
		for i, k := range p.Keys {
			buf = binary.BigEndian.AppendUint64(buf, p.Children[i])
			buf = putLenPrefixed(buf, k)
		}
		last := uint64(RefSentinel)
		if len(p.Children) > 0 {
			last = p.Children[len(p.Children)-1]
		}
		buf = binary.BigEndian.AppendUint64(buf, last)
	}

	binary.BigEndian.PutUint32(buf[sizeOffset:], uint32(len(buf)-start))
	return buf
}

// Deserialize decodes bytes produced by Serialize.
func Deserialize(data []byte) (*Page, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("%w: page too short", mverr.ErrEndOfFile)
	}
	p := &Page{}
	p.ID = binary.BigEndian.Uint64(data[0:8])
	p.Revision = binary.BigEndian.Uint64(data[8:16])
	n := int32(binary.BigEndian.Uint32(data[16:20]))
	// data[20:24] total data size, informational; re-derived implicitly by
	// consuming exactly the right number of entries below.
	rest := data[24:]

	p.IsLeaf = n >= 0
	count := int(n)
	if count < 0 {
		count = -count
	}

	p.Keys = make([][]byte, 0, count)
	if p.IsLeaf {
		p.Values = make([]*ValueHolder, 0, count)
		for i := 0; i < count; i++ {
			vhBytes, r1, err := readLenPrefixed(rest)
			if err != nil {
				return nil, err
			}
			key, r2, err := readLenPrefixed(r1)
			if err != nil {
				return nil, err
			}
			vh, err := deserializeValueHolder(vhBytes)
			if err != nil {
				return nil, err
			}
			p.Values = append(p.Values, vh)
			p.Keys = append(p.Keys, key)
			rest = r2
		}
	} else {
		p.Children = make([]uint64, 0, count+1)
		for i := 0; i < count; i++ {
			if len(rest) < 8 {
				return nil, fmt.Errorf("%w: truncated child offset", mverr.ErrEndOfFile)
			}
			child := binary.BigEndian.Uint64(rest)
			rest = rest[8:]
			key, r2, err := readLenPrefixed(rest)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, child)
			p.Keys = append(p.Keys, key)
			rest = r2
		}
		if len(rest) < 8 {
			return nil, fmt.Errorf("%w: truncated trailing child offset", mverr.ErrEndOfFile)
		}
		p.Children = append(p.Children, binary.BigEndian.Uint64(rest))
	}

	return p, nil
}

// ResolveRefs rewrites every dirty ref this page points at (child offsets
// for a node, or a value holder's sub-tree root for a leaf) using the
// now-final offsets recorded in resolved. Called during commit, in the
// order pages were dirtied, so every ref a page holds has already been
// resolved by the time this runs (spec.md §4.6 step 2: "children before
// parents").
func (p *Page) ResolveRefs(resolved map[uint64]uint64) {
	if p.IsLeaf {
		for _, vh := range p.Values {
			if vh.state == vhSubtree && IsDirtyRef(vh.subtreeRoot) {
				if r, ok := resolved[vh.subtreeRoot]; ok {
					vh.subtreeRoot = r
				}
			}
		}
		return
	}
	for i, c := range p.Children {
		if IsDirtyRef(c) {
			if r, ok := resolved[c]; ok {
				p.Children[i] = r
			}
		}
	}
}
