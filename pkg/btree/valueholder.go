package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
)

type vhState uint8

const (
	vhInline vhState = iota
	vhSubtree
)

// ValueHolder is the per-key container spec.md §4.5 describes: a single
// key may be associated with more than one value when a tree allows
// duplicates, and the holder transparently upgrades from an inline sorted
// array to a secondary sub-tree once the value count crosses Config.UpThresh
// (and degrades back below Config.DownThresh), so neither a leaf page nor a
// single key ever has to carry an unbounded number of values inline.
type ValueHolder struct {
	state vhState

	// vhInline
	inline [][]byte

	// vhSubtree
	subtreeRoot uint64
	count       int
}

// NewSingle builds a holder carrying exactly one value, the common case for
// trees that don't allow duplicates.
func NewSingle(v []byte) *ValueHolder {
	return &ValueHolder{state: vhInline, inline: [][]byte{v}}
}

// Count returns the number of values currently held.
func (vh *ValueHolder) Count() int {
	if vh.state == vhInline {
		return len(vh.inline)
	}
	return vh.count
}

// First returns an arbitrary (the smallest, for Inline) value, used by
// non-duplicate-aware callers like Get.
func (vh *ValueHolder) First(a Allocator, cfg Config) ([]byte, error) {
	if vh.state == vhInline {
		if len(vh.inline) == 0 {
			return nil, mverr.ErrKeyNotFound
		}
		return vh.inline[0], nil
	}
	t := &Tree{cfg: subtreeConfig(cfg), alloc: a, root: vh.subtreeRoot}
	var first []byte
	err := t.browseForward(func(k, _ []byte) (bool, error) {
		first = k
		return false, nil
	})
	return first, err
}

// All returns every value held, in ascending order.
func (vh *ValueHolder) All(a Allocator, cfg Config) ([][]byte, error) {
	if vh.state == vhInline {
		out := make([][]byte, len(vh.inline))
		copy(out, vh.inline)
		return out, nil
	}
	t := &Tree{cfg: subtreeConfig(cfg), alloc: a, root: vh.subtreeRoot}
	var out [][]byte
	err := t.browseForward(func(k, _ []byte) (bool, error) {
		out = append(out, k)
		return true, nil
	})
	return out, err
}

// Add inserts v, converting to Subtree form first if the inline array would
// grow past cfg.UpThresh. Returns ErrAlreadyManaged-free success even when v
// already exists and cfg.AllowDups is false by replacing in place, matching
// a plain key/value tree's upsert semantics.
func (vh *ValueHolder) Add(a Allocator, cfg Config, v []byte) error {
	if !cfg.AllowDups {
		if vh.state == vhInline {
			vh.inline = [][]byte{v}
		} else {
			if err := vh.toInlineLocked(a, cfg); err != nil {
				return err
			}
			vh.inline = [][]byte{v}
		}
		return nil
	}

	if vh.state == vhSubtree {
		return vh.addSubtree(a, cfg, v)
	}

	idx := sort.Search(len(vh.inline), func(i int) bool {
		return cfg.ValueCodec.Compare(vh.inline[i], v) != codec.Less
	})
	if idx < len(vh.inline) && cfg.ValueCodec.Compare(vh.inline[idx], v) == codec.Equal {
		return nil // already present
	}
	vh.inline = insertAt(vh.inline, idx, v)

	if cfg.UpThresh > 0 && len(vh.inline) > cfg.UpThresh {
		return vh.toSubtreeLocked(a, cfg)
	}
	return nil
}

// Remove deletes v. Reports whether the holder is now empty (the caller
// should then drop the key entirely).
func (vh *ValueHolder) Remove(a Allocator, cfg Config, v []byte) (empty bool, err error) {
	if vh.state == vhInline {
		idx := sort.Search(len(vh.inline), func(i int) bool {
			return cfg.ValueCodec.Compare(vh.inline[i], v) != codec.Less
		})
		if idx >= len(vh.inline) || cfg.ValueCodec.Compare(vh.inline[idx], v) != codec.Equal {
			return false, mverr.ErrKeyNotFound
		}
		vh.inline = removeAt(vh.inline, idx)
		return len(vh.inline) == 0, nil
	}

	t := &Tree{cfg: subtreeConfig(cfg), alloc: a, root: vh.subtreeRoot}
	if err := t.Delete(v); err != nil {
		return false, err
	}
	vh.subtreeRoot = t.root
	vh.count--

	if cfg.DownThresh > 0 && vh.count < cfg.DownThresh {
		if err := vh.toInlineLocked(a, cfg); err != nil {
			return false, err
		}
	}
	return vh.Count() == 0, nil
}

func (vh *ValueHolder) addSubtree(a Allocator, cfg Config, v []byte) error {
	t := &Tree{cfg: subtreeConfig(cfg), alloc: a, root: vh.subtreeRoot}
	existed, err := t.Contains(v)
	if err != nil {
		return err
	}
	if existed {
		return nil
	}
	if err := t.Insert(v, nil); err != nil {
		return err
	}
	vh.subtreeRoot = t.root
	vh.count++
	return nil
}

// toSubtreeLocked migrates the inline array into a fresh secondary B+tree
// keyed by value (spec.md §4.5 "Subtree state"), freeing the page(s) the
// array previously needed none of, since inline values never owned pages
// of their own.
func (vh *ValueHolder) toSubtreeLocked(a Allocator, cfg Config) error {
	t := &Tree{cfg: subtreeConfig(cfg), alloc: a, root: RefSentinel}
	for _, v := range vh.inline {
		if err := t.Insert(v, nil); err != nil {
			return err
		}
	}
	vh.subtreeRoot = t.root
	vh.count = len(vh.inline)
	vh.inline = nil
	vh.state = vhSubtree
	return nil
}

// toInlineLocked drains a secondary tree back into an inline array.
func (vh *ValueHolder) toInlineLocked(a Allocator, cfg Config) error {
	if vh.state == vhInline {
		return nil
	}
	vals, err := vh.All(a, cfg)
	if err != nil {
		return err
	}
	vh.inline = vals
	vh.state = vhInline
	vh.subtreeRoot = 0
	vh.count = 0
	return nil
}

// subtreeConfig derives the configuration used for a value holder's
// secondary tree: it is keyed and ordered by the owning tree's value codec,
// never allows duplicates (each distinct value appears at most once), and
// never itself upgrades into a tertiary tree.
func subtreeConfig(cfg Config) Config {
	return Config{
		KeyCodec:   cfg.ValueCodec,
		ValueCodec: cfg.ValueCodec,
		Fanout:     cfg.Fanout,
		AllowDups:  false,
	}
}

// serialize encodes the holder for the leaf-page wire format (spec.md §6):
// 1 state byte, then either a 4-byte count + length-prefixed values
// (Inline), or an 8-byte subtree root ref + 8-byte count (Subtree).
func (vh *ValueHolder) serialize() []byte {
	if vh == nil {
		return nil
	}
	if vh.state == vhInline {
		buf := make([]byte, 1, 16)
		buf[0] = byte(vhInline)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(vh.inline)))
		for _, v := range vh.inline {
			buf = putLenPrefixed(buf, v)
		}
		return buf
	}
	buf := make([]byte, 17)
	buf[0] = byte(vhSubtree)
	binary.BigEndian.PutUint64(buf[1:9], vh.subtreeRoot)
	binary.BigEndian.PutUint64(buf[9:17], uint64(vh.count))
	return buf
}

func deserializeValueHolder(buf []byte) (*ValueHolder, error) {
	if len(buf) == 0 {
		return &ValueHolder{state: vhInline}, nil
	}
	switch vhState(buf[0]) {
	case vhInline:
		rest := buf[1:]
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: truncated value holder", mverr.ErrCorruptPage)
		}
		n := binary.BigEndian.Uint32(rest[0:4])
		rest = rest[4:]
		vh := &ValueHolder{state: vhInline, inline: make([][]byte, 0, n)}
		for i := uint32(0); i < n; i++ {
			v, r, err := readLenPrefixed(rest)
			if err != nil {
				return nil, err
			}
			vh.inline = append(vh.inline, v)
			rest = r
		}
		return vh, nil
	case vhSubtree:
		if len(buf) < 17 {
			return nil, fmt.Errorf("%w: truncated value holder", mverr.ErrCorruptPage)
		}
		return &ValueHolder{
			state:       vhSubtree,
			subtreeRoot: binary.BigEndian.Uint64(buf[1:9]),
			count:       int(binary.BigEndian.Uint64(buf[9:17])),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown value holder state", mverr.ErrCorruptPage)
	}
}
