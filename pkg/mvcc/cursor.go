package mvcc

import (
	"github.com/nainya/mavibot/pkg/btree"
	"github.com/nainya/mavibot/pkg/mverr"
)

// Cursor is a revision-pinned range cursor (spec.md §4.7): it holds a path
// from the root to the current leaf, stepping element-by-element including
// through a duplicate key's multiple values, and releases its pin on
// Close.
type Cursor struct {
	reader   btree.Reader
	cfg      btree.Config
	root     uint64
	registry *Registry
	revision uint64

	path     btree.Path
	values   [][]byte
	valueIdx int
	before   bool
	after    bool
	closed   bool
}

// NewCursor builds a cursor over root at the given pinned revision; the
// caller must already hold the pin (registry.Pin(revision)) before
// constructing the cursor, and call Close exactly once.
func NewCursor(reader btree.Reader, cfg btree.Config, root uint64, registry *Registry, revision uint64) *Cursor {
	return &Cursor{reader: reader, cfg: cfg, root: root, registry: registry, revision: revision, before: true}
}

func (c *Cursor) loadValues() error {
	vh := c.path.ValueHolder()
	vals, err := vh.All(btree.ReadOnly(c.reader), c.cfg)
	if err != nil {
		return err
	}
	c.values = vals
	return nil
}

// BeforeFirst repositions the cursor before the first element.
func (c *Cursor) BeforeFirst() {
	c.before, c.after = true, false
	c.path, c.values, c.valueIdx = nil, nil, 0
}

// AfterLast repositions the cursor after the last element.
func (c *Cursor) AfterLast() {
	c.before, c.after = false, true
	c.path, c.values, c.valueIdx = nil, nil, 0
}

// Seek positions the cursor at the first key >= key.
func (c *Cursor) Seek(key []byte) error {
	path, _, err := btree.SeekKey(c.reader, c.root, c.cfg, key)
	if err != nil {
		return err
	}
	c.before, c.after = false, false
	c.path = path
	c.valueIdx = 0
	if c.path == nil {
		c.after = true
		return nil
	}
	return c.loadValues()
}

// HasNext reports whether Next would return an element.
func (c *Cursor) HasNext() bool {
	if c.closed || c.after {
		return false
	}
	if c.valueIdx < len(c.values) {
		return true
	}
	var next btree.Path
	var err error
	if c.before {
		next, err = btree.SeekFirst(c.reader, c.root)
	} else if c.path != nil {
		next, err = c.path.Next(c.reader)
	}
	return err == nil && next != nil
}

// Next returns the current (key, value) pair and advances past it
// (spec.md §4.7 "next()").
func (c *Cursor) Next() (key, value []byte, err error) {
	if c.closed {
		return nil, nil, mverr.ErrClosed
	}
	if c.after {
		return nil, nil, mverr.ErrEndOfFile
	}
	if c.valueIdx < len(c.values) {
		v := c.values[c.valueIdx]
		c.valueIdx++
		return c.path.Key(), v, nil
	}

	if c.before {
		c.path, err = btree.SeekFirst(c.reader, c.root)
		c.before = false
	} else {
		c.path, err = c.path.Next(c.reader)
	}
	if err != nil {
		return nil, nil, err
	}
	if c.path == nil {
		c.after = true
		return nil, nil, mverr.ErrEndOfFile
	}
	if err := c.loadValues(); err != nil {
		return nil, nil, err
	}
	c.valueIdx = 1
	return c.path.Key(), c.values[0], nil
}

// HasPrev reports whether Prev would return an element.
func (c *Cursor) HasPrev() bool {
	if c.closed || c.before {
		return false
	}
	if c.valueIdx > 0 {
		return true
	}
	var prev btree.Path
	var err error
	if c.after {
		prev, err = btree.SeekLast(c.reader, c.root)
	} else if c.path != nil {
		prev, err = c.path.Prev(c.reader)
	}
	return err == nil && prev != nil
}

// Prev is Next's mirror image, walking descending order.
func (c *Cursor) Prev() (key, value []byte, err error) {
	if c.closed {
		return nil, nil, mverr.ErrClosed
	}
	if c.before {
		return nil, nil, mverr.ErrEndOfFile
	}
	if c.valueIdx > 0 {
		c.valueIdx--
		return c.path.Key(), c.values[c.valueIdx], nil
	}

	if c.after {
		c.path, err = btree.SeekLast(c.reader, c.root)
		c.after = false
	} else {
		c.path, err = c.path.Prev(c.reader)
	}
	if err != nil {
		return nil, nil, err
	}
	if c.path == nil {
		c.before = true
		return nil, nil, mverr.ErrEndOfFile
	}
	if err := c.loadValues(); err != nil {
		return nil, nil, err
	}
	c.valueIdx = len(c.values) - 1
	return c.path.Key(), c.values[c.valueIdx], nil
}

// MoveToNextNonDuplicateKey skips any remaining values of the current key
// so the following Next() call lands on the next distinct key.
func (c *Cursor) MoveToNextNonDuplicateKey() {
	c.valueIdx = len(c.values)
}

// Close releases the cursor's revision pin and runs the reclaimer.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.registry.Unpin(c.revision)
	return nil
}
