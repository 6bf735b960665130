package mavibot

import "github.com/nainya/mavibot/pkg/btree"

// Tree is a handle to one managed B+tree, bound to either a write or read
// transaction. It must not outlive the transaction it was obtained from.
type Tree struct {
	t *btree.Tree
}

// Insert adds value under key. For duplicate-allowing trees this adds
// another value rather than replacing; for others it overwrites.
func (t *Tree) Insert(key, value []byte) error {
	return t.t.Insert(key, value)
}

// Get returns the first value stored under key, or ErrKeyNotFound.
func (t *Tree) Get(key []byte) ([]byte, error) {
	return t.t.Get(key)
}

// GetAll returns every value stored under key, in value-codec order.
func (t *Tree) GetAll(key []byte) ([][]byte, error) {
	return t.t.GetAll(key)
}

// Contains reports whether key is present.
func (t *Tree) Contains(key []byte) (bool, error) {
	return t.t.Contains(key)
}

// Delete removes every value stored under key.
func (t *Tree) Delete(key []byte) error {
	return t.t.Delete(key)
}

// DeleteValue removes a single value under key, leaving other duplicates
// under that key intact.
func (t *Tree) DeleteValue(key, value []byte) error {
	return t.t.DeleteValue(key, value)
}

// NbElems returns the element count recorded in this tree's header as of
// the owning transaction's view.
func (t *Tree) NbElems() int64 {
	return t.t.NbElems()
}
