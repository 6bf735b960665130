package btree

import (
	"errors"
	"fmt"

	"github.com/nainya/mavibot/pkg/mverr"
)

// Tree is one B+tree rooted at a ref inside a pkg/record-managed file, or
// (when used by a ValueHolder) a secondary tree keyed by value. It carries
// no locking of its own: pkg/txn serializes all writers and pkg/mvcc pins
// the revision a reader's root ref belongs to (spec.md §4.6, §5).
type Tree struct {
	cfg   Config
	alloc Allocator
	root  uint64 // RefSentinel when empty

	nbElems int64
}

// New constructs an empty tree over alloc using cfg.
func New(alloc Allocator, cfg Config) *Tree {
	return &Tree{cfg: cfg, alloc: alloc, root: RefSentinel}
}

// Root returns the tree's current root ref, for persisting into a tree
// header (spec.md §6 "Tree header layout").
func (t *Tree) Root() uint64 { return t.root }

// Load rebinds an existing tree to root (used when opening a tree whose
// header was read from pkg/record).
func Load(alloc Allocator, cfg Config, root uint64, nbElems int64) *Tree {
	return &Tree{cfg: cfg, alloc: alloc, root: root, nbElems: nbElems}
}

// NbElems returns the number of distinct keys stored; extra values held
// under an existing key are not counted.
func (t *Tree) NbElems() int64 { return t.nbElems }

// Cfg returns the tree's configuration, for callers (pkg/mvcc cursors)
// that need the comparator and duplicate-value thresholds without
// otherwise reaching into the tree.
func (t *Tree) Cfg() Config { return t.cfg }

func (t *Tree) getPage(ref uint64) (*Page, error) {
	if ref == RefSentinel {
		return nil, fmt.Errorf("%w: nil page ref", mverr.ErrCorruptPage)
	}
	return t.alloc.Get(ref)
}

// Contains reports whether key has at least one value stored.
func (t *Tree) Contains(key []byte) (bool, error) {
	_, _, err := t.findLeaf(key)
	if err != nil {
		if errIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get returns one value associated with key (the smallest, when the tree
// allows duplicates). ErrKeyNotFound when absent.
func (t *Tree) Get(key []byte) ([]byte, error) {
	_, vh, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	return vh.First(t.alloc, t.cfg)
}

// GetAll returns every value associated with key.
func (t *Tree) GetAll(key []byte) ([][]byte, error) {
	_, vh, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	return vh.All(t.alloc, t.cfg)
}

func errIsNotFound(err error) bool {
	return err != nil && errors.Is(err, mverr.ErrKeyNotFound)
}

// findLeaf descends to the leaf that would hold key and returns its
// ValueHolder. ErrKeyNotFound if the key is absent.
func (t *Tree) findLeaf(key []byte) (*Page, *ValueHolder, error) {
	if t.root == RefSentinel {
		return nil, nil, mverr.ErrKeyNotFound
	}
	ref := t.root
	for {
		p, err := t.getPage(ref)
		if err != nil {
			return nil, nil, err
		}
		pos := p.FindPos(t.cfg.KeyCodec, key)
		if p.IsLeaf {
			if pos >= 0 {
				return nil, nil, mverr.ErrKeyNotFound
			}
			idx := -(pos + 1)
			return p, p.Values[idx], nil
		}
		idx := pos
		if pos < 0 {
			idx = -(pos + 1) + 1
		}
		ref = p.Children[idx]
	}
}

// browseForward visits every (key, value) pair in ascending order. visit
// returns false to stop early. Used internally by ValueHolder.All/First on
// a secondary tree, where "value" is encoded as nil and the payload lives
// entirely in the key.
func (t *Tree) browseForward(visit func(key, value []byte) (bool, error)) error {
	if t.root == RefSentinel {
		return nil
	}
	path, err := seekFirst(t.alloc, t.root)
	if err != nil {
		return err
	}
	for path != nil {
		leaf := path[len(path)-1]
		key := leaf.page.Keys[leaf.idx]
		vh := leaf.page.Values[leaf.idx]
		vals, err := vh.All(t.alloc, t.cfg)
		if err != nil {
			return err
		}
		for _, v := range vals {
			cont, err := visit(key, v)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		path, err = path.next(t.alloc)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Insert ---

type frame struct {
	page *Page
	idx  int // index into page.Children of the next frame down (0 for the leaf)
}

// Insert adds value under key, appending to the key's existing value set
// when the tree allows duplicates, or replacing the sole value otherwise
// (spec.md §4.5, §4.6 "Insert").
func (t *Tree) Insert(key, value []byte) error {
	if t.root == RefSentinel {
		leaf := &Page{IsLeaf: true, Keys: [][]byte{cloneKeys(key)}, Values: []*ValueHolder{NewSingle(value)}}
		t.root = t.alloc.New(leaf)
		t.nbElems++
		return nil
	}

	path, err := t.descendForWrite(key)
	if err != nil {
		return err
	}
	leafFrame := path[len(path)-1]
	leaf := leafFrame.page
	pos := leaf.FindPos(t.cfg.KeyCodec, key)

	if pos < 0 {
		idx := -(pos + 1)
		if err := leaf.Values[idx].Add(t.alloc, t.cfg, value); err != nil {
			return err
		}
	} else {
		leaf.Keys = insertAt(leaf.Keys, pos, cloneKeys(key))
		leaf.Values = insertAt(leaf.Values, pos, NewSingle(value))
		t.nbElems++
	}

	if len(leaf.Keys) > t.cfg.Fanout {
		return t.splitUp(path)
	}
	return t.commitPath(path)
}

// descendForWrite walks from the root to the target leaf, copying every
// page on the path (copy-on-write) and queuing the old refs with
// Allocator.Free. The copies get no ref here: the caller mints them via
// Allocator.New (commitPath, splitUp or commitPathAfterRebalance) and
// wires the new root into t.root once splits (if any) are resolved.
func (t *Tree) descendForWrite(key []byte) ([]frame, error) {
	var path []frame
	ref := t.root
	for {
		orig, err := t.getPage(ref)
		if err != nil {
			return nil, err
		}
		p := copyPage(orig)
		t.alloc.Free(ref)
		path = append(path, frame{page: p})

		if p.IsLeaf {
			return path, nil
		}
		pos := p.FindPos(t.cfg.KeyCodec, key)
		idx := pos
		if pos < 0 {
			idx = -(pos + 1) + 1
		}
		path[len(path)-1].idx = idx
		ref = p.Children[idx]
	}
}

func copyPage(p *Page) *Page {
	cp := &Page{IsLeaf: p.IsLeaf}
	cp.Keys = append([][]byte(nil), p.Keys...)
	if p.IsLeaf {
		cp.Values = append([]*ValueHolder(nil), p.Values...)
	} else {
		cp.Children = append([]uint64(nil), p.Children...)
	}
	return cp
}

// commitPath allocates ref for every page on path, from the leaf upward,
// patching each parent's child slot to the newly minted ref, and finally
// updates t.root.
func (t *Tree) commitPath(path []frame) error {
	childRef := uint64(0)
	haveChild := false
	for i := len(path) - 1; i >= 0; i-- {
		f := &path[i]
		if haveChild {
			f.page.Children[f.idx] = childRef
		}
		childRef = t.alloc.New(f.page)
		haveChild = true
	}
	t.root = childRef
	return nil
}

// splitUp handles overflow starting at the deepest page in path, pushing a
// freshly split sibling and separator key up toward the root, growing the
// tree by one level only when the root itself splits (spec.md §4.3/§4.4
// "Split"). It takes over commitPath's job of minting the rest of the path:
// once a level no longer overflows, every frame above it still needs a
// fresh ref (its child pointer changed), so this walks all the way to the
// root and sets t.root itself, minting each surviving page exactly once.
func (t *Tree) splitUp(path []frame) error {
	childRef := uint64(0)
	haveChild := false

	for i := len(path) - 1; i >= 0; i-- {
		f := &path[i]
		if haveChild {
			f.page.Children[f.idx] = childRef
			haveChild = false
		}

		if len(f.page.Keys) <= t.cfg.Fanout {
			ref := t.alloc.New(f.page)
			if i == 0 {
				t.root = ref
				return nil
			}
			childRef = ref
			haveChild = true
			continue
		}

		var left, right *Page
		var pivot []byte
		if f.page.IsLeaf {
			left, right, pivot = splitLeaf(f.page)
		} else {
			left, right, pivot = splitNode(f.page)
		}

		leftRef := t.alloc.New(left)
		rightRef := t.alloc.New(right)

		if i == 0 {
			newRoot := &Page{
				IsLeaf:   false,
				Keys:     [][]byte{pivot},
				Children: []uint64{leftRef, rightRef},
			}
			t.root = t.alloc.New(newRoot)
			return nil
		}

		mySlot := path[i-1].idx
		parent := path[i-1].page
		parent.Children[mySlot] = leftRef
		parent.Keys = insertAt(parent.Keys, mySlot, pivot)
		parent.Children = insertAt(parent.Children, mySlot+1, rightRef)
	}
	return nil
}

// splitLeaf splits a leaf at the midpoint; the separator pushed to the
// parent is the smallest key of the right half, which also stays in the
// right leaf (spec.md §4.3 "Leaf split": keys are never removed from
// leaves, only copied upward as separators).
func splitLeaf(p *Page) (left, right *Page, pivot []byte) {
	mid := len(p.Keys) / 2
	left = &Page{IsLeaf: true, Keys: p.Keys[:mid:mid], Values: p.Values[:mid:mid]}
	right = &Page{IsLeaf: true, Keys: p.Keys[mid:], Values: p.Values[mid:]}
	return left, right, right.Keys[0]
}

// splitNode splits an internal node at the exact middle key; that key is
// removed from both children and propagated upward as the new separator
// (spec.md §4.4 "Node split": unlike a leaf split, the middle key does not
// survive in either child).
func splitNode(p *Page) (left, right *Page, pivot []byte) {
	mid := len(p.Keys) / 2
	pivot = p.Keys[mid]
	left = &Page{Keys: p.Keys[:mid:mid], Children: p.Children[:mid+1 : mid+1]}
	right = &Page{Keys: p.Keys[mid+1:], Children: p.Children[mid+1:]}
	return left, right, pivot
}

// --- Delete ---

// Delete removes every value stored under key. ErrKeyNotFound if absent.
func (t *Tree) Delete(key []byte) error {
	return t.deleteImpl(key, nil, true)
}

// DeleteValue removes a single (key, value) pair, dropping the key entirely
// once its last value is gone.
func (t *Tree) DeleteValue(key, value []byte) error {
	return t.deleteImpl(key, value, false)
}

func (t *Tree) deleteImpl(key, value []byte, wholeKey bool) error {
	if t.root == RefSentinel {
		return mverr.ErrKeyNotFound
	}
	path, err := t.descendForWrite(key)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1].page
	pos := leaf.FindPos(t.cfg.KeyCodec, key)
	if pos >= 0 {
		return mverr.ErrKeyNotFound
	}
	idx := -(pos + 1)

	removeKey := wholeKey
	if !wholeKey {
		empty, err := leaf.Values[idx].Remove(t.alloc, t.cfg, value)
		if err != nil {
			return err
		}
		removeKey = empty
	}
	if removeKey {
		t.nbElems--
		leaf.Keys = removeAt(leaf.Keys, idx)
		leaf.Values = removeAt(leaf.Values, idx)
	}

	return t.rebalanceUp(path)
}

// rebalanceUp restores the minimum-occupancy invariant from the leaf
// upward by borrowing from a sibling when it holds more than the minimum,
// merging with it otherwise (spec.md §4.3/§4.4 "Merge/borrow"), then
// re-mints refs bottom-up exactly like commitPath. A merge at level i
// removes that level's own slot from its parent, so it carries no ref of
// its own to mint; dead tracks which frames that happened to.
func (t *Tree) rebalanceUp(path []frame) error {
	dead := make([]bool, len(path))
	for i := len(path) - 1; i > 0; i-- {
		f := &path[i]
		parent := path[i-1].page
		min := t.cfg.minOccupancy()
		have := len(f.page.Keys)
		if !f.page.IsLeaf {
			// A node needs fanout/2+1 children, which is minOccupancy keys
			// when the fanout is even.
			have = len(f.page.Children)
			min = t.cfg.Fanout/2 + 1
		}
		if have >= min {
			continue
		}

		myIdx := path[i-1].idx
		merged, err := t.fixUnderflow(parent, myIdx, f.page)
		if err != nil {
			return err
		}
		dead[i] = merged
	}
	return t.commitPathAfterRebalance(path, dead)
}

// fixUnderflow borrows a key from whichever adjacent sibling can spare one
// (more than minOccupancy keys, spec.md §4.3 "borrow threshold"), or
// merges with the left sibling if present, else the right, when neither can
// spare one. Reports whether page was absorbed by a merge: when it was,
// parent.Children no longer has a slot for it, and the caller must not
// re-mint or re-wire it as an independent frame.
func (t *Tree) fixUnderflow(parent *Page, myIdx int, page *Page) (bool, error) {
	min := t.cfg.minOccupancy()

	var leftSib, rightSib *Page
	var leftRef, rightRef uint64
	if myIdx > 0 {
		leftRef = parent.Children[myIdx-1]
		p, err := t.getPage(leftRef)
		if err != nil {
			return false, err
		}
		leftSib = copyPage(p)
	}
	if myIdx+1 < len(parent.Children) {
		rightRef = parent.Children[myIdx+1]
		p, err := t.getPage(rightRef)
		if err != nil {
			return false, err
		}
		rightSib = copyPage(p)
	}

	canBorrowFrom := func(sib *Page) bool {
		if sib == nil {
			return false
		}
		return len(sib.Keys) > min
	}

	switch {
	case canBorrowFrom(leftSib):
		borrowFromLeft(parent, myIdx, leftSib, page)
		parent.Children[myIdx-1] = t.alloc.New(leftSib)
		t.alloc.Free(leftRef)
		return false, nil
	case canBorrowFrom(rightSib):
		borrowFromRight(parent, myIdx, page, rightSib)
		parent.Children[myIdx+1] = t.alloc.New(rightSib)
		t.alloc.Free(rightRef)
		return false, nil
	case leftSib != nil:
		merged := mergePages(leftSib, page, parent.Keys[myIdx-1])
		parent.Children = removeAt(parent.Children, myIdx)
		parent.Children[myIdx-1] = t.alloc.New(merged)
		parent.Keys = removeAt(parent.Keys, myIdx-1)
		t.alloc.Free(leftRef)
		return true, nil
	case rightSib != nil:
		merged := mergePages(page, rightSib, parent.Keys[myIdx])
		parent.Children = removeAt(parent.Children, myIdx+1)
		parent.Children[myIdx] = t.alloc.New(merged)
		parent.Keys = removeAt(parent.Keys, myIdx)
		t.alloc.Free(rightRef)
		return true, nil
	default:
		// sole child of the root; nothing to do, root collapse handled by caller
		return false, nil
	}
}

func borrowFromLeft(parent *Page, myIdx int, left, self *Page) {
	if self.IsLeaf {
		n := len(left.Keys)
		borrowedKey, borrowedVal := left.Keys[n-1], left.Values[n-1]
		left.Keys, left.Values = left.Keys[:n-1], left.Values[:n-1]
		self.Keys = insertAt(self.Keys, 0, borrowedKey)
		self.Values = insertAt(self.Values, 0, borrowedVal)
		parent.Keys[myIdx-1] = self.Keys[0]
		return
	}
	n := len(left.Keys)
	borrowedKey := left.Keys[n-1]
	borrowedChild := left.Children[n]
	left.Keys, left.Children = left.Keys[:n-1], left.Children[:n]
	self.Keys = insertAt(self.Keys, 0, parent.Keys[myIdx-1])
	self.Children = insertAt(self.Children, 0, borrowedChild)
	parent.Keys[myIdx-1] = borrowedKey
}

func borrowFromRight(parent *Page, myIdx int, self, right *Page) {
	if self.IsLeaf {
		borrowedKey, borrowedVal := right.Keys[0], right.Values[0]
		right.Keys, right.Values = right.Keys[1:], right.Values[1:]
		self.Keys = append(self.Keys, borrowedKey)
		self.Values = append(self.Values, borrowedVal)
		parent.Keys[myIdx] = right.Keys[0]
		return
	}
	borrowedKey := right.Keys[0]
	borrowedChild := right.Children[0]
	right.Keys, right.Children = right.Keys[1:], right.Children[1:]
	self.Keys = append(self.Keys, parent.Keys[myIdx])
	self.Children = append(self.Children, borrowedChild)
	parent.Keys[myIdx] = borrowedKey
}

// mergePages folds right into left. For leaves the separator is implicit
// (the right leaf's own smallest key), for nodes the parent separator must
// be reinserted between the two halves (mirrors splitNode's inverse).
func mergePages(left, right *Page, separator []byte) *Page {
	if left.IsLeaf {
		return &Page{
			IsLeaf: true,
			Keys:   append(append([][]byte{}, left.Keys...), right.Keys...),
			Values: append(append([]*ValueHolder{}, left.Values...), right.Values...),
		}
	}
	keys := append(append([][]byte{}, left.Keys...), separator)
	keys = append(keys, right.Keys...)
	children := append(append([]uint64{}, left.Children...), right.Children...)
	return &Page{Keys: keys, Children: children}
}

// commitPathAfterRebalance re-mints refs for every surviving frame on path
// bottom-up (their in-place contents may have changed: keys/values removed,
// or a borrowed sibling rewired in). A frame marked dead in dead was
// already absorbed into a sibling by fixUnderflow's merge branch, which
// wired the merged ref directly into its parent; such a frame contributes
// no ref here and must not be re-wired, or it would clobber the merge.
// Finally collapses the root when it is left an internal node with a
// single child.
func (t *Tree) commitPathAfterRebalance(path []frame, dead []bool) error {
	childRef := uint64(0)
	haveChild := false
	for i := len(path) - 1; i >= 0; i-- {
		if dead[i] {
			haveChild = false
			continue
		}
		f := &path[i]
		if haveChild {
			f.page.Children[f.idx] = childRef
		}
		childRef = t.alloc.New(f.page)
		haveChild = true
	}
	t.root = childRef

	for {
		root, err := t.getPage(t.root)
		if err != nil {
			return err
		}
		if root.IsLeaf {
			if len(root.Keys) == 0 {
				t.root = RefSentinel
			}
			break
		}
		if len(root.Children) > 1 {
			break
		}
		old := t.root
		t.root = root.Children[0]
		t.alloc.Free(old)
	}
	return nil
}
