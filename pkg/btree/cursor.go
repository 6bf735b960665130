package btree

// pathEntry is one level of a descent: page is the node or leaf read at
// that level, idx is the child/element index currently positioned on.
type pathEntry struct {
	ref  uint64
	page *Page
	idx  int
}

// Path is a stack of pathEntry from root to leaf, the shared primitive
// behind both internal iteration (browseForward) and pkg/mvcc's Cursor.
// A nil Path means "no current position" (tree empty or traversal
// exhausted), matching spec.md §4.7 "before_first / after_last" states.
type Path []pathEntry

func seekFirst(r Reader, root uint64) (Path, error) {
	if root == RefSentinel {
		return nil, nil
	}
	var path Path
	ref := root
	for {
		p, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		path = append(path, pathEntry{ref: ref, page: p, idx: 0})
		if p.IsLeaf {
			if len(p.Keys) == 0 {
				return nil, nil
			}
			return path, nil
		}
		ref = p.Children[0]
	}
}

func seekLast(r Reader, root uint64) (Path, error) {
	if root == RefSentinel {
		return nil, nil
	}
	var path Path
	ref := root
	for {
		p, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		if p.IsLeaf {
			idx := len(p.Keys) - 1
			if idx < 0 {
				return nil, nil
			}
			path = append(path, pathEntry{ref: ref, page: p, idx: idx})
			return path, nil
		}
		idx := len(p.Children) - 1
		path = append(path, pathEntry{ref: ref, page: p, idx: idx})
		ref = p.Children[idx]
	}
}

// SeekKey descends to the position key occupies or would occupy; found
// reports whether key is actually present at that leaf slot.
func SeekKey(r Reader, root uint64, cfg Config, key []byte) (path Path, found bool, err error) {
	if root == RefSentinel {
		return nil, false, nil
	}
	ref := root
	for {
		p, err := r.Get(ref)
		if err != nil {
			return nil, false, err
		}
		pos := p.FindPos(cfg.KeyCodec, key)
		if p.IsLeaf {
			if pos < 0 {
				idx := -(pos + 1)
				path = append(path, pathEntry{ref: ref, page: p, idx: idx})
				return path, true, nil
			}
			// Not present: pos is the insertion index. If it names a real
			// slot, that slot holds the smallest key >= the search key,
			// exactly what seek() wants. If pos == len(Keys) (the search key
			// is greater than everything in this leaf), climb to the right
			// sibling's leftmost key the same way Next does.
			path = append(path, pathEntry{ref: ref, page: p, idx: pos})
			if pos >= len(p.Keys) {
				next, err := path.next(r)
				return next, false, err
			}
			return path, false, nil
		}
		idx := pos
		if pos < 0 {
			idx = -(pos + 1) + 1
		}
		path = append(path, pathEntry{ref: ref, page: p, idx: idx})
		ref = p.Children[idx]
	}
}

// Key and Value return the current leaf position's key and value holder.
func (p Path) Key() []byte {
	leaf := p[len(p)-1]
	return leaf.page.Keys[leaf.idx]
}

func (p Path) ValueHolder() *ValueHolder {
	leaf := p[len(p)-1]
	return leaf.page.Values[leaf.idx]
}

// next advances to the following leaf element in ascending key order,
// returning a nil Path once the end of the tree is reached.
func (p Path) next(r Reader) (Path, error) {
	out := append(Path(nil), p...)
	leaf := &out[len(out)-1]
	if leaf.idx+1 < len(leaf.page.Keys) {
		leaf.idx++
		return out, nil
	}

	// pop up until we find an ancestor with an unvisited right sibling
	for i := len(out) - 2; i >= 0; i-- {
		parent := &out[i]
		if parent.idx+1 < len(parent.page.Children) {
			parent.idx++
			newRef := parent.page.Children[parent.idx]
			return descendLeftmost(r, out[:i+1], newRef)
		}
	}
	return nil, nil
}

// prev is next's mirror image, descending rightmost on the way back down.
func (p Path) prev(r Reader) (Path, error) {
	out := append(Path(nil), p...)
	leaf := &out[len(out)-1]
	if leaf.idx > 0 {
		leaf.idx--
		return out, nil
	}

	for i := len(out) - 2; i >= 0; i-- {
		parent := &out[i]
		if parent.idx > 0 {
			parent.idx--
			newRef := parent.page.Children[parent.idx]
			return descendRightmost(r, out[:i+1], newRef)
		}
	}
	return nil, nil
}

func descendLeftmost(r Reader, base Path, ref uint64) (Path, error) {
	out := append(Path(nil), base...)
	for {
		p, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, pathEntry{ref: ref, page: p, idx: 0})
		if p.IsLeaf {
			return out, nil
		}
		ref = p.Children[0]
	}
}

func descendRightmost(r Reader, base Path, ref uint64) (Path, error) {
	out := append(Path(nil), base...)
	for {
		p, err := r.Get(ref)
		if err != nil {
			return nil, err
		}
		if p.IsLeaf {
			out = append(out, pathEntry{ref: ref, page: p, idx: len(p.Keys) - 1})
			return out, nil
		}
		idx := len(p.Children) - 1
		out = append(out, pathEntry{ref: ref, page: p, idx: idx})
		ref = p.Children[idx]
	}
}

// SeekFirst and SeekLast are the exported entry points pkg/mvcc uses to
// build a cursor's initial position (spec.md §4.7 "seek_first"/"seek_last").
func SeekFirst(r Reader, root uint64) (Path, error) { return seekFirst(r, root) }
func SeekLast(r Reader, root uint64) (Path, error)  { return seekLast(r, root) }

// Next and Prev are the exported step operations behind a cursor's
// move_to_next_element / move_to_previous_element (spec.md §4.7).
func (p Path) Next(r Reader) (Path, error) { return p.next(r) }
func (p Path) Prev(r Reader) (Path, error) { return p.prev(r) }
