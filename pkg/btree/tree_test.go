package btree

import (
	"fmt"
	"testing"

	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
)

// memStore is a trivial in-memory Allocator good enough to exercise Tree
// logic without pkg/record or pkg/pageio involved.
type memStore struct {
	pages map[uint64]*Page
	next  uint64
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[uint64]*Page)}
}

func (m *memStore) Get(ref uint64) (*Page, error) {
	p, ok := m.pages[ref]
	if !ok {
		return nil, mverr.ErrCorruptPage
	}
	return p, nil
}

func (m *memStore) New(p *Page) uint64 {
	m.next++
	ref := m.next
	m.pages[ref] = p
	return ref
}

func (m *memStore) Free(ref uint64) {
	delete(m.pages, ref)
}

func smallCfg() Config {
	return Config{KeyCodec: codec.Bytes{}, ValueCodec: codec.Bytes{}, Fanout: 4}
}

func TestTreeInsertGet(t *testing.T) {
	store := newMemStore()
	tr := New(store, smallCfg())

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		if err := tr.Insert(key, []byte(fmt.Sprintf("val-%d", i))); err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		got, err := tr.Get(key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		want := fmt.Sprintf("val-%d", i)
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", key, got, want)
		}
	}

	if _, err := tr.Get([]byte("missing")); err != mverr.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestTreeDeleteShrinksAndRebalances(t *testing.T) {
	store := newMemStore()
	tr := New(store, smallCfg())

	const n = 64
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := tr.Insert(key, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := tr.Delete(key); err != nil {
			t.Fatalf("Delete(%s): %v", key, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		_, err := tr.Get(key)
		if i%2 == 0 {
			if err != mverr.ErrKeyNotFound {
				t.Fatalf("expected %s deleted, got err=%v", key, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("expected %s still present: %v", key, err)
		}
	}
}

func TestTreeDuplicateValuesInlineAndSubtree(t *testing.T) {
	store := newMemStore()
	cfg := smallCfg()
	cfg.AllowDups = true
	cfg.UpThresh = 3
	cfg.DownThresh = 1
	tr := New(store, cfg)

	key := []byte("shared")
	for i := 0; i < 10; i++ {
		if err := tr.Insert(key, []byte(fmt.Sprintf("v%02d", i))); err != nil {
			t.Fatalf("Insert dup %d: %v", i, err)
		}
	}

	vals, err := tr.GetAll(key)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(vals) != 10 {
		t.Fatalf("expected 10 values, got %d", len(vals))
	}

	for i := 0; i < 8; i++ {
		if err := tr.DeleteValue(key, []byte(fmt.Sprintf("v%02d", i))); err != nil {
			t.Fatalf("DeleteValue %d: %v", i, err)
		}
	}
	vals, err = tr.GetAll(key)
	if err != nil {
		t.Fatalf("GetAll after deletes: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 values left, got %d", len(vals))
	}
}

// walkShape descends the whole tree rooted at root, checking that every
// page obeys the fanout/minOccupancy bounds (spec.md §8.4) and that leaf
// keys are strictly increasing with no key repeated across two leaves
// (spec.md §8.3, §8.8), then returns the keys seen in order.
func walkShape(t *testing.T, store *memStore, root uint64, cfg Config, isRoot bool) []string {
	t.Helper()
	if root == RefSentinel {
		return nil
	}
	p, err := store.Get(root)
	if err != nil {
		t.Fatalf("Get(%d): %v", root, err)
	}

	n := len(p.Keys)
	min := cfg.minOccupancy()
	if !isRoot && n < min {
		t.Fatalf("page %d underflows: %d keys, want >= %d", root, n, min)
	}
	if n > cfg.Fanout {
		t.Fatalf("page %d overflows: %d keys, want <= %d", root, n, cfg.Fanout)
	}

	if p.IsLeaf {
		out := make([]string, n)
		for i, k := range p.Keys {
			out[i] = string(k)
		}
		return out
	}

	if len(p.Children) != n+1 {
		t.Fatalf("node %d has %d keys but %d children, want %d", root, n, len(p.Children), n+1)
	}
	var keys []string
	for _, child := range p.Children {
		keys = append(keys, walkShape(t, store, child, cfg, false)...)
	}
	return keys
}

func assertStrictlyIncreasingNoDup(t *testing.T, keys []string) {
	t.Helper()
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("keys not strictly increasing at %d: %s then %s (duplicate across siblings or out of order)", i, keys[i-1], keys[i])
		}
	}
}

func TestInsertSplitFormsInternalRoot(t *testing.T) {
	store := newMemStore()
	cfg := smallCfg() // Fanout: 4
	tr := New(store, cfg)

	for i := 0; i < 5; i++ {
		key := []byte(fmt.Sprintf("%d", i))
		if err := tr.Insert(key, []byte("v")); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	root, err := store.Get(tr.Root())
	if err != nil {
		t.Fatalf("Get root: %v", err)
	}
	if root.IsLeaf {
		t.Fatalf("root is still a single leaf after overflowing fanout %d with 5 keys", cfg.Fanout)
	}
	if len(root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(root.Children))
	}
	if len(root.Keys) != 1 {
		t.Fatalf("root has %d keys, want 1", len(root.Keys))
	}

	keys := walkShape(t, store, tr.Root(), cfg, true)
	assertStrictlyIncreasingNoDup(t, keys)
	if len(keys) != 5 {
		t.Fatalf("leaves hold %d keys, want 5", len(keys))
	}
}

func TestTreeShapeInvariantsUnderInsertAndDelete(t *testing.T) {
	store := newMemStore()
	cfg := smallCfg()
	tr := New(store, cfg)

	const n = 100
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := tr.Insert(key, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	keys := walkShape(t, store, tr.Root(), cfg, true)
	assertStrictlyIncreasingNoDup(t, keys)
	if len(keys) != n {
		t.Fatalf("got %d keys after insert, want %d", len(keys), n)
	}

	// Delete every third key, forcing both borrow and merge rebalancing
	// (spec.md §4.3/§4.4), and re-check the same invariants hold.
	for i := 0; i < n; i += 3 {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := tr.Delete(key); err != nil {
			t.Fatalf("Delete(%s): %v", key, err)
		}
	}
	keys = walkShape(t, store, tr.Root(), cfg, true)
	assertStrictlyIncreasingNoDup(t, keys)

	want := 0
	for i := 0; i < n; i++ {
		if i%3 != 0 {
			want++
		}
	}
	if len(keys) != want {
		t.Fatalf("got %d keys after delete, want %d", len(keys), want)
	}
	if int64(len(keys)) != tr.NbElems() {
		t.Fatalf("NbElems = %d, want %d", tr.NbElems(), len(keys))
	}
}

func TestSeekAndWalkAscending(t *testing.T) {
	store := newMemStore()
	cfg := smallCfg()
	tr := New(store, cfg)

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%02d", i))
		if err := tr.Insert(key, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	path, err := SeekFirst(store, tr.Root())
	if err != nil {
		t.Fatalf("SeekFirst: %v", err)
	}
	count := 0
	var prev string
	for path != nil {
		k := string(path.Key())
		if count > 0 && k <= prev {
			t.Fatalf("keys out of order: %s then %s", prev, k)
		}
		prev = k
		count++
		path, err = path.Next(store)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if count != 20 {
		t.Fatalf("expected to visit 20 keys, visited %d", count)
	}
}
