package txn

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
	"github.com/nainya/mavibot/pkg/mvcc"
	"github.com/nainya/mavibot/pkg/record"
)

func openFixture(t *testing.T) (*record.Manager, *mvcc.Registry) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.mavibot")
	mgr, err := record.Open(context.Background(), path, record.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("record.Open: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr, mvcc.NewRegistry(mgr.PageFile())
}

func TestWriteCommitThenReadBack(t *testing.T) {
	mgr, reg := openFixture(t)
	if _, err := mgr.CreateTree("t1", codec.Bytes{}, codec.Bytes{}, false, 4); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}

	w, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	tr, err := w.Tree("t1")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	for _, kv := range [][2]string{{"1", "a"}, {"2", "b"}, {"3", "c"}, {"4", "d"}, {"5", "e"}} {
		if err := tr.Insert([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r := BeginRead(mgr, reg)
	defer r.Close()
	rt, err := r.Tree("t1")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	got, err := rt.Get([]byte("3"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "c" {
		t.Fatalf("Get(3) = %q, want c", got)
	}

	cur, err := r.Browse("t1")
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	defer cur.Close()
	var keys []string
	for cur.HasNext() {
		k, _, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		keys = append(keys, string(k))
	}
	want := []string{"1", "2", "3", "4", "5"}
	if len(keys) != len(want) {
		t.Fatalf("browse = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("browse[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	mgr, reg := openFixture(t)
	if _, err := mgr.CreateTree("t1", codec.Int64{}, codec.Bytes{}, false, 4); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}

	w1, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	tr1, _ := w1.Tree("t1")
	for _, k := range []int64{10, 20, 30} {
		kb, _ := codec.Int64{}.Serialize(k)
		if err := tr1.Insert(kb, []byte("v")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := w1.Commit(); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	r1 := BeginRead(mgr, reg)
	defer r1.Close()

	w2, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	tr2, _ := w2.Tree("t1")
	kb, _ := codec.Int64{}.Serialize(int64(40))
	if err := tr2.Insert(kb, []byte("v")); err != nil {
		t.Fatalf("Insert 40: %v", err)
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	cur1, err := r1.Browse("t1")
	if err != nil {
		t.Fatalf("Browse r1: %v", err)
	}
	defer cur1.Close()
	count := 0
	for cur1.HasNext() {
		if _, _, err := cur1.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("r1 should see 3 keys (pre-commit snapshot), saw %d", count)
	}

	r2 := BeginRead(mgr, reg)
	defer r2.Close()
	cur2, err := r2.Browse("t1")
	if err != nil {
		t.Fatalf("Browse r2: %v", err)
	}
	defer cur2.Close()
	count = 0
	for cur2.HasNext() {
		if _, _, err := cur2.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("r2 should see 4 keys (post-commit snapshot), saw %d", count)
	}
}

func TestSingleWriterRejectsSecondWrite(t *testing.T) {
	mgr, reg := openFixture(t)
	if _, err := mgr.CreateTree("t1", codec.Bytes{}, codec.Bytes{}, false, 4); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	w1, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := BeginWrite(context.Background(), mgr, reg); !errors.Is(err, mverr.ErrWriteBusy) {
		t.Fatalf("expected ErrWriteBusy, got %v", err)
	}
	if err := w1.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	w2, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite after rollback: %v", err)
	}
	if err := w2.Rollback(); err != nil {
		t.Fatalf("Rollback 2: %v", err)
	}
}

func TestDuplicateValuesSpillAndCollapse(t *testing.T) {
	mgr, reg := openFixture(t)
	thFanout := 8
	_, err := mgr.CreateTree("dups", codec.Bytes{}, codec.Bytes{}, true, thFanout)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}

	// Ten values exceed the up threshold (8) that write transactions use,
	// so the key's value holder spills into a sub-tree.
	w, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	tr, _ := w.Tree("dups")
	for _, v := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		if err := tr.Insert([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("Insert %s: %v", v, err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r := BeginRead(mgr, reg)
	defer r.Close()
	rt, err := r.Tree("dups")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	vals, err := rt.GetAll([]byte("k"))
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(vals) != 10 {
		t.Fatalf("expected 10 values, got %d", len(vals))
	}

	// Removing seven values leaves three, below the down threshold (4), so
	// the holder collapses back to an inline array.
	w2, err := BeginWrite(context.Background(), mgr, reg)
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	tr2, _ := w2.Tree("dups")
	for _, v := range []string{"b", "c", "d", "e", "f", "g", "h"} {
		if err := tr2.DeleteValue([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("DeleteValue %s: %v", v, err)
		}
	}
	if err := w2.Commit(); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	r2 := BeginRead(mgr, reg)
	defer r2.Close()
	rt2, err := r2.Tree("dups")
	if err != nil {
		t.Fatalf("Tree 2: %v", err)
	}
	vals, err = rt2.GetAll([]byte("k"))
	if err != nil {
		t.Fatalf("GetAll after collapse: %v", err)
	}
	want := []string{"a", "i", "j"}
	if len(vals) != len(want) {
		t.Fatalf("expected %d values after collapse, got %d", len(want), len(vals))
	}
	for i := range want {
		if string(vals[i]) != want[i] {
			t.Fatalf("value[%d] = %q, want %q", i, vals[i], want[i])
		}
	}
}
