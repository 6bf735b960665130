package mavibot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nainya/mavibot/pkg/codec"
)

func TestDBCreateInsertCommitReadBack(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "db.mavibot"), Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.CreateTree("users", codec.Bytes{}, codec.Bytes{}, false, 4); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}

	w, err := db.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	tr, err := w.Tree("users")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if err := tr.Insert([]byte("alice"), []byte("admin")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r := db.BeginRead()
	defer r.Close()
	rt, err := r.Tree("users")
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	got, err := rt.Get([]byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "admin" {
		t.Fatalf("Get = %q, want admin", got)
	}

	cur, err := r.Browse("users")
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	defer cur.Close()
	if !cur.HasNext() {
		t.Fatal("expected at least one entry")
	}
	k, v, err := cur.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(k) != "alice" || string(v) != "admin" {
		t.Fatalf("Next = (%q, %q), want (alice, admin)", k, v)
	}
}

func TestDBOpenTreeUnknownNameFails(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "db.mavibot"), Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	r := db.BeginRead()
	defer r.Close()
	if _, err := r.Tree("nope"); !errors.Is(err, ErrNoSuchTree) {
		t.Fatalf("expected ErrNoSuchTree, got %v", err)
	}
}

func TestDBDuplicateCreateTreeFails(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "db.mavibot"), Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.CreateTree("t", codec.Bytes{}, codec.Bytes{}, false, 4); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if err := db.CreateTree("t", codec.Bytes{}, codec.Bytes{}, false, 4); !errors.Is(err, ErrAlreadyManaged) {
		t.Fatalf("expected ErrAlreadyManaged, got %v", err)
	}
}
