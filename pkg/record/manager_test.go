package record

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
)

func TestCreateAndOpenTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.mavibot")
	m, err := Open(context.Background(), path, Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if _, err := m.CreateTree("widgets", codec.Bytes{}, codec.Bytes{}, false, 32); err != nil {
		t.Fatalf("CreateTree: %v", err)
	}

	if _, err := m.CreateTree("widgets", codec.Bytes{}, codec.Bytes{}, false, 32); !errors.Is(err, mverr.ErrAlreadyManaged) {
		t.Fatalf("expected ErrAlreadyManaged, got %v", err)
	}

	th, kc, vc, err := m.OpenTree("widgets")
	if err != nil {
		t.Fatalf("OpenTree: %v", err)
	}
	if th.Fanout != 32 || kc.Tag() != "bytes" || vc.Tag() != "bytes" {
		t.Fatalf("unexpected tree header: %+v", th)
	}

	if _, _, _, err := m.OpenTree("missing"); !errors.Is(err, mverr.ErrNoSuchTree) {
		t.Fatalf("expected ErrNoSuchTree, got %v", err)
	}

	names := m.ListTrees()
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("ListTrees = %v", names)
	}
}

func TestDirectoryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.mavibot")
	m, err := Open(context.Background(), path, Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.CreateTree("a", codec.Bytes{}, codec.Bytes{}, false, 16); err != nil {
		t.Fatalf("CreateTree a: %v", err)
	}
	if _, err := m.CreateTree("b", codec.Int64{}, codec.Bytes{}, true, 16); err != nil {
		t.Fatalf("CreateTree b: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()

	names := m2.ListTrees()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("ListTrees after reopen = %v", names)
	}
	thb, kc, _, err := m2.OpenTree("b")
	if err != nil {
		t.Fatalf("OpenTree b: %v", err)
	}
	if !thb.AllowDups || kc.Tag() != "int64" {
		t.Fatalf("tree b header not recovered correctly: %+v kc=%s", thb, kc.Tag())
	}
}

func TestSingleWriterEnforced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.mavibot")
	m, err := Open(context.Background(), path, Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if err := m.TryAcquireWriter(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.TryAcquireWriter(); !errors.Is(err, mverr.ErrWriteBusy) {
		t.Fatalf("expected ErrWriteBusy, got %v", err)
	}
	m.ReleaseWriter()
	if err := m.TryAcquireWriter(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	m.ReleaseWriter()
}
