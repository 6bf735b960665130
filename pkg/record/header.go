// Package record implements the record manager (spec.md §4.2): it owns the
// open pageio.File, maintains the directory of named B+trees in the global
// header, and mediates creating/opening trees. pkg/txn builds read and
// write transactions on top of the primitives this package exposes.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/mavibot/pkg/mverr"
)

// flagAllowDups is the one defined bit of the tree header's flags byte
// (spec.md §6 "Tree header layout").
const flagAllowDups = byte(1) << 0

// TreeHeader is the persisted metadata for one managed B+tree (spec.md §6
// "Tree header layout"): name; root offset; revision; fanout; flags;
// key/value codec tags; element count.
type TreeHeader struct {
	Name          string
	Root          uint64
	Revision      uint64
	Fanout        uint32
	AllowDups     bool
	KeyCodecTag   string
	ValueCodecTag string
	NbElems       uint64
}

func (h TreeHeader) encode() []byte {
	flags := byte(0)
	if h.AllowDups {
		flags |= flagAllowDups
	}
	size := 4 + len(h.Name) + 8 + 8 + 4 + 1 +
		4 + len(h.KeyCodecTag) + 4 + len(h.ValueCodecTag) + 8
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.Name)))
	buf = append(buf, h.Name...)
	buf = binary.BigEndian.AppendUint64(buf, h.Root)
	buf = binary.BigEndian.AppendUint64(buf, h.Revision)
	buf = binary.BigEndian.AppendUint32(buf, h.Fanout)
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.KeyCodecTag)))
	buf = append(buf, h.KeyCodecTag...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.ValueCodecTag)))
	buf = append(buf, h.ValueCodecTag...)
	buf = binary.BigEndian.AppendUint64(buf, h.NbElems)
	return buf
}

func decodeTreeHeader(buf []byte) (TreeHeader, error) {
	var h TreeHeader
	readU32 := func() (uint32, error) {
		if len(buf) < 4 {
			return 0, fmt.Errorf("%w: truncated tree header", mverr.ErrCorruptPage)
		}
		v := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if len(buf) < 8 {
			return 0, fmt.Errorf("%w: truncated tree header", mverr.ErrCorruptPage)
		}
		v := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		return v, nil
	}
	readStr := func() (string, error) {
		n, err := readU32()
		if err != nil {
			return "", err
		}
		if uint32(len(buf)) < n {
			return "", fmt.Errorf("%w: truncated tree header string", mverr.ErrCorruptPage)
		}
		s := string(buf[:n])
		buf = buf[n:]
		return s, nil
	}

	var err error
	if h.Name, err = readStr(); err != nil {
		return h, err
	}
	if h.Root, err = readU64(); err != nil {
		return h, err
	}
	if h.Revision, err = readU64(); err != nil {
		return h, err
	}
	if h.Fanout, err = readU32(); err != nil {
		return h, err
	}
	if len(buf) < 1 {
		return h, fmt.Errorf("%w: truncated tree header flags", mverr.ErrCorruptPage)
	}
	h.AllowDups = buf[0]&flagAllowDups != 0
	buf = buf[1:]
	if h.KeyCodecTag, err = readStr(); err != nil {
		return h, err
	}
	if h.ValueCodecTag, err = readStr(); err != nil {
		return h, err
	}
	if h.NbElems, err = readU64(); err != nil {
		return h, err
	}
	return h, nil
}

// directoryEntry is one (name, tree-header-record-offset) pair persisted in
// the global header's directory bytes.
type directoryEntry struct {
	name   string
	offset uint64
}

func encodeDirectory(entries []directoryEntry) []byte {
	buf := make([]byte, 0, 64*len(entries))
	for _, e := range entries {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.name)))
		buf = append(buf, e.name...)
		buf = binary.BigEndian.AppendUint64(buf, e.offset)
	}
	return buf
}

func decodeDirectory(buf []byte) ([]directoryEntry, error) {
	var out []directoryEntry
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("%w: truncated directory", mverr.ErrCorruptPage)
		}
		n := binary.BigEndian.Uint32(buf[:4])
		buf = buf[4:]
		if uint32(len(buf)) < n+8 {
			return nil, fmt.Errorf("%w: truncated directory entry", mverr.ErrCorruptPage)
		}
		name := string(buf[:n])
		buf = buf[n:]
		offset := binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
		out = append(out, directoryEntry{name: name, offset: offset})
	}
	return out, nil
}
