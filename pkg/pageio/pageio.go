// Package pageio maps fixed-size file pages onto byte buffers: it chains
// multi-page records, allocates and frees pages through a free-page list,
// and owns the global file header. It is the lowest storage layer described
// in spec.md §4.1; everything above it (pkg/record, pkg/btree) deals only
// in "records" addressed by the file offset of their first page.
//
// Storage format (spec.md §6): the backing file is a sequence of
// fixed-size pages. Page 0 is the header. Every other page belongs to
// exactly one record or sits on the free list. Each page begins with an
// 8-byte next-page offset (sentinel 0xFFFFFFFFFFFFFFFF means end-of-record)
// and a 4-byte payload length; the first page of a record additionally
// carries the record's total payload length in the first 4 bytes of its
// payload. All multi-byte integers are big-endian, following the teacher's
// wire-format convention (NayanaChandrika99-DocReasoner's pager and this
// pack's intellect4all-storage-engines/btree/page.go both use
// encoding/binary.BigEndian for on-disk integers).
package pageio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nainya/mavibot/pkg/mverr"
)

const (
	// DefaultPageSize is used when Options.PageSize is zero.
	DefaultPageSize = 4096

	pageHeaderSize = 12 // 8-byte next offset + 4-byte payload-in-this-page
	firstPageExtra = 4  // first page of a record additionally carries total length

	sentinelNext = ^uint64(0) // 0xFFFFFFFFFFFFFFFF: end of record / free-list tail

	magic         = "MAVIBOTFIL"
	headerVersion = uint32(1)
	// headerLayout: 4 seq | 10 magic | 4 version | 4 page size | 8 free-list
	// head | 8 revision | 4 directory length | directory ... | 4 seq at the
	// last 4 bytes of page 0; see writeHeader and encodeHeaderBody.
	headerPageOffset = 0
)

// Options configures a File at creation time.
type Options struct {
	PageSize int // power of two, default DefaultPageSize; ignored when reopening an existing file
}

// Header is the parsed content of page 0 (spec.md §6 "Global header layout"),
// minus the per-tree directory which pkg/record owns and (de)serializes into
// the trailing bytes of this page.
type Header struct {
	PageSize     uint32
	TreeCount    uint32 // held in memory only: not written to page 0, 0 after reopen
	FreeListHead uint64 // offset of head-of-free-list, or sentinelNext for "no free page"
	Revision     uint64
	Directory    []byte // opaque to pageio; pkg/record owns its layout
}

// File is the page I/O layer bound to one backing file.
type File struct {
	mu       sync.Mutex
	f        *os.File
	pageSize int
	fileSize int64 // pages beyond this must be extended before use
	header   Header

	// seq alternates between the two redundant header copies embedded at
	// the start and end of page 0, so a torn write during a header publish
	// is detectable on reopen (spec.md §4.2 "Header publication").
	seq uint32
}

// Open opens or creates the backing file at path. A freshly created file
// gets an empty header (no free pages, revision 0, empty directory).
func Open(path string, opts Options) (*File, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", mverr.ErrIO, path, err)
	}

	pf := &File{f: f, pageSize: pageSize}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", mverr.ErrIO, path, err)
	}

	if info.Size() == 0 {
		pf.header = Header{PageSize: uint32(pageSize), FreeListHead: sentinelNext}
		pf.fileSize = int64(pageSize)
		if err := pf.f.Truncate(pf.fileSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: truncate %s: %v", mverr.ErrIO, path, err)
		}
		if err := pf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return pf, nil
	}

	pf.fileSize = info.Size()
	if err := pf.readHeader(); err != nil {
		quarantined := quarantine(path)
		f.Close()
		return nil, fmt.Errorf("%w (file quarantined as %s)", err, quarantined)
	}
	pf.pageSize = int(pf.header.PageSize)
	return pf, nil
}

// quarantine renames a corrupt database file aside so a subsequent Open
// call never races with a second accidental open of the broken file; the
// uuid suffix (github.com/google/uuid, as used for collision-proof naming
// elsewhere in the retrieval pack) guarantees repeated failed opens of the
// same path never collide with one another.
func quarantine(path string) string {
	dst := fmt.Sprintf("%s.corrupt-%s", path, uuid.NewString())
	_ = os.Rename(path, dst)
	return filepath.Base(dst)
}

// PageSize returns the page size this file was created with.
func (pf *File) PageSize() int { return pf.pageSize }

// Header returns a copy of the current header.
func (pf *File) Header() Header {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	h := pf.header
	h.Directory = append([]byte(nil), pf.header.Directory...)
	return h
}

// SetHeader publishes a new header (spec.md §4.2 "Header publication"): the
// caller (pkg/record) supplies the new directory bytes, free-list head and
// revision after a commit has written its pages. The header page is written
// last and the file is then synced, establishing the commit's linearization
// point.
func (pf *File) SetHeader(h Header) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	h.PageSize = uint32(pf.pageSize)
	pf.header = h
	return pf.writeHeader()
}

// writeHeader serializes pf.header into page 0 using the redundant
// sequence-number scheme: the 4-byte sequence is written identically at the
// start and end of page 0. On reopen, a disagreement marks the header write
// as torn and readHeader reports ErrCorruptPage (spec.md §4.2 "Header
// publication").
func (pf *File) writeHeader() error {
	pf.seq++
	buf := make([]byte, pf.pageSize)

	body := encodeHeaderBody(pf.header)
	if pageHeaderBudget(pf.pageSize) < len(body)+8 {
		return fmt.Errorf("%w: header directory too large for page size %d", mverr.ErrIO, pf.pageSize)
	}

	binary.BigEndian.PutUint32(buf[0:4], pf.seq)
	copy(buf[4:], body)
	binary.BigEndian.PutUint32(buf[pf.pageSize-4:], pf.seq)

	if _, err := pf.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: write header: %v", mverr.ErrIO, err)
	}
	return pf.f.Sync()
}

func pageHeaderBudget(pageSize int) int { return pageSize - 8 }

func encodeHeaderBody(h Header) []byte {
	buf := make([]byte, 10+4+4+8+8+4+len(h.Directory))
	copy(buf[0:10], magic)
	binary.BigEndian.PutUint32(buf[10:14], headerVersion)
	binary.BigEndian.PutUint32(buf[14:18], h.PageSize)
	binary.BigEndian.PutUint64(buf[18:26], h.FreeListHead)
	binary.BigEndian.PutUint64(buf[26:34], h.Revision)
	binary.BigEndian.PutUint32(buf[34:38], uint32(len(h.Directory)))
	copy(buf[38:], h.Directory)
	return buf
}

func decodeHeaderBody(buf []byte) (Header, error) {
	if len(buf) < 38 || string(buf[0:10]) != magic {
		return Header{}, mverr.ErrCorruptPage
	}
	version := binary.BigEndian.Uint32(buf[10:14])
	if version != headerVersion {
		return Header{}, fmt.Errorf("%w: unsupported header version %d", mverr.ErrCorruptPage, version)
	}
	h := Header{
		PageSize:     binary.BigEndian.Uint32(buf[14:18]),
		FreeListHead: binary.BigEndian.Uint64(buf[18:26]),
		Revision:     binary.BigEndian.Uint64(buf[26:34]),
	}
	dirLen := binary.BigEndian.Uint32(buf[34:38])
	if len(buf) < 38+int(dirLen) {
		return Header{}, mverr.ErrCorruptPage
	}
	h.Directory = append([]byte(nil), buf[38:38+int(dirLen)]...)
	return h, nil
}

// readHeader reads page 0 and checks that its two redundant sequence copies
// agree. They disagree only when the last header write was torn (a torn
// write only ever touches the single in-flight commit, never a previously
// durable one, since SetHeader's Sync call makes the prior write durable
// before the next one begins); readHeader then fails with ErrCorruptPage.
// Page 0 holds a single header copy, so there is no earlier header to fall
// back to.
func (pf *File) readHeader() error {
	buf := make([]byte, pf.header0Size())
	if _, err := pf.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return fmt.Errorf("%w: read header: %v", mverr.ErrIO, err)
	}

	seqHead := binary.BigEndian.Uint32(buf[0:4])
	seqTail := binary.BigEndian.Uint32(buf[len(buf)-4:])
	if seqHead != seqTail {
		return fmt.Errorf("%w: header sequence mismatch (torn write)", mverr.ErrCorruptPage)
	}

	h, err := decodeHeaderBody(buf[4 : len(buf)-4])
	if err != nil {
		return err
	}
	pf.header = h
	pf.seq = seqHead
	return nil
}

// header0Size is the size of page 0 on disk. A reopened file may have been
// created with a page size other than the one passed to Open, so the page
// size recorded in the header body (after the 4-byte sequence, 10-byte magic
// and 4-byte version) is used when it is plausible; otherwise this falls
// back to pf.pageSize, capped at the file size. Open re-derives
// pf.pageSize from the decoded body afterwards.
func (pf *File) header0Size() int {
	var field [4]byte
	if _, err := pf.f.ReadAt(field[:], 4+14); err == nil {
		if ps := int64(binary.BigEndian.Uint32(field[:])); ps >= 4+38+4 && ps <= pf.fileSize {
			return int(ps)
		}
	}
	if pf.pageSize == 0 {
		return DefaultPageSize
	}
	if pf.fileSize < int64(pf.pageSize) {
		return int(pf.fileSize)
	}
	return pf.pageSize
}
