package pageio

import (
	"encoding/binary"
	"fmt"

	"github.com/nainya/mavibot/pkg/mverr"
)

// payloadCap is the number of payload bytes a single page can hold.
func (pf *File) payloadCap() int { return pf.pageSize - pageHeaderSize }

// Allocate returns n page offsets chained together in order (page i's next
// field points at page i+1; the last page's next field is the end-of-record
// sentinel). Pages are popped from the free list first; the file is
// extended with fresh pages only once the free list is exhausted
// (spec.md §4.1 "Free list").
func (pf *File) Allocate(n int) ([]uint64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.allocateLocked(n)
}

func (pf *File) allocateLocked(n int) ([]uint64, error) {
	if n <= 0 {
		return nil, nil
	}

	offsets := make([]uint64, 0, n)
	for len(offsets) < n {
		ptr, ok, err := pf.popFreeLocked()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		offsets = append(offsets, ptr)
	}

	for len(offsets) < n {
		offsets = append(offsets, uint64(pf.fileSize))
		pf.fileSize += int64(pf.pageSize)
	}

	if err := pf.f.Truncate(pf.fileSize); err != nil {
		return nil, fmt.Errorf("%w: extend file: %v", mverr.ErrIO, err)
	}

	for i, off := range offsets {
		next := sentinelNext
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		if err := pf.writePageHeaderLocked(off, next, 0); err != nil {
			return nil, err
		}
	}

	return offsets, nil
}

// popFreeLocked removes and returns the head of the free list, or ok=false
// if the list is empty.
func (pf *File) popFreeLocked() (uint64, bool, error) {
	head := pf.header.FreeListHead
	if head == sentinelNext {
		return 0, false, nil
	}
	next, _, err := pf.readPageHeaderLocked(head)
	if err != nil {
		return 0, false, err
	}
	pf.header.FreeListHead = next
	return head, true, nil
}

// pushFreeLocked threads offset onto the head of the free list.
func (pf *File) pushFreeLocked(offset uint64) error {
	if err := pf.writePageHeaderLocked(offset, pf.header.FreeListHead, 0); err != nil {
		return err
	}
	pf.header.FreeListHead = offset
	return nil
}

func (pf *File) writePageHeaderLocked(offset, next uint64, payloadLen uint32) error {
	var hdr [pageHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], next)
	binary.BigEndian.PutUint32(hdr[8:12], payloadLen)
	if _, err := pf.f.WriteAt(hdr[:], int64(offset)); err != nil {
		return fmt.Errorf("%w: write page header at %d: %v", mverr.ErrIO, offset, err)
	}
	return nil
}

func (pf *File) readPageHeaderLocked(offset uint64) (next uint64, payloadLen uint32, err error) {
	var hdr [pageHeaderSize]byte
	if _, e := pf.f.ReadAt(hdr[:], int64(offset)); e != nil {
		return 0, 0, fmt.Errorf("%w: read page header at %d: %v", mverr.ErrIO, offset, e)
	}
	return binary.BigEndian.Uint64(hdr[0:8]), binary.BigEndian.Uint32(hdr[8:12]), nil
}

// Write serializes data across the page chain rooted at offsets[0],
// splitting payload bytes across pages as needed. The first page's payload
// additionally carries the record's total length in its first 4 bytes
// (spec.md §4.1). len(offsets) must be sufficient to hold 4+len(data)
// bytes; Put computes the right count automatically.
func (pf *File) Write(offsets []uint64, data []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	cap0 := pf.payloadCap() - firstPageExtra
	capN := pf.payloadCap()

	remaining := data
	for i, off := range offsets {
		budget := capN
		extra := 0
		if i == 0 {
			budget = cap0
			extra = firstPageExtra
		}
		n := len(remaining)
		if n > budget {
			n = budget
		}

		buf := make([]byte, extra+n)
		if i == 0 {
			binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
		}
		copy(buf[extra:], remaining[:n])
		remaining = remaining[n:]

		next := sentinelNext
		if i+1 < len(offsets) {
			next = offsets[i+1]
		}
		if err := pf.writePageHeaderLocked(off, next, uint32(len(buf))); err != nil {
			return err
		}
		if _, err := pf.f.WriteAt(buf, int64(off)+pageHeaderSize); err != nil {
			return fmt.Errorf("%w: write payload at %d: %v", mverr.ErrIO, off, err)
		}
	}

	if len(remaining) > 0 {
		return fmt.Errorf("%w: record chain too short for payload", mverr.ErrIO)
	}
	return nil
}

// PagesNeeded returns how many pages a payload of size n requires.
func (pf *File) PagesNeeded(n int) int {
	cap0 := pf.payloadCap() - firstPageExtra
	if n <= cap0 {
		return 1
	}
	n -= cap0
	capN := pf.payloadCap()
	return 1 + (n+capN-1)/capN
}

// Put allocates a fresh chain sized for data and writes it, returning the
// offset of the first page.
func (pf *File) Put(data []byte) (uint64, error) {
	n := pf.PagesNeeded(len(data))
	offsets, err := pf.Allocate(n)
	if err != nil {
		return 0, err
	}
	if err := pf.Write(offsets, data); err != nil {
		return 0, err
	}
	return offsets[0], nil
}

// Read follows the page chain starting at offset and returns its full
// payload.
func (pf *File) Read(offset uint64) ([]byte, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.readLocked(offset)
}

func (pf *File) readLocked(offset uint64) ([]byte, error) {
	next, payloadLen, err := pf.readPageHeaderLocked(offset)
	if err != nil {
		return nil, err
	}
	if int(payloadLen) < firstPageExtra {
		return nil, fmt.Errorf("%w: truncated record header at %d", mverr.ErrEndOfFile, offset)
	}

	first := make([]byte, payloadLen)
	if _, err := pf.f.ReadAt(first, int64(offset)+pageHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: read payload at %d: %v", mverr.ErrIO, offset, err)
	}
	total := binary.BigEndian.Uint32(first[0:4])

	out := make([]byte, 0, total)
	out = append(out, first[firstPageExtra:]...)

	cur := next
	for uint32(len(out)) < total {
		if cur == sentinelNext {
			return nil, fmt.Errorf("%w: record shorter than declared length", mverr.ErrEndOfFile)
		}
		n, payloadLen, err := pf.readPageHeaderLocked(cur)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, payloadLen)
		if _, err := pf.f.ReadAt(buf, int64(cur)+pageHeaderSize); err != nil {
			return nil, fmt.Errorf("%w: read payload at %d: %v", mverr.ErrIO, cur, err)
		}
		out = append(out, buf...)
		cur = n
	}

	if uint32(len(out)) > total {
		out = out[:total]
	}
	return out, nil
}

// Free walks the page chain starting at offset and threads every page of it
// onto the free list. Callers (pkg/mvcc) are responsible for only calling
// Free once no pinned reader can still reach the record.
func (pf *File) Free(offset uint64) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	cur := offset
	for cur != sentinelNext {
		next, _, err := pf.readPageHeaderLocked(cur)
		if err != nil {
			return err
		}
		if err := pf.pushFreeLocked(cur); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// Flush forces durability of all writes issued before the call, and then
// publishes the current header (free-list head included) so the state is
// recoverable on reopen.
func (pf *File) Flush() error {
	pf.mu.Lock()
	if err := pf.f.Sync(); err != nil {
		pf.mu.Unlock()
		return fmt.Errorf("%w: fsync: %v", mverr.ErrIO, err)
	}
	h := pf.header
	pf.mu.Unlock()
	return pf.SetHeader(h)
}

// Close flushes and releases the underlying file descriptor.
func (pf *File) Close() error {
	if err := pf.Flush(); err != nil {
		return err
	}
	return pf.f.Close()
}
