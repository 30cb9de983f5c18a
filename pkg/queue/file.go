package queue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/filesystem"
)

// File layout:
//
//	header:  int32 marker (-123456789) | int32 firstRecord | int32 lastRecord
//	records: int32 length | JSON payload
//
// All integers are big-endian. Records between firstRecord and lastRecord are
// live; RemoveFromHead only advances firstRecord, and the dead prefix is
// dropped by Persist once it grows beyond maxSlack bytes.
const (
	fileMarker         int32 = -123456789
	headerLength             = 3 * 4
	recordHeaderLength       = 4
	maxSlack                 = 100000
)

// FileOptions tune a FilePersister.
type FileOptions struct {
	// AutoSync fsyncs after every change
	AutoSync bool

	// Retries is how often a failed file operation is retried after
	// re-opening the file (default: 3)
	Retries int

	// RetryDelay is the pause before a retry (default: 3s)
	RetryDelay time.Duration
}

func (o *FileOptions) applyDefaults() {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 3 * time.Second
	}
}

// FilePersister stores a queue in a single append-only file.
//
// Thread safety: safe for concurrent use.
type FilePersister[T any] struct {
	fs      afero.Fs
	path    string
	newPath string
	opts    FileOptions

	mu    sync.Mutex
	file  afero.File
	first int64
	last  int64
	items []T
}

// OpenFilePersister opens (or creates) the queue file at path and loads its
// items.
//
// A leftover "<path>.new" from an interrupted compaction is adopted when the
// main file is missing. A truncated file is loaded up to the last complete
// record and a copy is kept as "<path>.<yyyyMMdd-HHmmss>.broken".
func OpenFilePersister[T any](fs afero.Fs, path string, opts FileOptions) (*FilePersister[T], error) {
	opts.applyDefaults()
	p := &FilePersister[T]{
		fs:      fs,
		path:    path,
		newPath: path + ".new",
		opts:    opts,
	}

	if !filesystem.Exists(fs, path) && filesystem.Exists(fs, p.newPath) {
		if err := fs.Rename(p.newPath, path); err != nil {
			return nil, fmt.Errorf("failed to rename %s to %s: %w", p.newPath, path, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openWithRetry(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilePersister[T]) openWithRetry() error {
	var err error
	for i := 0; ; i++ {
		if err = p.open(); err == nil {
			return nil
		}
		logger.Error("Error opening queue file '%s', trying to re-open: %v", p.path, err)
		p.closeQuietly()
		if i >= p.opts.Retries {
			return fmt.Errorf("failed to open queue file %s: %w", p.path, err)
		}
		time.Sleep(p.opts.RetryDelay)
	}
}

func (p *FilePersister[T]) open() error {
	f, err := p.fs.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	p.file = f

	info, err := f.Stat()
	if err != nil {
		return err
	}

	p.first, p.last = headerLength, headerLength
	if info.Size() >= headerLength {
		marker, first, last, err := readHeader(f)
		if err != nil {
			return err
		}
		if marker != fileMarker {
			return fmt.Errorf("%s is not a queue file (marker %d)", p.path, marker)
		}
		p.first, p.last = int64(first), int64(last)
		if p.first < 0 {
			p.first = headerLength
		}
		if p.last < 0 {
			p.last = 0
		}
	}

	items, complete, err := load[T](f, info.Size(), p.first, p.last)
	if err != nil {
		return err
	}
	p.items = items
	if !complete {
		broken := fmt.Sprintf("%s.%s.broken", p.path, time.Now().Format("20060102-150405"))
		logger.Error("Queue file '%s' is truncated; loaded %d items, keeping a copy as '%s'",
			p.path, len(items), broken)
		if err := filesystem.CopyFile(p.fs, p.path, broken); err != nil {
			return fmt.Errorf("failed to keep broken queue file: %w", err)
		}
	}

	// always start from a compact file
	return p.persistLocked()
}

func readHeader(r io.ReaderAt) (marker, first, last int32, err error) {
	var buf [headerLength]byte
	if _, err = r.ReadAt(buf[:], 0); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read queue header: %w", err)
	}
	marker = int32(binary.BigEndian.Uint32(buf[0:4]))
	first = int32(binary.BigEndian.Uint32(buf[4:8]))
	last = int32(binary.BigEndian.Uint32(buf[8:12]))
	return marker, first, last, nil
}

func writeHeader(w io.WriterAt, first, last int64) error {
	var buf [headerLength]byte
	marker := fileMarker
	binary.BigEndian.PutUint32(buf[0:4], uint32(marker))
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32(first)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(int32(last)))
	_, err := w.WriteAt(buf[:], 0)
	return err
}

// load reads the records in [first, last) of a file of size bytes. complete
// is false when the file ends inside a record or a record length points past
// the end of the queue.
func load[T any](r io.ReaderAt, size, first, last int64) (items []T, complete bool, err error) {
	end := min(last, size)
	pos := first
	var lenBuf [recordHeaderLength]byte
	for pos < last {
		if pos+recordHeaderLength > end {
			return items, false, nil
		}
		if _, err := r.ReadAt(lenBuf[:], pos); err != nil {
			if errors.Is(err, io.EOF) {
				return items, false, nil
			}
			return nil, false, err
		}
		n := int64(binary.BigEndian.Uint32(lenBuf[:]))
		if n > end-pos-recordHeaderLength {
			return items, false, nil
		}
		data := make([]byte, n)
		if _, err := r.ReadAt(data, pos+recordHeaderLength); err != nil {
			if errors.Is(err, io.EOF) {
				return items, false, nil
			}
			return nil, false, err
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, false, fmt.Errorf("failed to decode record at %d: %w", pos, err)
		}
		items = append(items, item)
		pos += n + recordHeaderLength
	}
	return items, true, nil
}

func encodeRecord[T any](item T) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue item: %w", err)
	}
	rec := make([]byte, recordHeaderLength+len(data))
	binary.BigEndian.PutUint32(rec, uint32(len(data)))
	copy(rec[recordHeaderLength:], data)
	return rec, nil
}

// withRetry runs op, re-opening the file between failed attempts.
func (p *FilePersister[T]) withRetry(what string, op func() error) error {
	var err error
	for i := 0; ; i++ {
		if p.file == nil {
			err = errors.New("queue file is not open")
		} else if err = op(); err == nil {
			return nil
		}
		logger.Error("Error %s queue file '%s', position %d, trying to re-open: %v", what, p.path, p.last, err)
		p.closeQuietly()
		if i >= p.opts.Retries {
			return fmt.Errorf("failed %s queue file %s: %w", what, p.path, err)
		}
		time.Sleep(p.opts.RetryDelay)
		if oerr := p.open(); oerr != nil {
			p.closeQuietly()
		}
	}
}

func (p *FilePersister[T]) AddToTail(item T) error {
	rec, err := encodeRecord(item)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.withRetry("adding to tail of", func() error {
		if _, err := p.file.WriteAt(rec, p.last); err != nil {
			return err
		}
		p.last += int64(len(rec))
		if err := writeHeader(p.file, p.first, p.last); err != nil {
			return err
		}
		if p.opts.AutoSync {
			return p.file.Sync()
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.items = append(p.items, item)
	return nil
}

func (p *FilePersister[T]) RemoveFromHead(T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return nil
	}
	if p.first > maxSlack {
		head := p.items
		p.items = p.items[1:]
		if err := p.persistLocked(); err != nil {
			p.items = head
			return fmt.Errorf("failed to compact queue file %s: %w", p.path, err)
		}
		return nil
	}

	err := p.withRetry("removing from head of", func() error {
		var lenBuf [recordHeaderLength]byte
		if _, err := p.file.ReadAt(lenBuf[:], p.first); err != nil {
			return err
		}
		p.first += int64(binary.BigEndian.Uint32(lenBuf[:])) + recordHeaderLength
		if err := writeHeader(p.file, p.first, p.last); err != nil {
			return err
		}
		if p.opts.AutoSync {
			return p.file.Sync()
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.items = p.items[1:]
	return nil
}

func (p *FilePersister[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.items...)
}

// Persist rewrites the file with the current items through "<path>.new" and
// a rename.
func (p *FilePersister[T]) Persist() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistLocked()
}

func (p *FilePersister[T]) persistLocked() error {
	p.closeQuietly()

	// ========================================================================
	// Step 1: Write the compacted file next to the live one
	// ========================================================================

	nf, err := p.fs.OpenFile(p.newPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", p.newPath, err)
	}
	pos := int64(headerLength)
	for _, item := range p.items {
		rec, err := encodeRecord(item)
		if err != nil {
			nf.Close()
			return err
		}
		if _, err := nf.WriteAt(rec, pos); err != nil {
			nf.Close()
			return fmt.Errorf("failed to write %s: %w", p.newPath, err)
		}
		pos += int64(len(rec))
	}
	if err := writeHeader(nf, headerLength, pos); err != nil {
		nf.Close()
		return fmt.Errorf("failed to write %s: %w", p.newPath, err)
	}
	if err := nf.Sync(); err != nil {
		nf.Close()
		return fmt.Errorf("failed to sync %s: %w", p.newPath, err)
	}
	if err := nf.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p.newPath, err)
	}

	// ========================================================================
	// Step 2: Swap it in and re-open
	// ========================================================================

	if err := p.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot delete file '%s': %w", p.path, err)
	}
	if err := p.fs.Rename(p.newPath, p.path); err != nil {
		return fmt.Errorf("cannot rename file '%s' to '%s': %w", p.newPath, p.path, err)
	}

	f, err := p.fs.OpenFile(p.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to re-open %s: %w", p.path, err)
	}
	p.file = f
	p.first, p.last = headerLength, pos
	return nil
}

// Check verifies that the header on disk matches the in-memory positions.
func (p *FilePersister[T]) Check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return fmt.Errorf("queue file %s is not open", p.path)
	}
	marker, first, last, err := readHeader(p.file)
	if err != nil {
		return err
	}
	if marker != fileMarker || int64(first) != p.first || int64(last) != p.last {
		return fmt.Errorf("queue file %s is inconsistent (marker=%d first=%d/%d last=%d/%d)",
			p.path, marker, first, p.first, last, p.last)
	}
	return nil
}

func (p *FilePersister[T]) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	return p.file.Sync()
}

func (p *FilePersister[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

func (p *FilePersister[T]) closeQuietly() {
	if p.file == nil {
		return
	}
	if err := p.file.Close(); err != nil {
		logger.Error("Error on closing file '%s': %v", p.path, err)
	}
	p.file = nil
}

// List reads the items of a queue file without opening it for writing. A
// missing file, or one too short to hold a header, yields an empty list. A
// truncated file yields the records before the damage. A file without the
// queue marker is an error.
func List[T any](fs afero.Fs, path string) ([]T, error) {
	src := path
	if !filesystem.Exists(fs, path) && filesystem.Exists(fs, path+".new") {
		src = path + ".new"
	}
	f, err := fs.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open queue file %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat queue file %s: %w", src, err)
	}
	if info.Size() < headerLength {
		return nil, nil
	}

	marker, first, last, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if marker != fileMarker {
		return nil, fmt.Errorf("%s is not a queue file", src)
	}
	items, _, err := load[T](f, info.Size(), int64(first), int64(last))
	return items, err
}
