// Package pmmrfile implements the fixed-record append-only file that
// backs every MMR-shaped log on disk (node hashes, kernels, outputs,
// range proofs). Records are written in memory as they're produced by a
// batch of work, and only become durable when the batch commits.
package pmmrfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrOutOfRange is returned by ReadAt for a position at or beyond the
// file's current size.
var ErrOutOfRange = errors.New("pmmrfile: position out of range")

// AppendFile is a fixed-record-size, append-only file with batch
// commit/rollback semantics: mutations (Append, Rewind) apply to an
// in-memory working copy immediately, visible to subsequent reads in the
// same batch, but only reach disk on Flush. Discard throws the working
// copy away and restores the state as of the last Flush (or Open).
type AppendFile struct {
	path       string
	recordSize int
	data       []byte
	durable    []byte
}

// Open loads path into memory, truncating any trailing partial record
// left by a previous crash. A missing file is treated as empty.
func Open(path string, recordSize int) (*AppendFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, err
	}

	if whole := len(data) - len(data)%recordSize; whole != len(data) {
		data = data[:whole]
	}

	durable := make([]byte, len(data))
	copy(durable, data)
	return &AppendFile{path: path, recordSize: recordSize, data: data, durable: durable}, nil
}

// Size returns the number of records currently in the file, including
// any appended since the last Flush.
func (f *AppendFile) Size() uint64 {
	return uint64(len(f.data) / f.recordSize)
}

// ReadAt returns a copy of the record at pos.
func (f *AppendFile) ReadAt(pos uint64) ([]byte, error) {
	if pos >= f.Size() {
		return nil, ErrOutOfRange
	}
	off := pos * uint64(f.recordSize)
	record := make([]byte, f.recordSize)
	copy(record, f.data[off:off+uint64(f.recordSize)])
	return record, nil
}

// Append writes record to the end of the file, returning the position
// it was written at.
func (f *AppendFile) Append(record []byte) (uint64, error) {
	if len(record) != f.recordSize {
		return 0, fmt.Errorf("pmmrfile: record is %d bytes, want %d", len(record), f.recordSize)
	}
	pos := f.Size()
	f.data = append(f.data, record...)
	return pos, nil
}

// AppendMany appends each record in order, returning the position the
// first one was written at.
func (f *AppendFile) AppendMany(records [][]byte) (uint64, error) {
	first := f.Size()
	for _, record := range records {
		if _, err := f.Append(record); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// Rewind truncates the file down to size records. size must not exceed
// the current size.
func (f *AppendFile) Rewind(size uint64) error {
	if size > f.Size() {
		return fmt.Errorf("pmmrfile: cannot rewind to size %d, current size is %d", size, f.Size())
	}
	f.data = f.data[:size*uint64(f.recordSize)]
	return nil
}

// Flush writes the working copy to disk, replacing the file atomically,
// and becomes the new Discard baseline.
func (f *AppendFile) Flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, f.data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return err
	}

	f.durable = make([]byte, len(f.data))
	copy(f.durable, f.data)
	return nil
}

// Discard abandons every Append/Rewind since the last Flush (or Open).
func (f *AppendFile) Discard() {
	f.data = make([]byte, len(f.durable))
	copy(f.data, f.durable)
}
