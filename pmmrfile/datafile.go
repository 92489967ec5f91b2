package pmmrfile

import "errors"

// DataFile is a fixed-record-size append-only file of arbitrary typed
// records, used for the flat per-leaf side data kept alongside an MMR
// (coinbase maturity heights, output feature bytes, and so on) — the
// cases the original's template took a byte count for. Go has no
// compile-time constant generics, so the record size and the
// marshal/unmarshal pair are supplied at construction instead of being
// encoded in the type.
type DataFile[T any] struct {
	file      *AppendFile
	marshal   func(T) []byte
	unmarshal func([]byte) T
}

// OpenDataFile opens or creates a DataFile at path. recordSize must
// match the length every call to marshal produces.
func OpenDataFile[T any](path string, recordSize int, marshal func(T) []byte, unmarshal func([]byte) T) (*DataFile[T], error) {
	f, err := Open(path, recordSize)
	if err != nil {
		return nil, err
	}
	return &DataFile[T]{file: f, marshal: marshal, unmarshal: unmarshal}, nil
}

// Size returns the number of records currently stored.
func (d *DataFile[T]) Size() uint64 { return d.file.Size() }

// GetDataAt returns the record at pos and whether it was found (a
// position beyond the file's size, after prune-list shifting, reports
// found == false rather than an error).
func (d *DataFile[T]) GetDataAt(pos uint64) (value T, found bool, err error) {
	data, err := d.file.ReadAt(pos)
	if errors.Is(err, ErrOutOfRange) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return d.unmarshal(data), true, nil
}

// AddData appends value, returning the position it was written at.
func (d *DataFile[T]) AddData(value T) (uint64, error) {
	return d.file.Append(d.marshal(value))
}

// Rewind truncates the file down to size records.
func (d *DataFile[T]) Rewind(size uint64) error { return d.file.Rewind(size) }

// Flush persists the file to disk.
func (d *DataFile[T]) Flush() error { return d.file.Flush() }

// Discard abandons unflushed mutations.
func (d *DataFile[T]) Discard() { d.file.Discard() }
